package iot

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIdentifier   = errors.New("invalid device id")
	ErrDeviceDeleted       = errors.New("device is deleted")
	ErrRegionMissing       = errors.New("device storage region missing")
	ErrDeviceUnavailable   = errors.New("device unavailable")
	ErrWriteConflict       = errors.New("write conflict")
	ErrNotifierUnreachable = errors.New("notifier unreachable")
)

// DeviceUnavailableError reports a reading that could not be stored for its device.
// It matches ErrDeviceUnavailable and its Reason.
type DeviceUnavailableError struct {
	DeviceID int
	Reason   error
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("device %d unavailable: %v", e.DeviceID, e.Reason)
}

func (e *DeviceUnavailableError) Unwrap() []error {
	return []error{ErrDeviceUnavailable, e.Reason}
}
