package iot

import (
	"context"
	"time"

	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

type IDevice interface {
	ProvisionDevice(ctx context.Context, deviceID int) (models.Region, error)
	RegisterDevice(ctx context.Context, device *models.Device) (models.RegisterStatus, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	DeleteDevice(ctx context.Context, deviceID int) error
}

type IReading interface {
	InsertIfChanged(ctx context.Context, deviceID int, candidate *models.Reading) (models.WriteOutcome, error)
	GetLatestReading(ctx context.Context, deviceID int) (*models.Reading, error)
}

type IAlert interface {
	CheckBattery(ctx context.Context, reading *models.Reading) (models.AlertDecision, error)
	GetDeviceAlerts(ctx context.Context, deviceID int) ([]models.Alert, error)
}

// CooldownStore holds expiring alert cooldown keys.
type CooldownStore interface {
	// SetIfAbsent sets key with ttl only if it is not already set, and reports whether it did.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error)
}

// LatestCache keeps the most recent stored reading of each device.
type LatestCache interface {
	SetLatest(ctx context.Context, reading *models.Reading) error
	GetLatest(ctx context.Context, deviceID int) (*models.Reading, bool, error)
}

type Broadcaster interface {
	Broadcast(reading *models.Reading)
}

type AlertNotifier interface {
	NotifyBatteryLow(ctx context.Context, alert *models.Alert, location string) error
}

type IOT struct {
	Store    store.Store
	Queue    *queue.WriteQueue
	Settings Settings

	Cooldown CooldownStore
	Latest   LatestCache
	Live     Broadcaster
	Notifier AlertNotifier

	Device  IDevice
	Reading IReading
	Alert   IAlert
}

type ServiceOpts struct {
	Device  IDevice
	Reading IReading
	Alert   IAlert
}

func (i *IOT) WithServices(opts ServiceOpts) *IOT {
	if opts.Device != nil {
		i.Device = opts.Device
	}
	if opts.Reading != nil {
		i.Reading = opts.Reading
	}
	if opts.Alert != nil {
		i.Alert = opts.Alert
	}
	return i
}

// WithDefaultServices wires the built-in implementations for any service still unset.
func (i *IOT) WithDefaultServices() *IOT {
	opts := ServiceOpts{}
	if i.Device == nil {
		opts.Device = i.GetIDevice()
	}
	if i.Reading == nil {
		opts.Reading = i.GetIReading()
	}
	if i.Alert == nil {
		opts.Alert = i.GetIAlert()
	}
	return i.WithServices(opts)
}

func (i *IOT) now() time.Time {
	if i.Settings.Location == nil {
		return time.Now()
	}
	return time.Now().In(i.Settings.Location)
}
