package models

import (
	"fmt"
	"time"
)

type AlertType string

const (
	AlertTypeBattery AlertType = "battery"
)

// Device is never physically removed; IsDeleted blocks auto-provisioning until re-registered.
type Device struct {
	ID         int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	LastUpdate time.Time `json:"last_update"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	IsDeleted  bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeviceRegion marks a device's append-only reading log as provisioned.
type DeviceRegion struct {
	DeviceID  int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
}

// Reading rows are append-only; ID gives the per-device insertion order.
type Reading struct {
	ID          uint       `gorm:"primaryKey;index:idx_readings_device_seq,priority:2" json:"id"`
	DeviceID    int        `gorm:"index:idx_readings_device_seq,priority:1;not null" json:"deviceId"`
	Temperature float64    `json:"temperature"`
	Humidity    float64    `json:"humidity"`
	Battery     *float64   `json:"battery"`
	Timestamp   time.Time  `gorm:"index" json:"timestamp"`
	ReportedAt  *time.Time `json:"reportedAt,omitempty"`
}

// SameValues reports whether r carries exactly the measurements of other.
func (r *Reading) SameValues(other *Reading) bool {
	if r == nil || other == nil {
		return false
	}
	if r.Temperature != other.Temperature || r.Humidity != other.Humidity {
		return false
	}
	if r.Battery == nil || other.Battery == nil {
		return r.Battery == nil && other.Battery == nil
	}
	return *r.Battery == *other.Battery
}

type Alert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  int       `gorm:"index" json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      AlertType `gorm:"type:varchar(20);check:type IN ('battery')" json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}

type PushSubscription struct {
	Endpoint  string `gorm:"primaryKey"`
	P256DH    string `gorm:"column:p256dh;not null"`
	Auth      string `gorm:"not null"`
	CreatedAt time.Time
}

// Region is the handle returned by provisioning.
type Region struct {
	DeviceID int
	Name     string
}

func RegionName(deviceID int) string {
	return fmt.Sprintf("device_%d", deviceID)
}

type WriteOutcome string

const (
	WriteOutcomeInserted  WriteOutcome = "inserted"
	WriteOutcomeUnchanged WriteOutcome = "unchanged"
)

type AlertDecision string

const (
	AlertDecisionNotBreached AlertDecision = "not_breached"
	AlertDecisionFired       AlertDecision = "fired"
	AlertDecisionSuppressed  AlertDecision = "suppressed"
)

// IngestResult is what an entry point learns about one reading.
type IngestResult struct {
	Outcome WriteOutcome  `json:"outcome"`
	Alert   AlertDecision `json:"alert"`
}

type RegisterStatus string

const (
	RegisterStatusCreated RegisterStatus = "success"
	RegisterStatusUpdated RegisterStatus = "updated"
)
