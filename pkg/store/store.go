package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adhiba.xyz/iot-climate-service/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Store defines every database operation the service performs.
type Store interface {
	GetDevice(ctx context.Context, id int) (*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	UpsertDevice(ctx context.Context, device *models.Device) (models.RegisterStatus, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	SoftDeleteDevice(ctx context.Context, id int) error
	TouchDevice(ctx context.Context, id int, at time.Time) error

	EnsureRegion(ctx context.Context, id int) (models.Region, error)
	RegionExists(ctx context.Context, id int) (bool, error)

	LastReading(ctx context.Context, id int) (*models.Reading, error)
	InsertReading(ctx context.Context, reading *models.Reading) error

	CreateAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context, id int) ([]models.Alert, error)

	SaveSubscription(ctx context.Context, sub *models.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error)

	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetDevice(ctx context.Context, id int) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).First(&device, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device %d: %w", id, err)
	}
	return &device, nil
}

func (s *gormStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device %d: %w", device.ID, err)
	}
	return nil
}

// UpsertDevice writes name and location and clears the deleted flag.
func (s *gormStore) UpsertDevice(ctx context.Context, device *models.Device) (models.RegisterStatus, error) {
	status := models.RegisterStatusCreated
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Device{}).Where("id = ?", device.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			status = models.RegisterStatusUpdated
			return tx.Model(&models.Device{}).Where("id = ?", device.ID).Updates(map[string]any{
				"name":       device.Name,
				"location":   device.Location,
				"is_active":  true,
				"is_deleted": false,
			}).Error
		}
		device.IsActive = true
		device.IsDeleted = false
		return tx.Create(device).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert device %d: %w", device.ID, err)
	}
	return status, nil
}

func (s *gormStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *gormStore) SoftDeleteDevice(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Updates(map[string]any{
		"is_active":  false,
		"is_deleted": true,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to delete device %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) TouchDevice(ctx context.Context, id int, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Update("last_update", at).Error
	if err != nil {
		return fmt.Errorf("failed to update last_update for device %d: %w", id, err)
	}
	return nil
}

// EnsureRegion creates the device's region row unless it already exists.
func (s *gormStore) EnsureRegion(ctx context.Context, id int) (models.Region, error) {
	region := models.DeviceRegion{DeviceID: id, Name: models.RegionName(id)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&region).Error
	if err != nil {
		return models.Region{}, fmt.Errorf("failed to create region for device %d: %w", id, err)
	}
	return models.Region{DeviceID: id, Name: region.Name}, nil
}

func (s *gormStore) RegionExists(ctx context.Context, id int) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.DeviceRegion{}).Where("device_id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up region for device %d: %w", id, err)
	}
	return count > 0, nil
}

// LastReading returns the most recently inserted reading, or nil when the log is empty.
func (s *gormStore) LastReading(ctx context.Context, id int) (*models.Reading, error) {
	var readings []models.Reading
	err := s.db.WithContext(ctx).
		Where("device_id = ?", id).
		Order("id desc").
		Limit(1).
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last reading for device %d: %w", id, err)
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

func (s *gormStore) InsertReading(ctx context.Context, reading *models.Reading) error {
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return fmt.Errorf("failed to insert reading for device %d: %w", reading.DeviceID, err)
	}
	return nil
}

func (s *gormStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to store alert for device %d: %w", alert.DeviceID, err)
	}
	return nil
}

func (s *gormStore) ListAlerts(ctx context.Context, id int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("device_id = ?", id).
		Order("timestamp desc").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for device %d: %w", id, err)
	}
	return alerts, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *models.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&models.PushSubscription{}, "endpoint = ?", endpoint).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
