package iot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

func (i *IOT) validDeviceID(deviceID int) error {
	if deviceID < 1 || deviceID > i.Settings.MaxDevices {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidIdentifier, deviceID, i.Settings.MaxDevices)
	}
	return nil
}

// ValidateDeviceID rejects ids outside 1..MaxDevices with ErrInvalidIdentifier.
func (i *IOT) ValidateDeviceID(deviceID int) error {
	return i.validDeviceID(deviceID)
}

// provisionDevice auto-creates unknown devices and their region. Soft-deleted
// devices are refused and left untouched.
func (i *IOT) provisionDevice(ctx context.Context, s store.Store, deviceID int) (models.Region, error) {
	if err := i.validDeviceID(deviceID); err != nil {
		return models.Region{}, err
	}

	device, err := s.GetDevice(ctx, deviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		device = &models.Device{
			ID:         deviceID,
			Name:       models.RegionName(deviceID),
			LastUpdate: i.now(),
			IsActive:   true,
		}
		if err := s.CreateDevice(ctx, device); err != nil {
			return models.Region{}, err
		}
		common.GetLoggerWith(
			common.LoggerNameIOTCore,
			zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTDevice),
		).Info("Auto-provisioned device", zap.Int("device_id", deviceID))
	case err != nil:
		return models.Region{}, err
	case device.IsDeleted:
		return models.Region{}, fmt.Errorf("%w: device %d", ErrDeviceDeleted, deviceID)
	}

	return s.EnsureRegion(ctx, deviceID)
}

func (i *IOT) registerDevice(ctx context.Context, device *models.Device) (models.RegisterStatus, error) {
	if err := i.validDeviceID(device.ID); err != nil {
		return "", err
	}
	if device.Name == "" {
		device.Name = models.RegionName(device.ID)
	}
	device.LastUpdate = i.now()

	var status models.RegisterStatus
	err := i.Queue.Submit(ctx, func() error {
		return i.Store.Transaction(ctx, func(tx store.Store) error {
			var err error
			if status, err = tx.UpsertDevice(ctx, device); err != nil {
				return err
			}
			_, err = tx.EnsureRegion(ctx, device.ID)
			return err
		})
	})
	if err != nil {
		return "", err
	}

	common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTDevice),
	).Info("Registered device", zap.Int("device_id", device.ID), zap.String("status", string(status)))

	return status, nil
}

func (i *IOT) deleteDevice(ctx context.Context, deviceID int) error {
	if err := i.validDeviceID(deviceID); err != nil {
		return err
	}
	return i.Queue.Submit(ctx, func() error {
		return i.Store.SoftDeleteDevice(ctx, deviceID)
	})
}

type IDeviceImpl struct {
	iot *IOT
}

func (id *IDeviceImpl) ProvisionDevice(ctx context.Context, deviceID int) (models.Region, error) {
	var region models.Region
	err := id.iot.Queue.Submit(ctx, func() error {
		var err error
		region, err = id.iot.provisionDevice(ctx, id.iot.Store, deviceID)
		return err
	})
	return region, err
}

func (id *IDeviceImpl) RegisterDevice(ctx context.Context, device *models.Device) (models.RegisterStatus, error) {
	return id.iot.registerDevice(ctx, device)
}

func (id *IDeviceImpl) ListDevices(ctx context.Context) ([]models.Device, error) {
	return id.iot.Store.ListDevices(ctx)
}

func (id *IDeviceImpl) DeleteDevice(ctx context.Context, deviceID int) error {
	return id.iot.deleteDevice(ctx, deviceID)
}

func (i *IOT) GetIDevice() IDevice {
	return &IDeviceImpl{iot: i}
}
