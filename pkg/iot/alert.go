package iot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

func CooldownKey(deviceID int) string {
	return fmt.Sprintf("alert:battery:device:%d", deviceID)
}

// checkBattery fires at most one alert per device per cooldown window. The
// cooldown is armed before any notifier runs.
func (i *IOT) checkBattery(ctx context.Context, reading *models.Reading) (models.AlertDecision, error) {
	if reading.Battery == nil || *reading.Battery >= i.Settings.BatteryThreshold {
		metrics.AlertDecisions.WithLabelValues(string(models.AlertDecisionNotBreached)).Inc()
		return models.AlertDecisionNotBreached, nil
	}

	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTAlert),
	)

	battery := *reading.Battery
	key := CooldownKey(reading.DeviceID)

	armed, err := i.Cooldown.SetIfAbsent(ctx, key, i.Settings.AlertCooldown)
	if err != nil {
		return "", fmt.Errorf("failed to arm cooldown %s: %w", key, err)
	}

	if !armed {
		remaining, _, err := i.Cooldown.TTLRemaining(ctx, key)
		if err != nil {
			logger.Warn("Failed to read cooldown TTL", zap.String("key", key), zap.Error(err))
		}
		logger.Info("Battery alert suppressed, device on cooldown",
			zap.Int("device_id", reading.DeviceID),
			zap.Float64("battery", battery),
			zap.Duration("remaining", remaining))
		metrics.AlertDecisions.WithLabelValues(string(models.AlertDecisionSuppressed)).Inc()
		return models.AlertDecisionSuppressed, nil
	}

	alert := models.Alert{
		DeviceID:  reading.DeviceID,
		Timestamp: i.now(),
		Type:      models.AlertTypeBattery,
		Value:     battery,
		Threshold: i.Settings.BatteryThreshold,
		Message:   fmt.Sprintf("Battery %.2fV below threshold %.2fV", battery, i.Settings.BatteryThreshold),
	}

	logger.Info("Alert found", zap.Reflect("alert", alert))

	if i.Notifier != nil {
		location := ""
		if device, err := i.Store.GetDevice(ctx, reading.DeviceID); err == nil {
			location = device.Location
		}
		if err := i.Notifier.NotifyBatteryLow(ctx, &alert, location); err != nil {
			err = fmt.Errorf("%w: %v", ErrNotifierUnreachable, err)
			alert.Error = err.Error()
			logger.Error("Failed to deliver battery alert", zap.Int("device_id", reading.DeviceID), zap.Error(err))
		} else {
			alert.Delivered = true
		}
	}

	if err := i.Queue.Submit(ctx, func() error {
		return i.Store.CreateAlert(ctx, &alert)
	}); err != nil {
		logger.Error("Failed to save alert", zap.Reflect("alert", alert), zap.Error(err))
	} else {
		logger.Info("Alert saved", zap.Reflect("alert", alert))
	}

	metrics.AlertDecisions.WithLabelValues(string(models.AlertDecisionFired)).Inc()
	return models.AlertDecisionFired, nil
}

func (i *IOT) getDeviceAlerts(ctx context.Context, deviceID int) ([]models.Alert, error) {
	if err := i.validDeviceID(deviceID); err != nil {
		return nil, err
	}
	return i.Store.ListAlerts(ctx, deviceID)
}

type IAlertImpl struct {
	iot *IOT
}

func (ia *IAlertImpl) CheckBattery(ctx context.Context, reading *models.Reading) (models.AlertDecision, error) {
	if ia.iot.Cooldown == nil {
		return "", errors.New("cooldown store not available")
	}
	return ia.iot.checkBattery(ctx, reading)
}

func (ia *IAlertImpl) GetDeviceAlerts(ctx context.Context, deviceID int) ([]models.Alert, error) {
	return ia.iot.getDeviceAlerts(ctx, deviceID)
}

func (i *IOT) GetIAlert() IAlert {
	return &IAlertImpl{iot: i}
}
