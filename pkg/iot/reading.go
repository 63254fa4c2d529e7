package iot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

func isLockError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func unavailable(deviceID int, err error) error {
	if errors.Is(err, ErrInvalidIdentifier) || errors.Is(err, ErrDeviceDeleted) || errors.Is(err, ErrRegionMissing) {
		return &DeviceUnavailableError{DeviceID: deviceID, Reason: err}
	}
	return err
}

// writeOnce provisions, compares against the last stored reading and, on change,
// inserts the reading and bumps last_update in a single transaction.
func (i *IOT) writeOnce(ctx context.Context, deviceID int, candidate *models.Reading) (models.WriteOutcome, error) {
	outcome := models.WriteOutcomeUnchanged

	err := i.Store.Transaction(ctx, func(tx store.Store) error {
		if _, err := i.provisionDevice(ctx, tx, deviceID); err != nil {
			return err
		}

		exists, err := tx.RegionExists(ctx, deviceID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: device %d", ErrRegionMissing, deviceID)
		}

		last, err := tx.LastReading(ctx, deviceID)
		if err != nil {
			return err
		}
		if last != nil && last.SameValues(candidate) {
			return nil
		}

		now := i.now()
		reading := &models.Reading{
			DeviceID:    deviceID,
			Temperature: candidate.Temperature,
			Humidity:    candidate.Humidity,
			Battery:     candidate.Battery,
			Timestamp:   now,
			ReportedAt:  candidate.ReportedAt,
		}
		if err := tx.InsertReading(ctx, reading); err != nil {
			return err
		}
		if err := tx.TouchDevice(ctx, deviceID, now); err != nil {
			return err
		}

		candidate.ID = reading.ID
		candidate.DeviceID = deviceID
		candidate.Timestamp = now
		outcome = models.WriteOutcomeInserted
		return nil
	})
	if err != nil {
		if isLockError(err) {
			return "", fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
		return "", unavailable(deviceID, err)
	}
	return outcome, nil
}

func (i *IOT) insertIfChanged(ctx context.Context, deviceID int, candidate *models.Reading) (models.WriteOutcome, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTReading),
	)

	logger.Debug("Received reading for device", zap.Int("device_id", deviceID), zap.Reflect("reading", candidate))

	var outcome models.WriteOutcome
	err := i.Queue.Submit(ctx, func() error {
		var err error
		outcome, err = i.writeOnce(ctx, deviceID, candidate)
		if errors.Is(err, ErrWriteConflict) {
			logger.Warn("Write conflict, retrying once",
				zap.Int("device_id", deviceID),
				zap.Duration("backoff", i.Settings.WriteRetryBackoff),
				zap.Error(err))
			time.Sleep(i.Settings.WriteRetryBackoff)
			outcome, err = i.writeOnce(ctx, deviceID, candidate)
		}
		if err == nil && outcome == models.WriteOutcomeInserted {
			i.publishLatest(ctx, candidate)
		}
		return err
	})
	if err != nil {
		var unavailableErr *DeviceUnavailableError
		if errors.As(err, &unavailableErr) {
			logger.Warn("Reading dropped, device unavailable", zap.Int("device_id", deviceID), zap.Error(err))
		} else {
			logger.Error("Failed to store reading", zap.Int("device_id", deviceID), zap.Error(err))
		}
		return "", err
	}

	if outcome == models.WriteOutcomeInserted {
		logger.Info("Inserted reading for device", zap.Int("device_id", deviceID), zap.Reflect("reading", candidate))
	} else {
		logger.Debug("Reading unchanged, skipped", zap.Int("device_id", deviceID))
	}
	return outcome, nil
}

// publishLatest runs inside the write job so cache updates and live events
// follow commit order.
func (i *IOT) publishLatest(ctx context.Context, reading *models.Reading) {
	if i.Latest != nil {
		// the row is committed; a caller hanging up must not leave the cache behind
		if err := i.Latest.SetLatest(context.WithoutCancel(ctx), reading); err != nil {
			common.GetLoggerWith(common.LoggerNameIOTCore).Warn("Failed to cache latest reading",
				zap.Int("device_id", reading.DeviceID), zap.Error(err))
		}
	}
	if i.Live != nil {
		i.Live.Broadcast(reading)
	}
}

// getLatestReading prefers the cache and falls back to the device's log.
func (i *IOT) getLatestReading(ctx context.Context, deviceID int) (*models.Reading, error) {
	if err := i.validDeviceID(deviceID); err != nil {
		return nil, err
	}
	if i.Latest != nil {
		reading, ok, err := i.Latest.GetLatest(ctx, deviceID)
		if err == nil && ok {
			return reading, nil
		}
		if err != nil {
			common.GetLoggerWith(common.LoggerNameIOTCore).Warn("Latest reading cache lookup failed", zap.Error(err))
		}
	}
	reading, err := i.Store.LastReading(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, store.ErrNotFound
	}
	return reading, nil
}

type IReadingImpl struct {
	iot *IOT
}

func (ir *IReadingImpl) InsertIfChanged(ctx context.Context, deviceID int, candidate *models.Reading) (models.WriteOutcome, error) {
	return ir.iot.insertIfChanged(ctx, deviceID, candidate)
}

func (ir *IReadingImpl) GetLatestReading(ctx context.Context, deviceID int) (*models.Reading, error) {
	return ir.iot.getLatestReading(ctx, deviceID)
}

func (i *IOT) GetIReading() IReading {
	return &IReadingImpl{iot: i}
}
