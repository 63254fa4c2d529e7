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

// Ingest runs one reading through the pipeline shared by every entry point:
// change-detecting write, then the battery gate. The write also refreshes the
// latest-reading cache and the live feed. It returns only once the write has
// been committed or skipped.
func (i *IOT) Ingest(ctx context.Context, reading *models.Reading) (models.IngestResult, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTReading),
	)

	if i.Reading == nil {
		return models.IngestResult{}, fmt.Errorf("reading service not available")
	}
	if i.Alert == nil {
		return models.IngestResult{}, fmt.Errorf("alert service not available")
	}

	outcome, err := i.Reading.InsertIfChanged(ctx, reading.DeviceID, reading)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			metrics.ReadingsWritten.WithLabelValues("unavailable").Inc()
		} else {
			metrics.ReadingsWritten.WithLabelValues("error").Inc()
		}
		return models.IngestResult{}, err
	}
	metrics.ReadingsWritten.WithLabelValues(string(outcome)).Inc()

	result := models.IngestResult{Outcome: outcome, Alert: models.AlertDecisionNotBreached}

	decision, err := i.Alert.CheckBattery(ctx, reading)
	if err != nil {
		// the reading is already stored; a broken gate must not fail the ingest
		logger.Error("Battery check failed", zap.Int("device_id", reading.DeviceID), zap.Error(err))
		return result, nil
	}
	result.Alert = decision

	return result, nil
}
