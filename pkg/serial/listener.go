package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

// Ingester accepts parsed readings; the IOT core and HTTPForwarder both satisfy it.
type Ingester interface {
	Ingest(ctx context.Context, reading *models.Reading) (models.IngestResult, error)
}

type Listener struct {
	Ingester Ingester
}

// Open opens a serial port in 8N1 mode at baud.
func Open(portName string, baud int) (serial.Port, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// Run feeds every line of r through the pipeline until r ends or ctx is done.
// Malformed lines and failed ingests are logged and skipped.
func (l *Listener) Run(ctx context.Context, r io.Reader) error {
	logger := common.GetLoggerWith(
		common.LoggerNameSerialListener,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTReading),
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reading, ok := ParseLine(line)
		if !ok {
			logger.Warn("Discarding malformed serial line", zap.String("line", line))
			continue
		}
		metrics.ReadingsReceived.WithLabelValues("serial").Inc()

		result, err := l.Ingester.Ingest(ctx, reading)
		if err != nil {
			logger.Error("Failed to ingest serial reading",
				zap.Int("device_id", reading.DeviceID),
				zap.Error(err))
			continue
		}
		logger.Debug("Serial reading ingested",
			zap.Int("device_id", reading.DeviceID),
			zap.String("outcome", string(result.Outcome)),
			zap.String("alert", string(result.Alert)))
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("serial read failed: %w", err)
	}
	return nil
}
