package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	z "github.com/Oudwins/zog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/queue"
)

func floatField(s *structpb.Struct, name string) (*float64, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		return &n, nil
	default:
		return nil, fmt.Errorf("%s must be a number", name)
	}
}

func intField(s *structpb.Struct, name string) (*int, error) {
	f, err := floatField(s, name)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	n := int(*f)
	return &n, nil
}

type readingMessage struct {
	DeviceID    *int
	Temperature *float64
	Humidity    *float64
	Battery     *float64
}

var readingMessageValidator = z.Struct(z.Shape{
	"DeviceID":    z.Ptr(z.Int()).NotNil(),
	"Temperature": z.Ptr(z.Float64()).NotNil(),
	"Humidity":    z.Ptr(z.Float64()).NotNil(),
	"Battery":     z.Ptr(z.Float64()),
})

func decodeReading(req *structpb.Struct) (*models.Reading, error) {
	var msg readingMessage
	var err error
	if msg.DeviceID, err = intField(req, "deviceId"); err != nil {
		return nil, err
	}
	if msg.Temperature, err = floatField(req, "temperature"); err != nil {
		return nil, err
	}
	if msg.Humidity, err = floatField(req, "humidity"); err != nil {
		return nil, err
	}
	if msg.Battery, err = floatField(req, "battery"); err != nil {
		return nil, err
	}

	if issues := readingMessageValidator.Validate(&msg); issues != nil {
		return nil, fmt.Errorf("missing required fields: %v", issues)
	}

	return &models.Reading{
		DeviceID:    *msg.DeviceID,
		Temperature: *msg.Temperature,
		Humidity:    *msg.Humidity,
		Battery:     msg.Battery,
	}, nil
}

// NewReadingRequest encodes a reading the way PostReading expects it.
func NewReadingRequest(reading *models.Reading) (*structpb.Struct, error) {
	fields := map[string]any{
		"deviceId":    reading.DeviceID,
		"temperature": reading.Temperature,
		"humidity":    reading.Humidity,
	}
	if reading.Battery != nil {
		fields["battery"] = *reading.Battery
	}
	return structpb.NewStruct(fields)
}

// statusFromError maps pipeline errors onto gRPC status codes.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, iot.ErrInvalidIdentifier):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, iot.ErrDeviceUnavailable), errors.Is(err, iot.ErrDeviceDeleted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, iot.ErrWriteConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, queue.ErrQueueClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *IOTServer) PostReading(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	reading, err := decodeReading(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation error: %v", err)
	}

	metrics.ReadingsReceived.WithLabelValues("grpc").Inc()

	result, err := s.Iot.Ingest(ctx, reading)
	if err != nil {
		st := statusFromError(err)
		if status.Code(st) == codes.Internal {
			common.GetLoggerWith(common.LoggerNameGrpcServer).Error("PostReading failed",
				zap.Int("device_id", reading.DeviceID), zap.Error(err))
		}
		return nil, st
	}

	return structpb.NewStruct(map[string]any{
		"success": true,
		"outcome": string(result.Outcome),
		"alert":   string(result.Alert),
	})
}

func (s *IOTServer) PostLimiter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	deviceID, err := intField(req, "deviceId")
	if err != nil || deviceID == nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation error: deviceId is required")
	}
	deviceRate, err := floatField(req, "rate")
	if err != nil || deviceRate == nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation error: rate is required")
	}
	deviceBurst, err := intField(req, "burst")
	if err != nil || deviceBurst == nil {
		return nil, status.Errorf(codes.InvalidArgument, "validation error: burst is required")
	}

	if s.RateLimiterStore == nil {
		return structpb.NewStruct(map[string]any{
			"success": false,
			"message": "RateLimiterStore is not used. No effect.",
		})
	}
	if err := s.Iot.ValidateDeviceID(*deviceID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.RateLimiterStore.SetLimiter(*deviceID, rate.Limit(*deviceRate), *deviceBurst)
	return structpb.NewStruct(map[string]any{"success": true, "message": "OK"})
}
