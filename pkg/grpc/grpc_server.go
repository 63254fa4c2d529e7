package grpc

import (
	"golang.org/x/time/rate"

	"adhiba.xyz/iot-climate-service/pkg/iot"
)

type IOTServer struct {
	Iot              *iot.IOT
	RateLimiterStore *iot.RateLimiterStore
	// DeviceAPIKey is compared with the x-api-key metadata. Empty disables the check.
	DeviceAPIKey string
}

func (i *IOTServer) GetLimiter(deviceID int) *rate.Limiter {
	if i.RateLimiterStore == nil {
		return nil
	} else {
		return i.RateLimiterStore.GetLimiter(deviceID)
	}
}

func (i *IOTServer) CheckDeviceLimiter(deviceID int) bool {
	limiter := i.GetLimiter(deviceID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}
