package http

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
)

type RestfulServer struct {
	Server           *gin.Engine
	Iot              *iot.IOT
	RateLimiterStore *iot.RateLimiterStore
	// Live serves the dashboard websocket when set.
	Live http.Handler
	// DeviceAPIKey guards the ingestion route. Empty disables the check.
	DeviceAPIKey string
}

func (rs *RestfulServer) GetLimiter(deviceID int) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(deviceID)
	}
}

func (rs *RestfulServer) CheckDeviceLimiter(deviceID int) bool {
	limiter := rs.GetLimiter(deviceID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rs *RestfulServer) SetLimiter(deviceID int, deviceRate float64, deviceBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(deviceID, rate.Limit(deviceRate), deviceBurst)
}

// RequireDeviceAPIKey rejects requests whose x-api-key header does not match.
func (rs *RestfulServer) RequireDeviceAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.DeviceAPIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader(common.HeaderDeviceAPIKey)
		if subtle.ConstantTimeCompare([]byte(key), []byte(rs.DeviceAPIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// RecordMetrics counts and times every request by its route pattern.
func RecordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func (rs *RestfulServer) Setup() {
	rs.Server.Use(RecordMetrics())

	rs.Server.GET("/healthz", rs.HealthCheck)
	rs.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if rs.Live != nil {
		rs.Server.GET("/ws", gin.WrapH(rs.Live))
	}

	rs.Server.POST("/iot/data", rs.RequireDeviceAPIKey(), rs.PostReading)

	rs.Server.POST("/devices", rs.PostDevice)
	rs.Server.GET("/devices", rs.GetDevices)

	devices := rs.Server.Group("/devices/:device_id")
	{
		devices.DELETE("", rs.DeleteDevice)
		devices.GET("/latest", rs.GetLatestReading)
		devices.GET("/alerts", rs.GetAlerts)
		devices.POST("/limiter", rs.PostLimiter)
	}

	push := rs.Server.Group("/push/subscriptions")
	{
		push.PUT("", rs.PutSubscription)
		push.DELETE("", rs.DeleteSubscription)
	}
}
