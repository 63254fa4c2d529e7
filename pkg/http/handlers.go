package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"
)

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, iot.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, iot.ErrDeviceUnavailable), errors.Is(err, iot.ErrDeviceDeleted):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, iot.ErrWriteConflict), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

func (rs *RestfulServer) abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		common.GetLoggerWith(common.LoggerNameRestfulServer).Error("Request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": errorMessage(status, err)})
}

// deviceIDParam parses and range-checks :device_id before any per-device state is touched.
func (rs *RestfulServer) deviceIDParam(c *gin.Context) (int, bool) {
	deviceID, err := strconv.Atoi(c.Param("device_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "device_id must be an integer"})
		return 0, false
	}
	if err := rs.Iot.ValidateDeviceID(deviceID); err != nil {
		rs.abortWithError(c, err)
		return 0, false
	}
	return deviceID, true
}

type ReadingRequest struct {
	DeviceID    int        `json:"deviceId" zog:"deviceId"`
	Temperature *float64   `json:"temperature" zog:"temperature"`
	Humidity    *float64   `json:"humidity" zog:"humidity"`
	Battery     *float64   `json:"battery,omitempty" zog:"battery"`
	Timestamp   *time.Time `json:"timestamp,omitempty" zog:"timestamp"`
}

var readingRequestSchema = z.Struct(z.Shape{
	"DeviceID":    z.Int().Required(),
	"Temperature": z.Ptr(z.Float64()),
	"Humidity":    z.Ptr(z.Float64()),
	"Battery":     z.Ptr(z.Float64()),
	"Timestamp":   z.Ptr(z.Time()),
})

type ReadingResponse struct {
	Success bool                 `json:"success"`
	Outcome models.WriteOutcome  `json:"outcome"`
	Alert   models.AlertDecision `json:"alert"`
}

// PostReading acknowledges a device reading only after it has been committed
// or recognised as a duplicate of the last stored one.
func (rs *RestfulServer) PostReading(c *gin.Context) {
	var req ReadingRequest
	// decoded with encoding/json so a 0 measurement still counts as present
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Malformed request body"})
		return
	}
	if err := readingRequestSchema.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields", "issues": err})
		return
	}
	if req.Temperature == nil || req.Humidity == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields"})
		return
	}

	if err := rs.Iot.ValidateDeviceID(req.DeviceID); err != nil {
		rs.abortWithError(c, err)
		return
	}

	if !rs.CheckDeviceLimiter(req.DeviceID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	metrics.ReadingsReceived.WithLabelValues("http").Inc()

	result, err := rs.Iot.Ingest(c.Request.Context(), &models.Reading{
		DeviceID:    req.DeviceID,
		Temperature: *req.Temperature,
		Humidity:    *req.Humidity,
		Battery:     req.Battery,
		ReportedAt:  req.Timestamp,
	})
	if err != nil {
		rs.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReadingResponse{Success: true, Outcome: result.Outcome, Alert: result.Alert})
}

type DeviceRequest struct {
	ID       int    `json:"id" zog:"id"`
	Name     string `json:"name" zog:"name"`
	Location string `json:"location" zog:"location"`
}

var deviceRequestSchema = z.Struct(z.Shape{
	"ID":       z.Int().Required(),
	"Name":     z.String().Trim().Optional(),
	"Location": z.String().Trim().Optional(),
})

func (rs *RestfulServer) PostDevice(c *gin.Context) {
	var req DeviceRequest
	if err := deviceRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	status, err := rs.Iot.Device.RegisterDevice(c.Request.Context(), &models.Device{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		rs.abortWithError(c, err)
		return
	}

	message := "Device registered successfully"
	if status == models.RegisterStatusUpdated {
		message = "Device " + strconv.Itoa(req.ID) + " updated successfully"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "message": message})
}

func (rs *RestfulServer) GetDevices(c *gin.Context) {
	devices, err := rs.Iot.Device.ListDevices(c.Request.Context())
	if err != nil {
		rs.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (rs *RestfulServer) DeleteDevice(c *gin.Context) {
	deviceID, ok := rs.deviceIDParam(c)
	if !ok {
		return
	}

	if err := rs.Iot.Device.DeleteDevice(c.Request.Context(), deviceID); err != nil {
		rs.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (rs *RestfulServer) GetLatestReading(c *gin.Context) {
	deviceID, ok := rs.deviceIDParam(c)
	if !ok {
		return
	}

	if !rs.CheckDeviceLimiter(deviceID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	reading, err := rs.Iot.Reading.GetLatestReading(c.Request.Context(), deviceID)
	if err != nil {
		rs.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (rs *RestfulServer) GetAlerts(c *gin.Context) {
	deviceID, ok := rs.deviceIDParam(c)
	if !ok {
		return
	}

	if !rs.CheckDeviceLimiter(deviceID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	var alerts []models.Alert
	var err error
	if alerts, err = rs.Iot.Alert.GetDeviceAlerts(c.Request.Context(), deviceID); err != nil {
		rs.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"rate":  z.Float64().Required(),
	"burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	deviceID, ok := rs.deviceIDParam(c)
	if !ok {
		return
	}

	var req LimiterRequest
	if err := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rs.SetLimiter(deviceID, req.Rate, req.Burst)

	c.Status(http.StatusOK)
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
