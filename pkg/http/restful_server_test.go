package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"adhiba.xyz/iot-climate-service/pkg/iot/mocks"
	_ "adhiba.xyz/iot-climate-service/pkg/testing"

	"adhiba.xyz/iot-climate-service/pkg/cache"
	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/db"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

const testAPIKey = "test-device-key"

func setupTestServerWithLimiter(t *testing.T, limiter *iot.RateLimiterStore) *RestfulServer {
	dbInstance, err := db.Open(db.UseIsolatedMemorySqliteDialector())
	require.NoError(t, err)

	q := queue.New(64)
	t.Cleanup(q.Close)

	memoryCache := cache.NewMemoryCache(time.Minute)
	settings := iot.DefaultSettings()
	settings.Location = time.UTC

	iotObj := &iot.IOT{
		Store:    store.NewGormStore(dbInstance.Conn),
		Queue:    q,
		Settings: settings,
		Cooldown: memoryCache,
		Latest:   memoryCache,
	}
	iotObj.WithDefaultServices()

	rs := &RestfulServer{
		Server:           gin.Default(),
		Iot:              iotObj,
		RateLimiterStore: limiter,
		DeviceAPIKey:     testAPIKey,
	}

	rs.Setup()

	return rs
}

func setupTestServer(t *testing.T) *RestfulServer {
	// default we use no limiter, if need, use setupTestServerWithLimiter
	return setupTestServerWithLimiter(t, nil)
}

func batteryOf(v float64) *float64 {
	return &v
}

func doJSON(rs *RestfulServer, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		payload, _ = json.Marshal(b)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	return w
}

func postReading(rs *RestfulServer, body any) *httptest.ResponseRecorder {
	return doJSON(rs, http.MethodPost, "/iot/data", body, map[string]string{common.HeaderDeviceAPIKey: testAPIKey})
}

func decodeReadingResponse(t *testing.T, w *httptest.ResponseRecorder) ReadingResponse {
	var resp ReadingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	rs := setupTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	rs.Server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rs := setupTestServer(t)

	rs.Server.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "climate_http_requests_total")
}

func TestPostReadingChangeDetection(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)

	reading := ReadingRequest{DeviceID: 5, Temperature: batteryOf(22.5), Humidity: batteryOf(40), Battery: batteryOf(3.9)}

	w := postReading(rs, reading)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeReadingResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, models.WriteOutcomeInserted, resp.Outcome)
	assert.Equal(t, models.AlertDecisionNotBreached, resp.Alert)

	w = postReading(rs, reading)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.WriteOutcomeUnchanged, decodeReadingResponse(t, w).Outcome)

	reading.Humidity = batteryOf(41)
	w = postReading(rs, reading)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.WriteOutcomeInserted, decodeReadingResponse(t, w).Outcome)

	w = doJSON(rs, http.MethodGet, "/devices/5/latest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest models.Reading
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, 5, latest.DeviceID)
	assert.Equal(t, 41.0, latest.Humidity)

	w = doJSON(rs, http.MethodGet, "/devices", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var devices []models.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "device_5", devices[0].Name)
}

func TestPostReadingKeepsClientTimestamp(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)

	w := postReading(rs, []byte(`{"deviceId":3,"temperature":0,"humidity":0,"timestamp":"2024-01-02T03:04:05Z"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	latest, err := rs.Iot.Store.LastReading(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.ReportedAt)
	assert.True(t, latest.ReportedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Nil(t, latest.Battery)
	assert.WithinDuration(t, time.Now(), latest.Timestamp, time.Minute)
}

func TestPostReadingBatteryAlert(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)

	w := postReading(rs, ReadingRequest{DeviceID: 7, Temperature: batteryOf(25), Humidity: batteryOf(50), Battery: batteryOf(3.2)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AlertDecisionFired, decodeReadingResponse(t, w).Alert)

	w = postReading(rs, ReadingRequest{DeviceID: 7, Temperature: batteryOf(25.5), Humidity: batteryOf(50), Battery: batteryOf(3.1)})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeReadingResponse(t, w)
	assert.Equal(t, models.WriteOutcomeInserted, resp.Outcome)
	assert.Equal(t, models.AlertDecisionSuppressed, resp.Alert)

	alertW := doJSON(rs, http.MethodGet, "/devices/7/alerts", nil, nil)
	assert.Equal(t, http.StatusOK, alertW.Code)

	var alerts []models.Alert
	require.NoError(t, json.Unmarshal(alertW.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeBattery, alerts[0].Type)
	assert.Equal(t, 3.2, alerts[0].Value)
}

func TestPostReading_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	{
		rs := setupTestServer(t)
		// missing or wrong key
		w := doJSON(rs, http.MethodPost, "/iot/data", ReadingRequest{DeviceID: 1, Temperature: batteryOf(1), Humidity: batteryOf(1)}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(rs, http.MethodPost, "/iot/data", ReadingRequest{DeviceID: 1, Temperature: batteryOf(1), Humidity: batteryOf(1)},
			map[string]string{common.HeaderDeviceAPIKey: "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	{
		rs := setupTestServer(t)
		// empty payload should be rejected
		w := postReading(rs, []byte("{}"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = postReading(rs, []byte(`{"deviceId":1,"temperature":20}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Missing required fields")
	}

	{
		rs := setupTestServer(t)
		// out of range id
		w := postReading(rs, ReadingRequest{DeviceID: 1001, Temperature: batteryOf(1), Humidity: batteryOf(1)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"success":false`)
		assert.Contains(t, w.Body.String(), iot.ErrInvalidIdentifier.Error())
	}

	{
		rs := setupTestServer(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		mockIReading := mocks.NewMockIReading(ctrl)
		rs.Iot.Reading = mockIReading
		mockIReading.EXPECT().
			InsertIfChanged(gomock.Any(), gomock.Eq(9), gomock.Any()).
			Return(models.WriteOutcome(""), fmt.Errorf("just causing error")).
			Times(1)

		w := postReading(rs, ReadingRequest{DeviceID: 9, Temperature: batteryOf(1), Humidity: batteryOf(1)})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, w.Body.String())
	}

	{
		rs := setupTestServer(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		mockIReading := mocks.NewMockIReading(ctrl)
		rs.Iot.Reading = mockIReading
		mockIReading.EXPECT().
			InsertIfChanged(gomock.Any(), gomock.Eq(9), gomock.Any()).
			Return(models.WriteOutcome(""), fmt.Errorf("twice: %w", iot.ErrWriteConflict)).
			Times(1)

		w := postReading(rs, ReadingRequest{DeviceID: 9, Temperature: batteryOf(1), Humidity: batteryOf(1)})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)

	w := doJSON(rs, http.MethodPost, "/devices", DeviceRequest{ID: 12, Name: "Greenhouse", Location: "Pune"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"success","message":"Device registered successfully"}`, w.Body.String())

	w = doJSON(rs, http.MethodPost, "/devices", DeviceRequest{ID: 12, Name: "Greenhouse 2", Location: "Pune"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"updated","message":"Device 12 updated successfully"}`, w.Body.String())

	w = doJSON(rs, http.MethodDelete, "/devices/12", nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// a deleted device refuses readings
	w = postReading(rs, ReadingRequest{DeviceID: 12, Temperature: batteryOf(1), Humidity: batteryOf(1)})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	// until registered again
	w = doJSON(rs, http.MethodPost, "/devices", DeviceRequest{ID: 12, Name: "Greenhouse"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = postReading(rs, ReadingRequest{DeviceID: 12, Temperature: batteryOf(1), Humidity: batteryOf(1)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDevice_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)

	w := doJSON(rs, http.MethodPost, "/devices", []byte("{}"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(rs, http.MethodPost, "/devices", DeviceRequest{ID: 5000}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(rs, http.MethodDelete, "/devices/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(rs, http.MethodDelete, "/devices/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(rs, http.MethodGet, "/devices/4/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	{
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		mockIAlert := mocks.NewMockIAlert(ctrl)
		rs.Iot.Alert = mockIAlert
		mockIAlert.EXPECT().
			GetDeviceAlerts(gomock.Any(), gomock.Eq(4)).
			Return(nil, fmt.Errorf("just causing error")).
			Times(1)

		w = doJSON(rs, http.MethodGet, "/devices/4/alerts", nil, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	{
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		mockIDevice := mocks.NewMockIDevice(ctrl)
		rs.Iot.Device = mockIDevice
		mockIDevice.EXPECT().
			ListDevices(gomock.Any()).
			Return(nil, fmt.Errorf("just causing error")).
			Times(1)

		w = doJSON(rs, http.MethodGet, "/devices", nil, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t)
	ctx := context.Background()

	body := []byte(`{"endpoint":"https://push.example.com/sub/1","keys":{"p256dh":"BPk","auth":"xyz"}}`)
	w := doJSON(rs, http.MethodPut, "/push/subscriptions", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	subs, err := rs.Iot.Store.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "BPk", subs[0].P256DH)
	assert.Equal(t, "xyz", subs[0].Auth)

	w = doJSON(rs, http.MethodPut, "/push/subscriptions", []byte(`{"endpoint":"https://push.example.com/sub/1"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(rs, http.MethodDelete, "/push/subscriptions", []byte(`{"endpoint":"https://push.example.com/sub/1"}`), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	subs, err = rs.Iot.Store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPostReadingWithLimiter(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServerWithLimiter(t, iot.NewRateLimiterStore(2, 2)) // 2 req/sec, burst 2

	reading := ReadingRequest{DeviceID: 21, Temperature: batteryOf(30), Humidity: batteryOf(60)}

	// Simulate 3 requests in quick succession — only 2 should be allowed
	for i := range 3 {
		w := postReading(rs, reading)

		if i < 2 {
			require.Equal(t, http.StatusOK, w.Code, "request %d should be allowed", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, w.Code, "request %d should be rate limited", i+1)
		}
	}

	w := doJSON(rs, http.MethodPost, "/devices/21/limiter", LimiterRequest{Rate: 2, Burst: 2}, nil)
	require.Equal(t, http.StatusOK, w.Code, "limiter request should be allowed")

	w = postReading(rs, reading)
	require.Equal(t, http.StatusOK, w.Code, "request after limiter reset should be allowed")
}

func TestPostLimiter_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServerWithLimiter(t, iot.NewRateLimiterStore(2, 2))

	// empty payload should be rejected
	w := doJSON(rs, http.MethodPost, "/devices/21/limiter", []byte("{}"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLimiter(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServerWithLimiter(t, iot.NewRateLimiterStore(0, 0)) // nothing passes

	{
		w := doJSON(rs, http.MethodGet, "/devices/33/alerts", nil, nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	}

	{
		w := doJSON(rs, http.MethodGet, "/devices/33/latest", nil, nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	}

	{
		w := postReading(rs, ReadingRequest{DeviceID: 33, Temperature: batteryOf(30), Humidity: batteryOf(60)})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	}
}

func TestLimiter_OutOfRangeDeviceID(t *testing.T) {
	common.SetTestLoggerNop()

	limiters := iot.NewRateLimiterStore(2, 2)
	rs := setupTestServerWithLimiter(t, limiters)

	for _, id := range []int{0, 1001, 999999} {
		for _, path := range []string{"/devices/%d/latest", "/devices/%d/alerts"} {
			w := doJSON(rs, http.MethodGet, fmt.Sprintf(path, id), nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, path, id)
		}
		w := doJSON(rs, http.MethodPost, fmt.Sprintf("/devices/%d/limiter", id), LimiterRequest{Rate: 2, Burst: 2}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = postReading(rs, ReadingRequest{DeviceID: id, Temperature: batteryOf(1), Humidity: batteryOf(1)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	assert.Equal(t, 0, limiters.Len(), "rejected ids must not get a limiter")

	w := doJSON(rs, http.MethodGet, "/devices/5/alerts", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, limiters.Len())
}

func TestSetLimiter_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer(t) // default without limiter store

	{
		// without limiter store setup limiter should be allowed and just return ok (but no effect)
		w := doJSON(rs, http.MethodPost, "/devices/40/limiter", LimiterRequest{Rate: 2, Burst: 2}, nil)
		require.Equal(t, http.StatusOK, w.Code, "limiter request should be allowed")
	}

	{
		// and request to alert should return empty alerts instead of too many requests
		w := doJSON(rs, http.MethodGet, "/devices/40/alerts", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequireDeviceAPIKeyDisabled(t *testing.T) {
	common.SetTestLoggerNop()

	rs := &RestfulServer{Server: gin.New()}
	rs.Server.GET("/x", rs.RequireDeviceAPIKey(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
