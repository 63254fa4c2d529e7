package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adhiba.xyz/iot-climate-service/pkg/cache"
	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/db"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/iot/mocks"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/store"
	_ "adhiba.xyz/iot-climate-service/pkg/testing"
)

const bufSize = 1024 * 1024

const testAPIKey = "test-device-key"

func newTestIOT(t *testing.T) *iot.IOT {
	dbInstance, err := db.Open(db.UseIsolatedMemorySqliteDialector())
	require.NoError(t, err)

	q := queue.New(64)
	t.Cleanup(q.Close)

	memoryCache := cache.NewMemoryCache(time.Minute)
	settings := iot.DefaultSettings()
	settings.Location = time.UTC

	iotCore := &iot.IOT{
		Store:    store.NewGormStore(dbInstance.Conn),
		Queue:    q,
		Settings: settings,
		Cooldown: memoryCache,
		Latest:   memoryCache,
	}
	return iotCore.WithDefaultServices()
}

func startTestServerWithInterceptor(t *testing.T, iotCore *iot.IOT, limiterStore *iot.RateLimiterStore) *IngestClient {
	listener := bufconn.Listen(bufSize)

	iotServer := IOTServer{Iot: iotCore, RateLimiterStore: limiterStore, DeviceAPIKey: testAPIKey}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		iotServer.CreateAPIKeyInterceptor([]string{IngestPostReadingMethod}),
		iotServer.CreateRateLimitInterceptor([]string{IngestPostReadingMethod}),
	))
	RegisterIngestServer(server, &iotServer)

	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewIngestClient(conn)
}

func startTestServer(t *testing.T) (*IngestClient, *iot.IOT) {
	iotCore := newTestIOT(t)
	return startTestServerWithInterceptor(t, iotCore, nil), iotCore
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), common.HeaderDeviceAPIKey, testAPIKey)
}

func readingRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestPostReading(t *testing.T) {
	common.SetTestLoggerNop()
	client, iotCore := startTestServer(t)

	battery := 3.9
	req, err := NewReadingRequest(&models.Reading{DeviceID: 8, Temperature: 24.5, Humidity: 55, Battery: &battery})
	require.NoError(t, err)

	resp, err := client.PostReading(authed(), req)
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, string(models.WriteOutcomeInserted), resp.GetFields()["outcome"].GetStringValue())
	assert.Equal(t, string(models.AlertDecisionNotBreached), resp.GetFields()["alert"].GetStringValue())

	resp, err = client.PostReading(authed(), req)
	require.NoError(t, err)
	assert.Equal(t, string(models.WriteOutcomeUnchanged), resp.GetFields()["outcome"].GetStringValue())

	last, err := iotCore.Store.LastReading(context.Background(), 8)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.NotNil(t, last.Battery)
	assert.Equal(t, 3.9, *last.Battery)
}

func TestPostReadingBatteryAlert(t *testing.T) {
	common.SetTestLoggerNop()
	client, iotCore := startTestServer(t)

	resp, err := client.PostReading(authed(), readingRequest(t, map[string]any{
		"deviceId": 2, "temperature": 20.0, "humidity": 30.0, "battery": 3.0,
	}))
	require.NoError(t, err)
	assert.Equal(t, string(models.AlertDecisionFired), resp.GetFields()["alert"].GetStringValue())

	alerts, err := iotCore.Alert.GetDeviceAlerts(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestPostReading_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()
	client, iotCore := startTestServer(t)

	cases := []struct {
		name   string
		ctx    context.Context
		fields map[string]any
		code   codes.Code
	}{
		{"no api key", context.Background(), map[string]any{"deviceId": 1, "temperature": 1.0, "humidity": 1.0}, codes.Unauthenticated},
		{"missing humidity", authed(), map[string]any{"deviceId": 1, "temperature": 1.0}, codes.InvalidArgument},
		{"missing device", authed(), map[string]any{"temperature": 1.0, "humidity": 1.0}, codes.InvalidArgument},
		{"fractional device", authed(), map[string]any{"deviceId": 1.5, "temperature": 1.0, "humidity": 1.0}, codes.InvalidArgument},
		{"string temperature", authed(), map[string]any{"deviceId": 1, "temperature": "hot", "humidity": 1.0}, codes.InvalidArgument},
		{"out of range", authed(), map[string]any{"deviceId": 5000, "temperature": 1.0, "humidity": 1.0}, codes.InvalidArgument},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.PostReading(tc.ctx, readingRequest(t, tc.fields))
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}

	// deleted devices are refused
	_, err := iotCore.Device.RegisterDevice(context.Background(), &models.Device{ID: 4, Name: "porch"})
	require.NoError(t, err)
	require.NoError(t, iotCore.Device.DeleteDevice(context.Background(), 4))

	_, err = client.PostReading(authed(), readingRequest(t, map[string]any{"deviceId": 4, "temperature": 1.0, "humidity": 1.0}))
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestPostReadingServiceErrors(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	iotCore := newTestIOT(t)
	mockIReading := mocks.NewMockIReading(ctrl)
	iotCore.WithServices(iot.ServiceOpts{Reading: mockIReading})
	client := startTestServerWithInterceptor(t, iotCore, nil)

	gomock.InOrder(
		mockIReading.EXPECT().
			InsertIfChanged(gomock.Any(), gomock.Eq(6), gomock.Any()).
			Return(models.WriteOutcome(""), fmt.Errorf("still locked: %w", iot.ErrWriteConflict)),
		mockIReading.EXPECT().
			InsertIfChanged(gomock.Any(), gomock.Eq(6), gomock.Any()).
			Return(models.WriteOutcome(""), fmt.Errorf("test error")),
	)

	req := readingRequest(t, map[string]any{"deviceId": 6, "temperature": 1.0, "humidity": 1.0})

	_, err := client.PostReading(authed(), req)
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = client.PostReading(authed(), req)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, err.Error(), "test error")
}

func TestRateLimitInterceptor_PostReading(t *testing.T) {
	common.SetTestLoggerNop()

	limiterStore := iot.NewRateLimiterStore(2, 2) // Allow 2 req/sec per device
	client := startTestServerWithInterceptor(t, newTestIOT(t), limiterStore)

	ctx := authed()
	req := readingRequest(t, map[string]any{"deviceId": 11, "temperature": 35.0, "humidity": 10.0})

	// First 2 requests should pass
	for i := range 2 {
		_, err := client.PostReading(ctx, req)
		require.NoError(t, err, "expected request %d to pass", i+1)
	}

	// 3rd request should fail immediately
	_, err := client.PostReading(ctx, req)
	require.Error(t, err, "expected third request to be rate limited")

	st, ok := status.FromError(err)
	require.True(t, ok, "expected gRPC status error")
	require.Equal(t, codes.ResourceExhausted, st.Code(), "expected ResourceExhausted code")

	// reset the limiter
	resp, err := client.PostLimiter(ctx, readingRequest(t, map[string]any{"deviceId": 11, "rate": 3.0, "burst": 2}))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["success"].GetBoolValue())

	// Should pass again
	_, err = client.PostReading(ctx, req)
	require.NoError(t, err, "expected request after limiter reset to pass")
}

func TestRateLimitInterceptor_OutOfRangeDeviceID(t *testing.T) {
	common.SetTestLoggerNop()

	limiterStore := iot.NewRateLimiterStore(2, 2)
	client := startTestServerWithInterceptor(t, newTestIOT(t), limiterStore)

	for _, id := range []int{0, 1001, 999999} {
		_, err := client.PostReading(authed(), readingRequest(t, map[string]any{"deviceId": id, "temperature": 1.0, "humidity": 1.0}))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))

		_, err = client.PostLimiter(authed(), readingRequest(t, map[string]any{"deviceId": id, "rate": 3.0, "burst": 2}))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	}

	assert.Equal(t, 0, limiterStore.Len(), "rejected ids must not get a limiter")
}

func TestPostLimiter_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()
	client, _ := startTestServer(t)

	_, err := client.PostLimiter(authed(), readingRequest(t, map[string]any{"deviceId": 11}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// without limiter store setting limiter has no effect
	resp, err := client.PostLimiter(authed(), readingRequest(t, map[string]any{"deviceId": 11, "rate": 3.0, "burst": 2}))
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["success"].GetBoolValue())
}
