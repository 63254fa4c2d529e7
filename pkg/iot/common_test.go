package iot

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"adhiba.xyz/iot-climate-service/pkg/cache"
	"adhiba.xyz/iot-climate-service/pkg/db"
	"adhiba.xyz/iot-climate-service/pkg/iot/mocks"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

type testMocks struct {
	Device   *mocks.MockIDevice
	Reading  *mocks.MockIReading
	Alert    *mocks.MockIAlert
	Notifier *mocks.MockAlertNotifier
	Live     *mocks.MockBroadcaster
}

// GetMockIOTWithMemorySqliteDialector builds an IOT over its own in-memory
// database. The use* flags swap the real service for its mock.
func GetMockIOTWithMemorySqliteDialector(t *testing.T, useMockDevice, useMockReading, useMockAlert bool) (
	*gomock.Controller,
	*IOT,
	testMocks,
) {
	ctrl := gomock.NewController(t)

	m := testMocks{
		Device:   mocks.NewMockIDevice(ctrl),
		Reading:  mocks.NewMockIReading(ctrl),
		Alert:    mocks.NewMockIAlert(ctrl),
		Notifier: mocks.NewMockAlertNotifier(ctrl),
		Live:     mocks.NewMockBroadcaster(ctrl),
	}

	dbInstance, err := db.Open(db.UseIsolatedMemorySqliteDialector())
	require.NoError(t, err)

	q := queue.New(64)
	t.Cleanup(q.Close)

	memoryCache := cache.NewMemoryCache(time.Minute)
	settings := DefaultSettings()
	settings.Location = time.UTC

	iotInstance := &IOT{
		Store:    store.NewGormStore(dbInstance.Conn),
		Queue:    q,
		Settings: settings,
		Cooldown: memoryCache,
		Latest:   memoryCache,
	}

	deviceService := iotInstance.GetIDevice()
	if useMockDevice {
		deviceService = m.Device
	}

	readingService := iotInstance.GetIReading()
	if useMockReading {
		readingService = m.Reading
	}

	alertService := iotInstance.GetIAlert()
	if useMockAlert {
		alertService = m.Alert
	}

	iotInstance.WithServices(ServiceOpts{
		Device:  deviceService,
		Reading: readingService,
		Alert:   alertService,
	})

	return ctrl, iotInstance, m
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}

func batteryOf(v float64) *float64 {
	return &v
}
