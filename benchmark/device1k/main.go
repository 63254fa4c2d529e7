package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"adhiba.xyz/iot-climate-service/pkg/common"
	iotGrpc "adhiba.xyz/iot-climate-service/pkg/grpc"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

var maxDevices int = 1000
var httpHostPort string = "127.0.0.1:1080"
var grpcHostPort string = "127.0.0.1:10801"

var apiKey string
var grpcClient *iotGrpc.IngestClient

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
var rndMu sync.Mutex

var failures atomic.Int64

func main() {
	_ = godotenv.Load()
	apiKey = os.Getenv(common.EnvKeyIOTDeviceAPIKey)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", httpHostPort))
	if err != nil {
		log.Fatal("Failed to connect to HTTP server:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal("HTTP server not available")
	}

	fmt.Printf("http server verified\n")

	conn, err := grpc.NewClient(grpcHostPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal("Failed to connect to gRPC server:", err)
	}
	defer conn.Close()
	grpcClient = iotGrpc.NewIngestClient(conn)

	fmt.Printf("gRPC client connected\n")

	var startTime time.Time
	var usedTime time.Duration

	startTime = time.Now()
	wg := sync.WaitGroup{}
	for i := range maxDevices {
		wg.Add(1)
		go func() {
			registerDevice(i + 1)
			fmt.Printf("\rregistered device %v", i+1)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\rregistered %v devices: used time=%v seconds, throughput=%v action/second\n",
		maxDevices, usedTime.Seconds(), float64(maxDevices)/usedTime.Seconds(),
	)

	startTime = time.Now()
	wg = sync.WaitGroup{}
	for i := range maxDevices {
		wg.Add(1)
		go func() {
			doAction(i + 1)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\n\rdid actions for %v devices: used time=%v seconds, throughput=%v action/second, failures=%v\n",
		maxDevices, usedTime.Seconds(), float64(maxDevices*4)/usedTime.Seconds(), failures.Load(),
	)
}

func flipCoin() bool {
	rndMu.Lock()
	defer rndMu.Unlock()
	return rnd.Int31n(100000)%2 == 0
}

func rndFloat64(min, max float64, decimal int) float64 {
	rndMu.Lock()
	val := min + rnd.Float64()*(max-min)
	rndMu.Unlock()
	multiplier := math.Pow10(decimal)
	return math.Round(val*multiplier) / multiplier
}

func report(err error, format string, args ...any) {
	failures.Add(1)
	if err != nil {
		fmt.Printf("\nerror: %v\n", err)
		return
	}
	fmt.Printf("\n"+format+"\n", args...)
}

func registerDevice(deviceID int) {
	payload := map[string]any{
		"id":       deviceID,
		"name":     fmt.Sprintf("bench-%d", deviceID),
		"location": "bench",
	}
	jsonData, _ := json.Marshal(payload)
	resp, err := http.Post(fmt.Sprintf("http://%s/devices", httpHostPort), "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("register device %d: status %d", deviceID, resp.StatusCode))
	}
}

func doAction(deviceID int) {
	actions := []func(){
		genPostReadingAction(deviceID),
		genPostReadingAction(deviceID),
		genGetLatestAction(deviceID),
		genGetAlertsAction(deviceID),
	}
	actionNames := []string{
		"PostReading",
		"PostReading",
		"GetLatest",
		"GetAlerts",
	}
	rndMu.Lock()
	rnd.Shuffle(len(actions), func(i, j int) {
		actions[i], actions[j] = actions[j], actions[i]
		actionNames[i], actionNames[j] = actionNames[j], actionNames[i]
	})
	rndMu.Unlock()
	for index, action := range actions {
		action()
		fmt.Printf("\rexecuted action %v for device %v", actionNames[index], deviceID)
		rndMu.Lock()
		pause := time.Duration(100+rnd.Int31n(1000)) * time.Millisecond
		rndMu.Unlock()
		time.Sleep(pause)
	}
}

func genPostReadingAction(deviceID int) func() {
	return func() {
		battery := rndFloat64(3.0, 4.2, 2)
		reading := &models.Reading{
			DeviceID:    deviceID,
			Temperature: rndFloat64(15.0, 40.0, 1),
			Humidity:    rndFloat64(20.0, 90.0, 1),
			Battery:     &battery,
		}

		if flipCoin() {
			jsonData, _ := json.Marshal(map[string]any{
				"deviceId":    reading.DeviceID,
				"temperature": reading.Temperature,
				"humidity":    reading.Humidity,
				"battery":     battery,
				"timestamp":   time.Now().Format(time.RFC3339),
			})
			req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/iot/data", httpHostPort), bytes.NewBuffer(jsonData))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(common.HeaderDeviceAPIKey, apiKey)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				report(err, "")
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				report(nil, "post reading status %d for device %d", resp.StatusCode, deviceID)
			}
		} else {
			req, err := iotGrpc.NewReadingRequest(reading)
			if err != nil {
				report(err, "")
				return
			}
			ctx := metadata.AppendToOutgoingContext(context.Background(), common.HeaderDeviceAPIKey, apiKey)
			resp, err := grpcClient.PostReading(ctx, req)
			if err != nil {
				report(err, "")
				return
			}
			if !resp.GetFields()["success"].GetBoolValue() {
				report(nil, "response success = false: %v", resp)
			}
		}
	}
}

func genGetLatestAction(deviceID int) func() {
	return func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/devices/%d/latest", httpHostPort, deviceID))
		if err != nil {
			report(err, "")
			return
		}
		defer resp.Body.Close()
		// 404 is fine before the first reading lands
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			report(nil, "response status code %d for latest of device %d", resp.StatusCode, deviceID)
		}
	}
}

func genGetAlertsAction(deviceID int) func() {
	return func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/devices/%d/alerts", httpHostPort, deviceID))
		if err != nil {
			report(err, "")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			report(nil, "response status code %d for alerts of device %d", resp.StatusCode, deviceID)
		}
	}
}
