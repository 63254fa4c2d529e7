package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/serial"
)

const reconnectDelay = 5 * time.Second

// serial-bridge reads a gateway board's serial output and forwards each line
// to a remote POST /iot/data endpoint.
func main() {
	_ = godotenv.Load()

	logger := common.GetLoggerWith(common.LoggerNameSerialListener)

	portName := common.EnvOr(common.EnvKeyIOTSerialPort, "")
	if portName == "" {
		log.Fatal("IOT_SERIAL_PORT is required")
	}
	baud, err := common.EnvInt(common.EnvKeyIOTSerialBaud, 9600)
	if err != nil {
		log.Fatalf("Invalid %s: %v", common.EnvKeyIOTSerialBaud, err)
	}
	serverURL := common.EnvOr(common.EnvKeyIOTServerURL, "http://127.0.0.1:1080/iot/data")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := &serial.Listener{
		Ingester: serial.NewHTTPForwarder(serverURL, os.Getenv(common.EnvKeyIOTDeviceAPIKey)),
	}

	for ctx.Err() == nil {
		port, err := serial.Open(portName, baud)
		if err != nil {
			logger.Error("Serial port unavailable, retrying", zap.Error(err), zap.Duration("delay", reconnectDelay))
		} else {
			logger.Info("Forwarding serial readings",
				zap.String("port", portName), zap.Int("baud", baud), zap.String("server", serverURL))
			err = listener.Run(ctx, port)
			_ = port.Close()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Serial listener stopped, reconnecting", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}

	_ = logger.Sync()
}
