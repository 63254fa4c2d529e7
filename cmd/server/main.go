package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"adhiba.xyz/iot-climate-service/pkg/cache"
	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/db"
	iotGrpc "adhiba.xyz/iot-climate-service/pkg/grpc"
	iotHttp "adhiba.xyz/iot-climate-service/pkg/http"
	"adhiba.xyz/iot-climate-service/pkg/iot"
	"adhiba.xyz/iot-climate-service/pkg/live"
	"adhiba.xyz/iot-climate-service/pkg/notify"
	"adhiba.xyz/iot-climate-service/pkg/queue"
	"adhiba.xyz/iot-climate-service/pkg/serial"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

const writeQueueCapacity = 1024

func openDatabase() *db.DB {
	iotDbType := strings.TrimSpace(os.Getenv(common.EnvKeyIOTDBType))
	switch iotDbType {
	case "file", "":
		return db.GetInstance(db.UseSqliteDialector())
	case "memory":
		return db.GetInstance(db.UseMemorySqliteDialector())
	case "postgres":
		return db.GetInstance(db.UsePostgresDialector())
	default:
		log.Fatal("Unknown IOT_DB_TYPE: " + iotDbType)
	}
	return nil
}

type cacheBackend interface {
	iot.CooldownStore
	iot.LatestCache
}

func openCache(logger *zap.Logger) (cacheBackend, func()) {
	addr := common.EnvOr(common.EnvKeyIOTRedisAddr, "")
	if addr == "" {
		logger.Info("Using in-process cooldown store and latest-reading cache")
		return cache.NewMemoryCache(10 * time.Minute), func() {}
	}

	redisDB, err := common.EnvInt(common.EnvKeyIOTRedisDB, 0)
	if err != nil {
		log.Fatalf("Invalid %s: %v", common.EnvKeyIOTRedisDB, err)
	}
	redisCache, err := cache.NewRedisCache(addr, os.Getenv(common.EnvKeyIOTRedisPassword), redisDB)
	if err != nil {
		log.Fatalf("failed to connect to redis at %s: %v", addr, err)
	}
	logger.Info("Using redis cooldown store and latest-reading cache", zap.String("addr", addr))
	return redisCache, func() { _ = redisCache.Close() }
}

func buildNotifier(ctx context.Context, logger *zap.Logger, s store.Store, settings iot.Settings) iot.AlertNotifier {
	var pushers []notify.Pusher

	if appID, apiKey := os.Getenv(common.EnvKeyOneSignalAppID), os.Getenv(common.EnvKeyOneSignalAPIKey); appID != "" && apiKey != "" {
		pushers = append(pushers, notify.NewOneSignalPusher(appID, apiKey))
	}

	if pub, priv := os.Getenv(common.EnvKeyVAPIDPublicKey), os.Getenv(common.EnvKeyVAPIDPrivateKey); pub != "" && priv != "" {
		pushers = append(pushers, notify.NewWebPusher(s, pub, priv, common.EnvOr(common.EnvKeyVAPIDSubject, "mailto:admin@example.com")))
	}

	var mailer notify.Mailer
	gmail, err := notify.NewGmailMailer(ctx, notify.GmailConfig{
		ClientID:     os.Getenv(common.EnvKeyGmailClientID),
		ClientSecret: os.Getenv(common.EnvKeyGmailClientSecret),
		RefreshToken: os.Getenv(common.EnvKeyGmailRefreshToken),
		From:         os.Getenv(common.EnvKeyMailUser),
	})
	if err != nil {
		logger.Warn("Email alerts disabled", zap.Error(err))
	} else {
		mailer = gmail
	}

	logger.Info("Notifier configured",
		zap.Int("push_channels", len(pushers)),
		zap.Bool("email", mailer != nil && settings.AlertEmail != ""))

	return notify.NewDispatcher(mailer, settings.AlertEmail, pushers...)
}

func main() {
	var err error

	err = godotenv.Load()
	if err != nil && !common.IsProduction() {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	logger := common.GetLogger()

	settings, err := iot.LoadSettingsFromEnv()
	if err != nil {
		// bad keys keep their defaults
		logger.Warn("Some settings were invalid, defaults used", zap.Error(err))
	}
	if settings.DeviceAPIKey == "" {
		logger.Warn("IOT_DEVICE_API_KEY not set, reading ingestion is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbInstance := openDatabase()
	writeQueue := queue.New(writeQueueCapacity)
	backend, closeCache := openCache(logger)
	hub := live.NewHub()
	gormStore := store.NewGormStore(dbInstance.Conn)

	iotCore := &iot.IOT{
		Store:    gormStore,
		Queue:    writeQueue,
		Settings: settings,
		Cooldown: backend,
		Latest:   backend,
		Live:     hub,
		Notifier: buildNotifier(ctx, logger, gormStore, settings),
	}
	iotCore.WithDefaultServices()

	defaultLimiter := fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", float64(settings.DefaultRate), settings.DefaultBurst)

	var grpcServer *grpc.Server
	grpcHostPort := strings.TrimSpace(os.Getenv(common.EnvKeyIOTGrpcHostPort))
	if grpcHostPort != "" {
		iotGrpcServer := iotGrpc.IOTServer{
			Iot:              iotCore,
			RateLimiterStore: iot.NewRateLimiterStore(settings.DefaultRate, settings.DefaultBurst),
			DeviceAPIKey:     settings.DeviceAPIKey,
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
			iotGrpcServer.CreateAPIKeyInterceptor([]string{iotGrpc.IngestPostReadingMethod, iotGrpc.IngestPostLimiterMethod}),
			iotGrpcServer.CreateRateLimitInterceptor([]string{iotGrpc.IngestPostReadingMethod}),
		))
		iotGrpc.RegisterIngestServer(grpcServer, &iotGrpcServer)
		logger.Info("gRPC server created with:", zap.String("default_limiter", defaultLimiter))

		listener, err := net.Listen("tcp", grpcHostPort)
		if err != nil {
			log.Fatalf("failed to listen: %v", err)
		}

		go func() {
			logger.Info("start gRPC server on " + grpcHostPort)
			if err := grpcServer.Serve(listener); err != nil {
				logger.Error("grpc server failed to serve", zap.Error(err))
			}
		}()
	}

	if portName := strings.TrimSpace(os.Getenv(common.EnvKeyIOTSerialPort)); portName != "" {
		baud, err := common.EnvInt(common.EnvKeyIOTSerialBaud, 9600)
		if err != nil {
			log.Fatalf("Invalid %s: %v", common.EnvKeyIOTSerialBaud, err)
		}
		port, err := serial.Open(portName, baud)
		if err != nil {
			// a missing board must not keep the HTTP and gRPC ingest down
			logger.Error("Serial listener disabled", zap.Error(err))
		} else {
			listener := &serial.Listener{Ingester: iotCore}
			go func() {
				defer port.Close()
				logger.Info("Listening on serial port", zap.String("port", portName), zap.Int("baud", baud))
				if err := listener.Run(ctx, port); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Serial listener stopped", zap.Error(err))
				}
			}()
		}
	}

	httpHostPort := common.EnvOr(common.EnvKeyIOTHttpHostPort, ":1080")

	rs := &iotHttp.RestfulServer{
		Server:           gin.Default(),
		Iot:              iotCore,
		RateLimiterStore: iot.NewRateLimiterStore(settings.DefaultRate, settings.DefaultBurst),
		Live:             hub,
		DeviceAPIKey:     settings.DeviceAPIKey,
	}
	rs.Setup()

	logger.Info("http server created with:", zap.String("default_limiter", defaultLimiter))

	httpServer := &http.Server{
		Addr:    httpHostPort,
		Handler: rs.Server,
	}

	go func() {
		logger.Info("Starting HTTP server on: " + httpHostPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed to serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	hub.Close()
	// in-flight writes finish before the database goes away
	writeQueue.Close()
	closeCache()
	_ = logger.Sync()
}
