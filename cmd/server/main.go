package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"captain/internal/config"
	"captain/internal/handlers"
	"captain/internal/repositories/mongodb"
	"captain/internal/services"
	"captain/pkg/cache"
	"captain/pkg/database"
	"captain/pkg/logger"
	"captain/pkg/push"
	"captain/pkg/websocket"
	"captain/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:   logger.LogLevel(cfg.App.LogLevel),
		Format:  cfg.App.LogFormat,
		Output:  cfg.App.LogOutput,
		AppName: cfg.App.Name,
		Version: cfg.App.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (err error) {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewMongoDB(ctx, &database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if err := database.NewMigrator(db.Database, log).Up(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	chatService := services.NewChatService(mongodb.NewMessageRepository(db.Database), log)
	hub := websocket.NewHub(chatService, websocket.NewHubMetrics(registry), log)
	go hub.Run()
	defer hub.Stop()

	healthChecks := map[string]routes.HealthCheck{"mongodb": db.Ping}

	var broadcaster services.Broadcaster = hub
	if cfg.Redis.Enabled {
		redisCache, redisErr := cache.NewRedisCache(&cache.RedisConfig{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if redisErr != nil {
			return fmt.Errorf("failed to connect to redis: %w", redisErr)
		}
		defer func() { err = multierr.Append(err, redisCache.Close()) }()

		fanout := services.NewFanout(redisCache, cfg.Redis.EventChannel, hub, log)
		go func() {
			if err := fanout.Run(ctx); err != nil {
				log.WithError(err).Error("Fanout stopped")
			}
		}()
		broadcaster = fanout
		healthChecks["redis"] = redisCache.Ping
	}

	dispatcher, err := newPushDispatcher(ctx, cfg.Push, log)
	if err != nil {
		return err
	}

	notificationService := services.NewNotificationService(
		mongodb.NewNotificationRepository(db.Database),
		mongodb.NewDeviceRepository(db.Database),
		broadcaster,
		dispatcher,
		log,
	)

	router := routes.NewRouter(routes.Dependencies{
		JWTSecret:           cfg.Security.JWTSecret,
		AllowedOrigins:      cfg.Security.CORSAllowedOrigins,
		WebSocketPath:       cfg.WebSocket.Path,
		Logger:              log,
		Registry:            registry,
		NotificationHandler: handlers.NewNotificationHandler(notificationService),
		DeviceHandler:       handlers.NewDeviceHandler(notificationService),
		OrderHandler:        handlers.NewOrderHandler(services.NewOrderService(broadcaster)),
		MessageHandler:      handlers.NewMessageHandler(chatService),
		WebSocketHandler:    websocket.NewHandler(hub, cfg.WebSocket),
		HealthChecks:        healthChecks,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newPushDispatcher(ctx context.Context, cfg *config.PushConfig, log *logger.Logger) (*push.Dispatcher, error) {
	var fcm, apns push.PushProvider

	if cfg.Provider == "fcm" || cfg.Provider == "all" {
		provider, err := push.NewFCMProvider(ctx, cfg.FCM.ProjectID, cfg.FCM.Credentials)
		if err != nil {
			return nil, err
		}
		fcm = provider
	}
	if cfg.Provider == "apns" || cfg.Provider == "all" {
		provider, err := push.NewAPNSProvider(cfg.APNS.KeyFile, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.BundleID, cfg.APNS.Production)
		if err != nil {
			return nil, err
		}
		apns = provider
	}

	dispatcher := push.NewDispatcher(fcm, apns)
	if !dispatcher.Enabled() {
		log.Info("Push delivery disabled")
	}
	return dispatcher, nil
}
