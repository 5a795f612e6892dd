package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"captain/internal/handlers"
	"captain/internal/middleware"
	"captain/internal/utils"
	"captain/pkg/logger"
	"captain/pkg/websocket"
)

// HealthCheck reports a dependency's readiness.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	JWTSecret      string
	AllowedOrigins []string
	WebSocketPath  string
	Logger         *logger.Logger
	Registry       *prometheus.Registry

	NotificationHandler *handlers.NotificationHandler
	DeviceHandler       *handlers.DeviceHandler
	OrderHandler        *handlers.OrderHandler
	MessageHandler      *handlers.MessageHandler
	WebSocketHandler    *websocket.Handler

	HealthChecks map[string]HealthCheck
}

// NewRouter builds the HTTP surface of the relay server.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))
	if deps.Logger != nil {
		router.Use(middleware.LoggingMiddleware(deps.Logger))
	}
	if deps.Registry != nil {
		router.Use(middleware.NewHTTPMetrics(deps.Registry).Middleware())
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	router.GET("/health", healthHandler(deps.HealthChecks))

	if deps.WebSocketHandler != nil {
		path := deps.WebSocketPath
		if path == "" {
			path = "/ws"
		}
		router.GET(path, middleware.AuthRequired(deps.JWTSecret), deps.WebSocketHandler.HandleWebSocket)
	}

	v1 := router.Group("/api/v1")
	{
		SetupNotificationRoutes(v1, deps.NotificationHandler, deps.DeviceHandler, deps.JWTSecret)
		SetupMessageRoutes(v1, deps.MessageHandler, deps.JWTSecret)
		SetupOrderRoutes(v1, deps.OrderHandler, deps.JWTSecret)
	}

	return router
}

// SetupNotificationRoutes sets up notification sync and device registration
func SetupNotificationRoutes(r *gin.RouterGroup, notificationHandler *handlers.NotificationHandler, deviceHandler *handlers.DeviceHandler, secret string) {
	if notificationHandler != nil {
		notifications := r.Group("/notifications")
		notifications.Use(middleware.AuthRequired(secret))
		{
			notifications.GET("", notificationHandler.ListNotifications)
			notifications.PUT("", notificationHandler.SyncNotifications)
			notifications.POST("", notificationHandler.CreateNotification)
		}
	}

	if deviceHandler != nil {
		devices := r.Group("/devices")
		devices.Use(middleware.AuthRequired(secret))
		{
			devices.POST("", deviceHandler.RegisterDevice)
		}
	}
}

func SetupMessageRoutes(r *gin.RouterGroup, messageHandler *handlers.MessageHandler, secret string) {
	if messageHandler == nil {
		return
	}
	conversations := r.Group("/conversations")
	conversations.Use(middleware.AuthRequired(secret))
	{
		conversations.GET("/:id/messages", messageHandler.GetConversationMessages)
	}
}

// SetupOrderRoutes exposes order announcements to administrators
func SetupOrderRoutes(r *gin.RouterGroup, orderHandler *handlers.OrderHandler, secret string) {
	if orderHandler == nil {
		return
	}
	orders := r.Group("/orders")
	orders.Use(middleware.AuthRequired(secret), middleware.AdminRequired())
	{
		orders.POST("/events", orderHandler.PublishOrderEvent)
	}
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		health := "healthy"
		if status != http.StatusOK {
			health = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":       health,
			"version":      utils.AppVersion,
			"dependencies": results,
		})
	}
}
