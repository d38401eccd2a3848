package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-settlement/internal/config"
	"github.com/iliyamo/parking-settlement/internal/handler"
	"github.com/iliyamo/parking-settlement/internal/middleware"
	"github.com/iliyamo/parking-settlement/internal/model"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Health     echo.HandlerFunc
	Detections *handler.DetectionHandler
	Sessions   *handler.SessionHandler
	Payments   *handler.PaymentHandler
	Read       *handler.ReadHandler
	Admin      *handler.AdminHandler
	Occupancy  echo.HandlerFunc
}

// Options carries the secrets and Redis-backed middleware settings.
type Options struct {
	JWTSecret      string
	CallbackSecret string
	Redis          *redis.Client // nil disables rate limiting and caching
	RateLimit      config.RateLimitConfig
	Cache          config.CacheConfig
}

// RegisterRoutes registers every route of the service on e.
func RegisterRoutes(e *echo.Echo, h Handlers, o Options) {
	limit := middleware.NewTokenBucket(o.RateLimit, o.Redis)
	cache := middleware.NewRedisCache(o.Cache, o.Redis)
	auth := middleware.JWTAuth(o.JWTSecret)

	e.GET("/healthz", h.Health)
	if h.Occupancy != nil {
		e.GET("/v1/ws/occupancy", h.Occupancy)
	}

	// Camera detections.
	det := e.Group("/v1/detections", auth, middleware.RequireRole(model.RoleDetector, model.RoleStaff), limit)
	det.POST("/entry", h.Detections.Entry)
	det.POST("/exit", h.Detections.Exit)

	// Processor callback: authenticated by body signature, not JWT.
	e.POST("/v1/payments/callback", h.Payments.Callback, limit, middleware.CallbackSignature(o.CallbackSecret))

	staff := e.Group("/v1/sessions", auth, middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
	staff.POST("/:id/close", h.Sessions.Close)
	staff.POST("/:id/settle", h.Sessions.Settle)

	e.POST("/v1/topups", h.Payments.TopUp, auth, middleware.RequireRole(model.RoleDriver), limit)

	read := e.Group("/v1", auth, middleware.RequireRole(model.RoleAdmin, model.RoleStaff, model.RoleClient), cache)
	read.GET("/sessions", h.Read.ListSessions)
	read.GET("/sessions/:id", h.Read.GetSession)
	read.GET("/alerts", h.Read.ListAlerts)
	read.GET("/balances/central", h.Read.CentralBalance)
	read.GET("/balances/clients/:id", h.Read.ClientBalance)
	read.GET("/balances/drivers/:id", h.Read.DriverBalance)
	read.GET("/payments/:id", h.Read.GetPayment)
	read.GET("/spaces/:id", h.Read.GetSpace)

	admin := e.Group("/v1/admin", auth, middleware.RequireRole(model.RoleAdmin))
	admin.POST("/reconcile", h.Admin.Reconcile)
}
