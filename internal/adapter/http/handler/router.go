package handler

import (
	"chainpay-gateway/internal/adapter/http/middleware"
	redisStore "chainpay-gateway/internal/adapter/storage/redis"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc         ports.AuthService
	InvoiceSvc      ports.InvoiceService
	RefundSvc       ports.RefundService
	SubscriptionSvc ports.SubscriptionService
	WebhookSvc      ports.WebhookService
	RelaySvc        ports.RelayService
	Poller          PollerControl
	Builder         *chain.CallBuilder
	StoreRepo       ports.StoreRepository
	HashSvc         ports.HashService
	TokenSvc        ports.TokenService
	RateLimitStore  *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	invoiceHandler := NewInvoiceHandler(deps.InvoiceSvc, deps.RefundSvc, deps.RelaySvc)

	// Pay-call assembly is public: the caller is the paying customer, not the
	// merchant, and an unsigned call moves no funds.
	v1.POST("/invoices/:id/pay-call", rl("pay_calls"), invoiceHandler.PayCall)

	// --- API-key-authenticated routes (merchant API) ---
	apiKeyAuth := middleware.APIKeyAuth(deps.StoreRepo, deps.HashSvc, deps.Logger)
	subscriptionHandler := NewSubscriptionHandler(deps.SubscriptionSvc)

	invoices := v1.Group("/invoices", apiKeyAuth)
	{
		invoices.POST("", rl("invoices"), invoiceHandler.Create)
		invoices.GET("/:id", rl("invoices"), invoiceHandler.Get)
		invoices.POST("/:id/cancel-call", rl("invoices"), invoiceHandler.CancelCall)
		invoices.POST("/:id/refund-call", rl("refunds"), invoiceHandler.RefundCall)
	}

	subscriptions := v1.Group("/subscriptions", apiKeyAuth)
	{
		subscriptions.POST("", rl("subscriptions"), subscriptionHandler.Create)
		subscriptions.POST("/:id/cancel-call", rl("subscriptions"), subscriptionHandler.CancelCall)
	}

	transactions := v1.Group("/transactions", apiKeyAuth)
	{
		transactions.POST("", rl("invoices"), invoiceHandler.Broadcast)
	}

	// --- JWT-authenticated routes (operator surface) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	adminHandler := NewAdminHandler(deps.WebhookSvc, deps.AuthSvc, deps.StoreRepo, deps.Poller, deps.Builder)

	admin := v1.Group("/admin", jwtAuth)
	{
		admin.POST("/webhooks/:id/retry", rl("admin"), adminHandler.RetryWebhook)
		admin.GET("/poller", rl("admin"), adminHandler.PollerState)
		admin.POST("/poller/restart", rl("admin"), adminHandler.RestartPoller)
		admin.POST("/keys/rotate", rl("admin"), adminHandler.RotateKeys)
		admin.POST("/stores/:id/active", rl("admin"), adminHandler.SetStoreActive)
		admin.PUT("/asset", rl("admin"), adminHandler.SetAsset)
	}

	return r
}
