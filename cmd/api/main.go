package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpay-gateway/config"
	httpHandler "chainpay-gateway/internal/adapter/http/handler"
	pgStorage "chainpay-gateway/internal/adapter/storage/postgres"
	redisStorage "chainpay-gateway/internal/adapter/storage/redis"
	"chainpay-gateway/internal/chain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/internal/service"
	"chainpay-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("network", cfg.Chain.Network).
		Str("contract", cfg.Chain.ContractID()).
		Msg("Starting ChainPay Gateway")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	invoiceRepo := pgStorage.NewInvoiceRepo(pool)
	subscriptionRepo := pgStorage.NewSubscriptionRepo(pool)
	webhookLogRepo := pgStorage.NewWebhookLogRepo(pool)
	cursorRepo := pgStorage.NewCursorRepo(pool)
	storeRepo := pgStorage.NewStoreRepo(pool)

	// Initialize Redis stores
	replayStore := redisStorage.NewReplayStore(rdb)
	priceCache := redisStorage.NewPriceCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize chain access
	chainClient := chain.NewClient(cfg.Chain, log)
	asset := chain.AssetInfo{
		Address:      cfg.Chain.AssetAddress,
		ContractName: cfg.Chain.AssetContract,
		TokenName:    cfg.Chain.AssetName,
	}
	builder := chain.NewCallBuilder(cfg.Chain.ContractAddress, cfg.Chain.ContractName, cfg.Chain.Network, asset)
	normalizer := chain.NewNormalizer(cfg.Chain.ContractID(), invoiceRepo, log)
	reorgGuard := chain.NewReorgGuard(chainClient, cfg.Poller.ReorgWindowBlocks, log)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	webhookSigner := service.NewWebhookSigner(replayStore, cfg.Webhook.MaxSkew, cfg.Webhook.ReplayTTL)

	// Initialize business services
	authSvc := service.NewAuthService(storeRepo, hashSvc, encSvc, tokenSvc)
	priceSvc := service.NewPriceService(cfg.PriceFeed, priceCache, nil, log)
	invoiceSvc := service.NewInvoiceService(
		invoiceRepo,
		storeRepo,
		chainClient,
		priceSvc,
		builder,
		cfg.Invoice,
		cfg.Chain.AssetDecimals,
		log,
	)
	refundSvc := service.NewRefundService(invoiceRepo, chainClient, builder, log)
	relaySvc := service.NewRelayService(chainClient, cfg.Broadcast, log)

	webhookSvc := service.NewWebhookDeliveryService(
		webhookLogRepo,
		storeRepo,
		encSvc,
		webhookSigner,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		cfg.Webhook.RetryInterval,
		log,
	)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, storeRepo, chainClient, builder, webhookSvc, log)

	// Background workers
	poller := service.NewPaymentPoller(
		invoiceRepo,
		subscriptionRepo,
		cursorRepo,
		chainClient,
		normalizer,
		reorgGuard,
		webhookSvc,
		cfg.Poller,
		log,
	)
	scheduler := service.NewSubscriptionScheduler(subscriptionRepo, invoiceSvc, chainClient, webhookSvc, cfg.Subscription, log)

	poller.Start()
	scheduler.Start()
	webhookSvc.Start()

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:         authSvc,
		InvoiceSvc:      invoiceSvc,
		RefundSvc:       refundSvc,
		SubscriptionSvc: subscriptionSvc,
		WebhookSvc:      webhookSvc,
		RelaySvc:        relaySvc,
		Poller:          poller,
		Builder:         builder,
		StoreRepo:       storeRepo,
		HashSvc:         hashSvc,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  []ports.HealthChecker{pgHealth, redisHealth},
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	// Workers first so no new webhook deliveries or ticks start while the
	// HTTP server drains.
	poller.Stop()
	scheduler.Stop()
	webhookSvc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
