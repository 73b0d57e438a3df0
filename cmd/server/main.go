package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-dashboard/internal/auth"
	"go-dashboard/internal/chain"
	"go-dashboard/internal/clients"
	"go-dashboard/internal/config"
	"go-dashboard/internal/db"
	"go-dashboard/internal/events"
	"go-dashboard/internal/handlers"
	"go-dashboard/internal/middleware"
	"go-dashboard/internal/repository"
	"go-dashboard/internal/router"
	"go-dashboard/internal/services"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	database, err := db.InitDB(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, rate cache falls back to local memory")
			rdb = nil
		}
	}

	chainManager := chain.NewClientManager(cfg, logger)
	if err := chainManager.InitializeClients(); err != nil {
		logger.WithError(err).Fatal("failed to initialize chain clients")
	}
	defer chainManager.Close()

	ledger := clients.NewLedgerClient(cfg.Ledger, logger)
	jwtManager := auth.NewJWTManager(cfg.Auth)

	settingsRepo := repository.NewSettingsRepository(database)
	teamRepo := repository.NewTeamRepository(database)

	rateCache := services.NewRateCacheService(ledger, rdb, time.Duration(cfg.Payments.RateCacheTTL)*time.Second, logger)
	catalog := services.NewTokenCatalogService(cfg, ledger, logger)
	catalog.Start(5 * time.Minute)
	defer catalog.Stop()

	push := services.NewWebSocketPushService(cfg.CORS.AllowedOrigins, logger)

	reader := chain.NewBalanceReader(chainManager, logger)
	balanceService := services.NewBalanceService(cfg, catalog, reader, chainManager, rateCache, logger)
	withdrawalService := services.NewWithdrawalService(cfg, balanceService, chainManager, push, logger)

	queryEngine := services.NewPaymentQueryService(ledger, rateCache, catalog,
		cfg.Payments.PageSize, int32(cfg.Payments.DisplayDecimalPlaces), logger)

	updatePoller := services.NewUpdatePollService(ledger, queryEngine, push, logger)
	updatePoller.Start(time.Duration(cfg.Payments.UpdatePollInterval) * time.Second)
	defer updatePoller.Stop()

	if cfg.NATS.Enabled {
		subscriber, err := events.NewIPNSubscriber(cfg.NATS, queryEngine, push, logger)
		if err != nil {
			logger.WithError(err).Warn("nats unavailable, ipn results will not update live")
		} else {
			if err := subscriber.Subscribe(); err != nil {
				logger.WithError(err).Warn("ipn subscription failed")
			}
			defer subscriber.Close()
		}
	}

	authMW := middleware.NewAuthMiddleware(jwtManager, logger)
	engine := router.SetupRouter(cfg, authMW, teamRepo, router.Handlers{
		Auth:      handlers.NewAuthHandler(database, jwtManager, cfg.Auth, logger),
		Balances:  handlers.NewBalanceHandler(balanceService, catalog, ledger, settingsRepo, logger),
		Withdraw:  handlers.NewWithdrawHandler(withdrawalService, ledger, settingsRepo, logger),
		Payments:  handlers.NewPaymentHistoryHandler(queryEngine, settingsRepo, logger),
		Settings:  handlers.NewSettingsHandler(settingsRepo, queryEngine, logger),
		Team:      handlers.NewTeamHandler(teamRepo, logger),
		WebSocket: handlers.NewWebSocketHandler(jwtManager, push, logger),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("dashboard server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
