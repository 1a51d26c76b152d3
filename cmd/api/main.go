package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/samaki-checkout/internal/config"
	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/gateway"
	"github.com/josh-kwaku/samaki-checkout/internal/handler"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
	"github.com/josh-kwaku/samaki-checkout/internal/middleware"
	"github.com/josh-kwaku/samaki-checkout/internal/realtime"
	"github.com/josh-kwaku/samaki-checkout/internal/reconciler"
	"github.com/josh-kwaku/samaki-checkout/internal/repository"
	"github.com/josh-kwaku/samaki-checkout/internal/service"
	"github.com/josh-kwaku/samaki-checkout/internal/service/checkout"
)

const reconnectInterval = 5 * time.Second

// realtimeChannel is what the process needs from either realtime driver.
type realtimeChannel interface {
	reconciler.Channel
	service.Publisher
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("samaki-checkout", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connectDB(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := repository.NewDB(db)
	attempts := repository.NewAttemptRepository(db)
	orders := repository.NewOrderRepository(db)
	webhooks := repository.NewWebhookEventRepository(db)

	mux := http.NewServeMux()

	channel, closeChannel := setupRealtime(ctx, cfg, logger, mux)
	defer closeChannel()

	checkoutSvc := checkout.NewService(
		gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.WebhookCallbackURL, cfg.GatewayTimeout),
		channel,
		attempts,
		orders,
		checkout.Config{
			Timeout:       cfg.PaymentTimeout,
			PollInterval:  cfg.PaymentPollInterval,
			CheckTimeout:  cfg.PaymentCheckTimeout,
			CallbackEvent: cfg.RealtimeCallbackEvent,
			Phones:        domain.NewPhoneFormat(cfg.PhoneCountryCode),
		},
		logger,
	)
	if err := checkoutSvc.Recover(ctx); err != nil {
		logger.Error("failed to recover abandoned attempts", "error", err)
	}

	relay := service.NewCallbackRelay(webhooks, store, channel, cfg.RealtimeCallbackEvent, logger, cfg.RelayInterval)
	go relay.Start(ctx)

	healthHandler := handler.NewHealthHandler(store, channel)
	checkoutHandler := handler.NewCheckoutHandler(checkoutSvc)
	webhookHandler := handler.NewWebhookHandler(webhooks, cfg.WebhookSecret)

	docsHandler, err := handler.NewDocsHandler(handler.OpenAPISpec, "/docs/openapi.yaml")
	if err != nil {
		logger.Error("failed to build docs page", "error", err)
		os.Exit(1)
	}

	authMW := middleware.Auth(cfg.JWTSecret)

	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.HandleFunc("GET /docs", docsHandler.UI)
	mux.HandleFunc("GET /docs/openapi.yaml", docsHandler.Spec)

	mux.Handle("POST /api/v1/checkout/{session}/payments", authMW(http.HandlerFunc(checkoutHandler.StartPayment)))
	mux.Handle("GET /api/v1/checkout/{session}/payments/current", authMW(http.HandlerFunc(checkoutHandler.GetCurrent)))
	mux.Handle("POST /api/v1/checkout/{session}/payments/current/cancel", authMW(http.HandlerFunc(checkoutHandler.Cancel)))
	mux.Handle("POST /api/v1/checkout/{session}/payments/current/check", authMW(http.HandlerFunc(checkoutHandler.CheckNow)))

	mux.HandleFunc("POST /api/v1/webhooks/mobile-money", webhookHandler.ReceiveGatewayCallback)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestID(middleware.Logging(logger)(middleware.Recovery(mux))),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", addr, "realtime_driver", cfg.RealtimeDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checkoutSvc.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupRealtime builds the shared realtime connection for the configured
// driver. In websocket mode this process also hosts the relay hub.
func setupRealtime(ctx context.Context, cfg *config.Config, logger *slog.Logger, mux *http.ServeMux) (realtimeChannel, func()) {
	switch cfg.RealtimeDriver {
	case config.RealtimeDriverNATS:
		nc := realtime.NewNATSChannel(cfg.NATSURL, logger)
		if err := nc.Connect(ctx); err != nil {
			logger.Warn("nats unavailable at startup, reconcilers will poll", "error", err)
		}
		return nc, nc.Close

	default:
		token := cfg.RealtimeRelayToken
		if token == "" {
			token = uuid.NewString()
			logger.Warn("REALTIME_RELAY_TOKEN not set, generated an ephemeral relay token; external relay clients will be rejected")
		}

		hub := realtime.NewHub(logger, token)
		go hub.Run(ctx)
		mux.HandleFunc("GET /api/v1/realtime", hub.ServeWS)

		ws := realtime.NewWebSocketChannel(cfg.RealtimeWSURL, token, logger)
		go ws.Maintain(ctx, reconnectInterval)
		return hubChannel{WebSocketChannel: ws, hub: hub}, func() { ws.Close() }
	}
}

// hubChannel subscribes through the websocket client and publishes straight
// into the local hub.
type hubChannel struct {
	*realtime.WebSocketChannel
	hub *realtime.Hub
}

func (c hubChannel) Publish(ctx context.Context, event string, data []byte) error {
	return c.hub.Publish(ctx, event, data)
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}

	var err error
	for i := range 30 {
		var db *sql.DB
		if db, err = repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connectDB: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}
