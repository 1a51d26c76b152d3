package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/samaki-checkout/internal/logging"
)

type mockConfig struct {
	Port          int           `env:"MOCK_GATEWAY_PORT" envDefault:"8081"`
	APIKey        string        `env:"GATEWAY_API_KEY"`
	WebhookSecret string        `env:"WEBHOOK_SECRET,required"`
	SettleMin     time.Duration `env:"MOCK_SETTLE_MIN" envDefault:"3s"`
	SettleMax     time.Duration `env:"MOCK_SETTLE_MAX" envDefault:"20s"`
	SuccessRate   float64       `env:"MOCK_SUCCESS_RATE" envDefault:"0.8"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string        `env:"APP_ENV" envDefault:"development"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := env.ParseAs[mockConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("mock-gateway", cfg.LogLevel, cfg.AppEnv)

	gw := newMockGateway(cfg, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("mock gateway started", "addr", addr, "success_rate", cfg.SuccessRate)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gw.stop()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("mock gateway stopped")
}
