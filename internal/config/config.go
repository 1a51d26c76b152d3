package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

const (
	RealtimeDriverWebSocket = "websocket"
	RealtimeDriverNATS      = "nats"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	GatewayURL         string        `env:"GATEWAY_URL" envDefault:"http://mock-gateway:8081"`
	GatewayAPIKey      string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	WebhookCallbackURL string        `env:"WEBHOOK_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/mobile-money"`

	PaymentTimeout      time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"2m"`
	PaymentPollInterval time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"5s"`
	PaymentCheckTimeout time.Duration `env:"PAYMENT_CHECK_TIMEOUT" envDefault:"5s"`
	PhoneCountryCode    string        `env:"PHONE_COUNTRY_CODE" envDefault:"255"`

	RealtimeDriver        string        `env:"REALTIME_DRIVER" envDefault:"websocket"`
	RealtimeWSURL         string        `env:"REALTIME_WS_URL" envDefault:"ws://localhost:8080/api/v1/realtime"`
	RealtimeRelayToken    string        `env:"REALTIME_RELAY_TOKEN"`
	NATSURL               string        `env:"NATS_URL" envDefault:"nats://nats:4222"`
	RealtimeCallbackEvent string        `env:"REALTIME_CALLBACK_EVENT" envDefault:"mobile_money.callback"`
	RelayInterval         time.Duration `env:"RELAY_INTERVAL" envDefault:"1s"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	switch c.RealtimeDriver {
	case RealtimeDriverWebSocket, RealtimeDriverNATS:
	default:
		return fmt.Errorf("REALTIME_DRIVER must be %q or %q, got %q", RealtimeDriverWebSocket, RealtimeDriverNATS, c.RealtimeDriver)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.PaymentPollInterval <= 0 {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL must be positive")
	}
	if c.PaymentPollInterval >= c.PaymentTimeout {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL must be shorter than PAYMENT_TIMEOUT")
	}
	if c.PaymentCheckTimeout <= 0 {
		return fmt.Errorf("PAYMENT_CHECK_TIMEOUT must be positive")
	}
	if c.RelayInterval <= 0 {
		return fmt.Errorf("RELAY_INTERVAL must be positive")
	}
	return nil
}
