package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Provider
	ShippingProvider   string        `envconfig:"SHIPPING_PROVIDER" default:"shiprocket"`
	ShiprocketEmail    string        `envconfig:"SHIPROCKET_EMAIL"`
	ShiprocketPassword string        `envconfig:"SHIPROCKET_PASSWORD"`
	ShiprocketBaseURL  string        `envconfig:"SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	ShiprocketUseMock  bool          `envconfig:"SHIPROCKET_USE_MOCK" default:"false"`
	ShiprocketTimeout  time.Duration `envconfig:"SHIPROCKET_TIMEOUT" default:"30s"`
	SellerConfigPath   string        `envconfig:"SELLER_CONFIG_PATH"`

	// Circuit breaker around provider calls
	BreakerMaxRequests         uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval            time.Duration `envconfig:"BREAKER_INTERVAL" default:"0s"`
	BreakerTimeout             time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	BreakerConsecutiveFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"5"`

	// Fulfillment
	PickupLocationName   string        `envconfig:"PICKUP_LOCATION_NAME" default:"Primary"`
	DefaultPickupPincode string        `envconfig:"DEFAULT_PICKUP_PINCODE"`
	TrackingURLBase      string        `envconfig:"TRACKING_URL_BASE" default:"https://shiprocket.co/tracking/"`
	BatchPacing          time.Duration `envconfig:"BATCH_PACING" default:"500ms"`

	// Storage
	TokenStore  string `envconfig:"TOKEN_STORE" default:"memory"`
	OrderStore  string `envconfig:"ORDER_STORE" default:"memory"`
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"fulfillment:"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Notifications
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS"`
	KafkaShippedTopic string        `envconfig:"KAFKA_SHIPPED_TOPIC" default:"orders.shipped"`
	KafkaWriteTimeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"10s"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"fulfillment"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the store selections and their connection settings.
func (c *Config) Validate() error {
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	c.OrderStore = strings.ToLower(strings.TrimSpace(c.OrderStore))
	c.ShippingProvider = strings.ToLower(strings.TrimSpace(c.ShippingProvider))

	switch c.TokenStore {
	case "memory", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("TOKEN_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown TOKEN_STORE %q", c.TokenStore)
	}

	switch c.OrderStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("ORDER_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown ORDER_STORE %q", c.OrderStore)
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("shipping.provider", c.ShippingProvider),
		attribute.Bool("shiprocket.mock", c.ShiprocketUseMock),
		attribute.String("token.store", c.TokenStore),
		attribute.String("order.store", c.OrderStore),
	}
}
