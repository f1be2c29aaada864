package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"order-service/clients"
	"order-service/database"
	aws_pkg "order-service/pkg/aws"

	"github.com/joho/godotenv"
)

const dbCredentialsSecret = "order-service/DB_CREDENTIALS"

type Config struct {
	Port string
	Env  string

	Database database.Config

	ProductServiceURL string
	UserServiceURL    string
	PaymentServiceURL string
	CartServiceURL    string
	Retry             clients.RetryConfig

	StrictIdentity bool
	OutboxLenient  bool
	Currency       string
	PaymentExpiry  time.Duration
	SagaTimeout    time.Duration

	RedisURL         string
	IdentityCacheTTL time.Duration

	CheckoutQueueURL      string
	ShipmentQueueURL      string
	PaymentQueueURL       string
	OrderEventsTopicARN   string
	CheckoutRatePerMinute float64
	CheckoutRateBurst     int
	CORSAllowedOrigins    []string

	AWSRegion             string
	AWSEndpoint           string
	UseSecrets            bool
	CloudWatchEnabled     bool
	CloudWatchNamespace   string
	CloudWatchLogsEnabled bool
	CloudWatchLogGroup    string
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StrictOutbox is always true in production.
func (c *Config) StrictOutbox() bool {
	return c.IsProduction() || !c.OutboxLenient
}

type jsonSecretGetter interface {
	GetJSONSecret(ctx context.Context, name string, out any) error
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		awsCfg, err := aws_pkg.LoadAWSConfig(context.Background(), aws_pkg.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
		if err != nil {
			return nil, err
		}
		if err := overlayDBSecret(context.Background(), aws_pkg.NewSecretsClient(awsCfg), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFromEnv() (*Config, error) {
	p := &envParser{}
	defaults := clients.DefaultRetryConfig()

	cfg := &Config{
		Port: getEnv("PORT", "8083"),
		Env:  getEnv("APP_ENV", "development"),
		Database: database.Config{
			Host:     os.Getenv("POSTGRES_HOST"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     os.Getenv("POSTGRES_DB"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Jakarta"),
		},
		ProductServiceURL: getEnv("PRODUCT_SERVICE_URL", "http://product-service:8082"),
		UserServiceURL:    getEnv("USER_SERVICE_URL", "http://user-service:8085"),
		PaymentServiceURL: getEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
		CartServiceURL:    getEnv("CART_SERVICE_URL", "http://cart-service:8086"),
		Retry: clients.RetryConfig{
			MaxAttempts:      p.integer("RETRY_MAX_ATTEMPTS", defaults.MaxAttempts),
			BaseDelay:        p.duration("RETRY_BASE_DELAY", defaults.BaseDelay),
			MaxDelay:         p.duration("RETRY_MAX_DELAY", defaults.MaxDelay),
			Timeout:          p.duration("DOWNSTREAM_TIMEOUT", defaults.Timeout),
			FailureThreshold: uint32(p.integer("BREAKER_FAILURE_THRESHOLD", int(defaults.FailureThreshold))),
			OpenTimeout:      p.duration("BREAKER_OPEN_TIMEOUT", defaults.OpenTimeout),
		},
		StrictIdentity:        p.boolean("STRICT_IDENTITY", false),
		OutboxLenient:         p.boolean("OUTBOX_LENIENT", false),
		Currency:              strings.ToUpper(getEnv("ORDER_CURRENCY", "IDR")),
		PaymentExpiry:         p.duration("PAYMENT_EXPIRY", 24*time.Hour),
		SagaTimeout:           p.duration("CHECKOUT_SAGA_TIMEOUT", 2*time.Minute),
		RedisURL:              os.Getenv("REDIS_URL"),
		IdentityCacheTTL:      p.duration("IDENTITY_CACHE_TTL", 10*time.Minute),
		CheckoutQueueURL:      os.Getenv("CHECKOUT_QUEUE_URL"),
		ShipmentQueueURL:      os.Getenv("SHIPMENT_QUEUE_URL"),
		PaymentQueueURL:       os.Getenv("PAYMENT_EVENTS_QUEUE_URL"),
		OrderEventsTopicARN:   os.Getenv("ORDER_EVENTS_TOPIC_ARN"),
		CheckoutRatePerMinute: p.float("CHECKOUT_RATE_PER_MINUTE", 30),
		CheckoutRateBurst:     p.integer("CHECKOUT_RATE_BURST", 5),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AWSRegion:             getEnv("AWS_REGION", "ap-southeast-1"),
		AWSEndpoint:           os.Getenv("AWS_ENDPOINT"),
		UseSecrets:            p.boolean("AWS_USE_SECRETS", false),
		CloudWatchEnabled:     p.boolean("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace:   getEnv("CLOUDWATCH_NAMESPACE", "ECommerce/OrderService"),
		CloudWatchLogsEnabled: p.boolean("CLOUDWATCH_LOGS_ENABLED", false),
		CloudWatchLogGroup:    getEnv("CLOUDWATCH_LOG_GROUP", "/ecommerce/order-service"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayDBSecret replaces database settings with the non-empty values
// stored in Secrets Manager.
func overlayDBSecret(ctx context.Context, sm jsonSecretGetter, cfg *Config) error {
	var m map[string]string
	if err := sm.GetJSONSecret(ctx, dbCredentialsSecret, &m); err != nil {
		return fmt.Errorf("load database credentials: %w", err)
	}
	overlay := map[string]*string{
		"POSTGRES_USER":     &cfg.Database.User,
		"POSTGRES_PASSWORD": &cfg.Database.Password,
		"POSTGRES_DB":       &cfg.Database.Name,
		"POSTGRES_HOST":     &cfg.Database.Host,
		"POSTGRES_PORT":     &cfg.Database.Port,
	}
	for key, field := range overlay {
		if v, ok := m[key]; ok && v != "" {
			*field = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Database.User == "" || c.Database.Password == "" || c.Database.Name == "" || c.Database.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	for name, url := range map[string]string{
		"PRODUCT_SERVICE_URL": c.ProductServiceURL,
		"USER_SERVICE_URL":    c.UserServiceURL,
		"PAYMENT_SERVICE_URL": c.PaymentServiceURL,
		"CART_SERVICE_URL":    c.CartServiceURL,
	} {
		if url == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.CheckoutRatePerMinute <= 0 || c.CheckoutRateBurst < 1 {
		return fmt.Errorf("checkout rate limit must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envParser reads typed values and collects every parse error.
type envParser struct {
	errs []error
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *envParser) integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (p *envParser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
