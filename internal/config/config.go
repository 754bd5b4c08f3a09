package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName    string
	EndpointPrefix string
	HTTPAddr       string
	GRPCAddr       string
	GinMode        string

	DatabaseURL string
	MongoURI    string
	MongoDB     string

	AuthPublicKey string

	Gateway   Gateway
	Signing   Signing
	Retry     Retry
	Currency  string
	Kafka     []string
	ConsulAdr string
}

type Gateway struct {
	APIKey    string
	PublicKey string
	URL       string
	Timeout   time.Duration
}

type Signing struct {
	Secret string
}

type Retry struct {
	Attempts uint64
	Base     time.Duration
}

// Load reads .env when present and then the process environment. Every missing secret is
// reported at once so the service refuses to start instead of running insecurely.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	optional := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		ServiceName:    optional("SERVICE_NAME", "enrollments"),
		EndpointPrefix: optional("SERVICE_ENDPOINT_PREFIX", "/api/v1"),
		HTTPAddr:       optional("HTTP_ADDR", ":8080"),
		GRPCAddr:       optional("GRPC_ADDR", ":9090"),
		GinMode:        optional("GIN_MODE", "debug"),
		DatabaseURL:    required("DATABASE_URL"),
		MongoURI:       required("MONGO_URI"),
		MongoDB:        optional("MONGO_DB", "lms"),
		AuthPublicKey:  required("AUTH_PUBLIC_KEY"),
		Gateway: Gateway{
			APIKey:    required("GATEWAY_API_KEY"),
			PublicKey: required("GATEWAY_PUBLIC_KEY"),
			URL:       optional("GATEWAY_API_URL", ""),
		},
		Signing:   Signing{Secret: required("PAYMENT_SIGNING_SECRET")},
		Currency:  strings.ToUpper(optional("CURRENCY", "INR")),
		ConsulAdr: optional("CONSUL_ADDR", ""),
	}
	if brokers := optional("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka = append(cfg.Kafka, b)
			}
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.Gateway.Timeout, err = time.ParseDuration(optional("GATEWAY_TIMEOUT", "10s")); err != nil {
		return Config{}, fmt.Errorf("GATEWAY_TIMEOUT: %w", err)
	}
	if cfg.Retry.Base, err = time.ParseDuration(optional("ENROLLMENT_RETRY_BASE", "100ms")); err != nil {
		return Config{}, fmt.Errorf("ENROLLMENT_RETRY_BASE: %w", err)
	}
	if cfg.Retry.Attempts, err = strconv.ParseUint(optional("ENROLLMENT_RETRY_ATTEMPTS", "3"), 10, 32); err != nil {
		return Config{}, fmt.Errorf("ENROLLMENT_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.Gateway.Timeout <= 0 {
		return Config{}, errors.New("GATEWAY_TIMEOUT must be positive")
	}
	return cfg, nil
}
