package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kart-io/commshub/pkg/telemetry"
)

// WithTimeout sets the dispatch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		c.Timeout = timeout
		return nil
	}
}

// WithReportBuffer sets the per-subscriber report queue size.
func WithReportBuffer(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("report buffer must be positive, got %d", n)
		}
		c.Report.Buffer = n
		return nil
	}
}

// WithDefaultCulture sets the culture used when a request has none.
func WithDefaultCulture(culture string) Option {
	return func(c *Config) error {
		c.DefaultCulture = culture
		return nil
	}
}

// WithTelemetry replaces the telemetry settings.
func WithTelemetry(t telemetry.Config) Option {
	return func(c *Config) error {
		c.Telemetry = t
		return nil
	}
}

// WithRedis sets the Redis client address.
func WithRedis(addr, password string, db int) Option {
	return func(c *Config) error {
		c.Redis = RedisConfig{Addr: addr, Password: password, DB: db}
		return nil
	}
}

// Environment variables read by WithEnvDefaults.
const (
	EnvRedisAddr     = "COMMSHUB_REDIS_ADDR"
	EnvRedisPassword = "COMMSHUB_REDIS_PASSWORD"
	EnvKafkaBrokers  = "COMMSHUB_KAFKA_BROKERS"
	EnvOTLPEndpoint  = "COMMSHUB_OTLP_ENDPOINT"
	EnvLogLevel      = "COMMSHUB_LOG_LEVEL"
)

// WithEnvDefaults loads the given .env files, if any, and fills unset Redis
// and Kafka settings from COMMSHUB_* variables. The OTLP endpoint and log
// level variables always override.
func WithEnvDefaults(files ...string) Option {
	return func(c *Config) error {
		if len(files) > 0 {
			if err := godotenv.Load(files...); err != nil {
				return fmt.Errorf("load env files: %w", err)
			}
		}
		if v := os.Getenv(EnvRedisAddr); v != "" && c.Redis.Addr == "" {
			c.Redis.Addr = v
		}
		if v := os.Getenv(EnvRedisPassword); v != "" && c.Redis.Password == "" {
			c.Redis.Password = v
		}
		if v := os.Getenv(EnvKafkaBrokers); v != "" && len(c.Kafka.Brokers) == 0 {
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Kafka.Brokers = append(c.Kafka.Brokers, b)
				}
			}
		}
		if v := os.Getenv(EnvOTLPEndpoint); v != "" {
			c.Telemetry.OTLPEndpoint = v
		}
		if v := os.Getenv(EnvLogLevel); v != "" {
			c.Log.Level = strings.ToLower(v)
		}
		return nil
	}
}
