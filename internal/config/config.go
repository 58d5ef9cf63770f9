// Package config loads the runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every collaborator setting. It is built once and passed to
// constructors; nothing reads the environment after Load returns.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Blob      BlobConfig
	Broker    BrokerConfig
	Inference InferenceConfig
	Worker    WorkerConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port            int    `validate:"min=1,max=65535"`
	Env             string `validate:"oneof=development production"`
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64 `validate:"min=1"`
}

type DatabaseConfig struct {
	DSN             string `validate:"required"`
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr string `validate:"required,hostname_port"`
}

type BlobConfig struct {
	Endpoint  string `validate:"required"`
	AccessKey string
	SecretKey string
	Bucket    string `validate:"required"`
	Prefix    string
	UseSSL    bool
}

type BrokerConfig struct {
	URL        string `validate:"required"`
	Exchange   string `validate:"required"`
	RoutingKey string `validate:"required"`
	Queue      string `validate:"required"`
	Prefetch   int    `validate:"min=1"`
}

type InferenceConfig struct {
	Transport    string `validate:"oneof=http grpc"`
	URL          string
	GRPCAddr     string
	Timeout      time.Duration
	ModelVersion string `validate:"required"`
}

type WorkerConfig struct {
	RetryBudget    int `validate:"min=1"`
	AllowReprocess bool
	MetricsAddr    string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("AISCORE_PORT", 8080),
			Env:             envString("AISCORE_ENV", "development"),
			ShutdownTimeout: envDuration("AISCORE_SHUTDOWN_TIMEOUT", 15*time.Second),
			MaxUploadBytes:  int64(envInt("AISCORE_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			DSN:             os.Getenv("DATABASE_DSN"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr: envString("REDIS_ADDR", "redis:6379"),
		},
		Blob: BlobConfig{
			Endpoint:  os.Getenv("BLOB_ENDPOINT"),
			AccessKey: os.Getenv("BLOB_ACCESS_KEY"),
			SecretKey: os.Getenv("BLOB_SECRET_KEY"),
			Bucket:    os.Getenv("BLOB_BUCKET"),
			Prefix:    envString("BLOB_PREFIX", "inputImages/"),
			UseSSL:    envBool("BLOB_USE_SSL", false),
		},
		Broker: BrokerConfig{
			URL:        os.Getenv("BROKER_URL"),
			Exchange:   envString("BROKER_EXCHANGE", "assets"),
			RoutingKey: envString("BROKER_ROUTING_KEY", "blob.created"),
			Queue:      envString("BROKER_QUEUE", "compute"),
			Prefetch:   envInt("BROKER_PREFETCH", 4),
		},
		Inference: InferenceConfig{
			Transport:    envString("INFERENCE_TRANSPORT", "http"),
			URL:          os.Getenv("INFERENCE_URL"),
			GRPCAddr:     os.Getenv("INFERENCE_GRPC_ADDR"),
			Timeout:      envDuration("INFERENCE_TIMEOUT", 30*time.Second),
			ModelVersion: envString("MODEL_VERSION", "artifact-v6"),
		},
		Worker: WorkerConfig{
			RetryBudget:    envInt("WORKER_RETRY_BUDGET", 5),
			AllowReprocess: envBool("WORKER_ALLOW_REPROCESS", false),
			MetricsAddr:    envString("WORKER_METRICS_ADDR", ":9090"),
		},
		Auth: AuthConfig{
			JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
			JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envNames maps struct namespaces to the variable that feeds them so
// validation errors point at something an operator can fix.
var envNames = map[string]string{
	"Config.Server.Port":            "AISCORE_PORT",
	"Config.Server.Env":             "AISCORE_ENV",
	"Config.Server.MaxUploadBytes":  "AISCORE_MAX_UPLOAD_BYTES",
	"Config.Database.DSN":           "DATABASE_DSN",
	"Config.Redis.Addr":             "REDIS_ADDR",
	"Config.Blob.Endpoint":          "BLOB_ENDPOINT",
	"Config.Blob.Bucket":            "BLOB_BUCKET",
	"Config.Broker.URL":             "BROKER_URL",
	"Config.Broker.Exchange":        "BROKER_EXCHANGE",
	"Config.Broker.RoutingKey":      "BROKER_ROUTING_KEY",
	"Config.Broker.Queue":           "BROKER_QUEUE",
	"Config.Broker.Prefetch":        "BROKER_PREFETCH",
	"Config.Inference.Transport":    "INFERENCE_TRANSPORT",
	"Config.Inference.ModelVersion": "MODEL_VERSION",
	"Config.Worker.RetryBudget":     "WORKER_RETRY_BUDGET",
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			name, found := envNames[fe.Namespace()]
			if !found {
				name = fe.Namespace()
			}
			return fmt.Errorf("%s is invalid (%s)", name, fe.Tag())
		}
		return err
	}

	switch c.Inference.Transport {
	case "http":
		if c.Inference.URL == "" {
			return fmt.Errorf("INFERENCE_URL is required when INFERENCE_TRANSPORT is http")
		}
		if !strings.HasPrefix(c.Inference.URL, "http://") && !strings.HasPrefix(c.Inference.URL, "https://") {
			return fmt.Errorf("INFERENCE_URL must start with http:// or https://, got %q", c.Inference.URL)
		}
	case "grpc":
		if c.Inference.GRPCAddr == "" {
			return fmt.Errorf("INFERENCE_GRPC_ADDR is required when INFERENCE_TRANSPORT is grpc")
		}
	}

	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}

	return nil
}

// AuthEnabled reports whether bearer tokens are required on the public routes.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
