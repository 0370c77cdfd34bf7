package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	defaultAccessSecret  = "change-me-in-production"
	defaultRefreshSecret = "change-me-too-in-production"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	JWT           JWTConfig           `envconfig:"JWT"`
	Cookie        CookieConfig        `envconfig:"COOKIE"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	Objects       ObjectsConfig       `envconfig:"OBJECTS"`
	Minio         MinioConfig         `envconfig:"MINIO"`
	AWS           AWSConfig           `envconfig:"AWS"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	BasePath     string        `envconfig:"BASE_PATH" default:"/api"`
}

// IsDevelopment reports whether raw error text may be returned to clients
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

type JWTConfig struct {
	AccessSecret  string        `envconfig:"ACCESS_SECRET" default:"change-me-in-production"`
	RefreshSecret string        `envconfig:"REFRESH_SECRET" default:"change-me-too-in-production"`
	AccessTTL     time.Duration `envconfig:"ACCESS_TTL" default:"15m"`
	RefreshTTL    time.Duration `envconfig:"REFRESH_TTL" default:"168h"`
	Issuer        string        `envconfig:"ISSUER" default:"mindgallery"`
	Audience      string        `envconfig:"AUDIENCE" default:"mindgallery-web"`
}

type CookieConfig struct {
	Domain      string `envconfig:"DOMAIN" default:""`
	Secure      bool   `envconfig:"SECURE" default:"false"`
	CSRFEnabled bool   `envconfig:"CSRF_ENABLED" default:"true"`
}

type DynamoDBConfig struct {
	TableName string `envconfig:"TABLE_NAME" default:"MindGallery"`
	Region    string `envconfig:"REGION" default:"ap-southeast-1"`
	// Driver "memory" keeps everything in process; intended for local runs only
	Driver string `envconfig:"DRIVER" default:"dynamodb"`
}

type ObjectsConfig struct {
	Driver     string        `envconfig:"DRIVER" default:"s3"`
	Bucket     string        `envconfig:"BUCKET" default:"mindgallery-uploads"`
	PresignTTL time.Duration `envconfig:"PRESIGN_TTL" default:"5m"`
}

type MinioConfig struct {
	Endpoint  string `envconfig:"ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"ACCESS_KEY" default:""`
	SecretKey string `envconfig:"SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

type AWSConfig struct {
	Region      string `envconfig:"REGION" default:"ap-southeast-1"`
	Profile     string `envconfig:"PROFILE" default:""`
	EndpointURL string `envconfig:"ENDPOINT_URL" default:""` // localstack
	SecretName  string `envconfig:"SECRET_NAME" default:""`
}

type RedisConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"false"`
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
}

type RateLimitConfig struct {
	RPS         int           `envconfig:"RPS" default:"20"`
	Burst       int           `envconfig:"BURST" default:"40"`
	WindowSize  time.Duration `envconfig:"WINDOW_SIZE" default:"1s"`
	Enabled     bool          `envconfig:"ENABLED" default:"true"`
	ExemptPaths []string      `envconfig:"EXEMPT_PATHS" default:"/healthz,/readyz,/metrics"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"http://localhost:5173"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// envconfig does not trim list elements
	if exemptPaths := os.Getenv("RATE_LIMIT_EXEMPT_PATHS"); exemptPaths != "" {
		cfg.RateLimit.ExemptPaths = strings.Split(exemptPaths, ",")
		for i := range cfg.RateLimit.ExemptPaths {
			cfg.RateLimit.ExemptPaths[i] = strings.TrimSpace(cfg.RateLimit.ExemptPaths[i])
		}
	}
	cfg.Server.BasePath = strings.TrimRight(cfg.Server.BasePath, "/")

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	if cfg.JWT.AccessSecret == "" || cfg.JWT.RefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		return fmt.Errorf("access and refresh tokens must be signed with different secrets")
	}
	if cfg.Server.Environment == "production" &&
		(cfg.JWT.AccessSecret == defaultAccessSecret || cfg.JWT.RefreshSecret == defaultRefreshSecret) {
		return fmt.Errorf("default JWT secrets are not allowed in production")
	}
	if cfg.JWT.AccessTTL <= 0 || cfg.JWT.RefreshTTL <= cfg.JWT.AccessTTL {
		return fmt.Errorf("invalid token lifetimes: access %s, refresh %s", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}

	switch cfg.Objects.Driver {
	case "s3", "minio", "memory":
	default:
		return fmt.Errorf("unknown object store driver: %s", cfg.Objects.Driver)
	}
	switch cfg.DynamoDB.Driver {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("unknown table store driver: %s", cfg.DynamoDB.Driver)
	}
	if cfg.Objects.PresignTTL <= 0 {
		return fmt.Errorf("invalid presign ttl: %s", cfg.Objects.PresignTTL)
	}

	return nil
}
