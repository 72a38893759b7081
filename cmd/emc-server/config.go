package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"emc/internal/archive"
	"emc/internal/submission"
	"emc/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// DatabaseConfig holds MySQL settings.
type DatabaseConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

// RedisConfig holds status cache settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PoolSize     int           `yaml:"poolSize"`
	StatusTTL    time.Duration `yaml:"statusTTL"`
}

// KafkaConfig holds event mirror settings. Empty brokers disables the
// mirror.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`
}

// StorageConfig holds the archive root and the upload object store.
type StorageConfig struct {
	Root  string              `yaml:"root"`
	MinIO archive.MinIOConfig `yaml:"minio"`
}

// RunnerConfig holds sandbox and admission settings.
type RunnerConfig struct {
	MaxConcurrent     int   `yaml:"maxConcurrent"`
	StdoutMaxBytes    int64 `yaml:"stdoutMaxBytes"`
	KillGraceMs       int64 `yaml:"killGraceMs"`
	DisableNamespaces bool  `yaml:"disableNamespaces"`
}

// AuthConfig holds websocket token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// AppConfig holds emc-server config.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   logger.Config  `yaml:"logger"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Storage  StorageConfig  `yaml:"storage"`
	Runner   RunnerConfig   `yaml:"runner"`
	Auth     AuthConfig     `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Storage.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Runner.MaxConcurrent <= 0 {
		cfg.Runner.MaxConcurrent = 4
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "emc-server"
	}
	return &cfg, nil
}

func (c DatabaseConfig) toMySQLConfig() *submission.MySQLConfig {
	return &submission.MySQLConfig{
		DSN:                c.DSN,
		MaxOpenConnections: c.MaxOpenConnections,
		MaxIdleConnections: c.MaxIdleConnections,
		ConnMaxLifetime:    c.ConnMaxLifetime,
		ConnMaxIdleTime:    c.ConnMaxIdleTime,
	}
}
