// Package config provides configuration management for the Flame control
// plane, loaded from environment variables, an optional config file, and
// built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section recognised by Flame, per the
// "Configuration" list of the external interfaces specification.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executors ExecutorsConfig `mapstructure:"executors"`
	Default   DefaultConfig   `mapstructure:"default"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the ambient admin/observability HTTP surface.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// StorageConfig describes the location/DSN of the Persistence Engine.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS transport configuration for the event bus used by
// the Event Recorder. Empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// SchedulerConfig holds tick cadence and policy selection.
type SchedulerConfig struct {
	Policy         string `mapstructure:"policy"`       // default: proportional
	TickIntervalMs int    `mapstructure:"tickIntervalMs"`
	BindWaitMs     int    `mapstructure:"bindWaitMs"`
	StarvationMs   int    `mapstructure:"starvationMs"`
}

// ExecutorsConfig holds global executor limits and the default shim kind.
type ExecutorsConfig struct {
	MaxExecutors int    `mapstructure:"maxExecutors"`
	Shim         string `mapstructure:"shim"`
}

// DefaultConfig holds defaults applied when a caller omits a spec field.
type DefaultConfig struct {
	Slot int `mapstructure:"slot"`
}

// RPCConfig holds the listen addresses for the Frontend and Backend
// gRPC-framed services.
type RPCConfig struct {
	FrontendAddr string `mapstructure:"frontendAddr"`
	BackendAddr  string `mapstructure:"backendAddr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (s *SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

func (s *SchedulerConfig) BindWait() time.Duration {
	return time.Duration(s.BindWaitMs) * time.Millisecond
}

func (s *SchedulerConfig) StarvationThreshold() time.Duration {
	return time.Duration(s.StarvationMs) * time.Millisecond
}

// DSN returns the PostgreSQL connection string.
func (s *StorageConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./flame.db")
	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "flame")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.dbName", "flame")
	v.SetDefault("storage.sslMode", "disable")
	v.SetDefault("storage.maxConns", 25)
	v.SetDefault("storage.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "flame-cluster")
	v.SetDefault("nats.clientId", "flame-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("scheduler.policy", "proportional")
	v.SetDefault("scheduler.tickIntervalMs", 200)
	v.SetDefault("scheduler.bindWaitMs", 5000)
	v.SetDefault("scheduler.starvationMs", 10000)

	v.SetDefault("executors.maxExecutors", 0) // 0 = unbounded
	v.SetDefault("executors.shim", "host")

	v.SetDefault("default.slot", 1)

	v.SetDefault("rpc.frontendAddr", ":7443")
	v.SetDefault("rpc.backendAddr", ":7444")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix FLAME_ with snake_case
// naming; a config.yaml may live in the current directory or /etc/flame/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FLAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "FLAME_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "FLAME_EVENTS_NAMESPACE")
	_ = v.BindEnv("storage.driver", "FLAME_DB_DRIVER")
	_ = v.BindEnv("storage.path", "FLAME_DB_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/flame/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "postgres" {
		errs = append(errs, "storage.driver must be one of: sqlite, postgres")
	}
	if cfg.Storage.Driver == "postgres" {
		if cfg.Storage.Port <= 0 || cfg.Storage.Port > 65535 {
			errs = append(errs, "storage.port must be between 1 and 65535")
		}
		if cfg.Storage.User == "" {
			errs = append(errs, "storage.user is required for postgres driver")
		}
		if cfg.Storage.DBName == "" {
			errs = append(errs, "storage.dbName is required for postgres driver")
		}
	}

	if cfg.Scheduler.TickIntervalMs <= 0 {
		errs = append(errs, "scheduler.tickIntervalMs must be positive")
	}
	if cfg.Scheduler.BindWaitMs <= 0 {
		errs = append(errs, "scheduler.bindWaitMs must be positive")
	}
	if cfg.Default.Slot <= 0 {
		errs = append(errs, "default.slot must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
