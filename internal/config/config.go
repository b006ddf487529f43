package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// AuthConfig holds authentication configuration. Token issuance lives in a
// separate service; this service only verifies bearer tokens.
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT verification configuration
type JWTConfig struct {
	Secret        string `yaml:"secret" env:"JWT_SECRET"`
	SigningMethod string `yaml:"signing_method" env:"JWT_SIGNING_METHOD"`
}

// WebSocketConfig holds WebSocket transport configuration
type WebSocketConfig struct {
	ReadLimitBytes      int64         `yaml:"read_limit_bytes" env:"WEBSOCKET_READ_LIMIT_BYTES"`
	PongTimeout         time.Duration `yaml:"pong_timeout" env:"WEBSOCKET_PONG_TIMEOUT"`
	PingInterval        time.Duration `yaml:"ping_interval" env:"WEBSOCKET_PING_INTERVAL"`
	WriteTimeout        time.Duration `yaml:"write_timeout" env:"WEBSOCKET_WRITE_TIMEOUT"`
	LogMessages         bool          `yaml:"log_messages" env:"WEBSOCKET_LOG_MESSAGES"`
	RedactTokensInLogs  bool          `yaml:"redact_tokens_in_logs" env:"WEBSOCKET_REDACT_TOKENS_IN_LOGS"`
	MaxLoggedBytes      int64         `yaml:"max_logged_bytes" env:"WEBSOCKET_MAX_LOGGED_BYTES"`
}

// SessionConfig holds session manager factory configuration
type SessionConfig struct {
	MaxManagersPerUser int           `yaml:"max_managers_per_user" env:"SESSION_MAX_MANAGERS_PER_USER"`
	DegradedThreshold  int           `yaml:"degraded_threshold" env:"SESSION_DEGRADED_THRESHOLD"`
	InactivityTimeout  time.Duration `yaml:"inactivity_timeout" env:"SESSION_INACTIVITY_TIMEOUT"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"TELEMETRY_METRICS_ENABLED"`
	ServiceName    string `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Interface:    "0.0.0.0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Secret:        "",
				SigningMethod: "HS256",
			},
		},
		WebSocket: WebSocketConfig{
			ReadLimitBytes:     4096,
			PongTimeout:        60 * time.Second,
			PingInterval:       30 * time.Second,
			WriteTimeout:       3 * time.Second,
			LogMessages:        false,
			RedactTokensInLogs: true,
			MaxLoggedBytes:     8192,
		},
		Session: SessionConfig{
			MaxManagersPerUser: 5,
			DegradedThreshold:  3,
			InactivityTimeout:  15 * time.Minute,
			SweepInterval:      5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			ServiceName:    "sessionhub",
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		// Get environment variable name from tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		// Get environment variable value
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		// Set field value based on type
		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a reflect.Value from its string representation
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration fields accept both "30s" style and raw nanoseconds
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value %q: %w", value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be numeric: %w", err)
	}

	if c.Session.MaxManagersPerUser <= 0 {
		return fmt.Errorf("session max_managers_per_user must be positive, got %d", c.Session.MaxManagersPerUser)
	}
	if c.Session.InactivityTimeout <= 0 {
		return fmt.Errorf("session inactivity_timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep_interval must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write_timeout must be positive")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket pong_timeout (%s) must exceed ping_interval (%s)",
			c.WebSocket.PongTimeout, c.WebSocket.PingInterval)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	if c.Auth.JWT.SigningMethod != "HS256" {
		return fmt.Errorf("unsupported JWT signing method %q", c.Auth.JWT.SigningMethod)
	}

	return nil
}

// ServerAddr returns the listen address for the HTTP server
func (c *Config) ServerAddr() string {
	return c.Server.Interface + ":" + c.Server.Port
}
