// Package config loads and validates the daemon's static configuration:
// the serial Channel, DpaEngine defaults, driver script path, catalog
// database, authentication, transports, logging, telemetry and metrics.
// Dynamic state (bonded devices, driver versions, issued tokens) lives in
// internal/repository instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/iqrfgd2/daemon/internal/bytesize"
)

// Config is the root configuration struct.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (IQRFGD2_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// CLI flags select the configuration file; no flag overrides a field.
type Config struct {
	// Channel configures the serial connection to the coordinator.
	Channel ChannelConfig `mapstructure:"channel" yaml:"channel"`

	// Engine configures DpaEngine admission defaults.
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Driver configures the DriverSandbox script search path.
	Driver DriverConfig `mapstructure:"driver" yaml:"driver"`

	// Repository configures the catalog database.
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`

	// Auth configures JWT bearer-token issuance for the status/control
	// surface. Static per-connection tokens are managed through the
	// catalog, not this file.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Transports configures the external JSON-RPC transports.
	Transports TransportsConfig `mapstructure:"transports" yaml:"transports"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics configures the Prometheus metrics HTTP endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ChannelConfig configures the serial Channel.
type ChannelConfig struct {
	// Interface is the serial device path, e.g. "/dev/ttyACM0".
	Interface string `mapstructure:"interface" validate:"required" yaml:"interface"`

	// Baud is the serial baud rate.
	Baud int `mapstructure:"baud" validate:"required,gt=0" yaml:"baud"`

	// NotReadyPolicy governs queued-job handling during Channel downtime.
	// Valid values: hold-until-recovery, fail-immediate.
	NotReadyPolicy string `mapstructure:"not_ready_policy" validate:"required,oneof=hold-until-recovery fail-immediate" yaml:"not_ready_policy"`

	// QueueCapacity is defaulted and validated but not read by the
	// runtime; jobs held during Channel downtime wait in the engine queue
	// bounded by engine.queue_capacity.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"omitempty,gt=0" yaml:"queue_capacity"`
}

// EngineConfig configures DpaEngine submission defaults.
type EngineConfig struct {
	// QueueCapacity bounds the normal-priority submission queue.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"omitempty,gt=0" yaml:"queue_capacity"`

	// DefaultTimeoutMs is used when an inbound request omits a timeout.
	DefaultTimeoutMs int32 `mapstructure:"default_timeout_ms" validate:"omitempty,gt=0" yaml:"default_timeout_ms"`

	// DefaultRepeat is used when an inbound request omits a repeat count.
	DefaultRepeat int `mapstructure:"default_repeat" validate:"omitempty,gte=0" yaml:"default_repeat"`
}

// DriverConfig configures the DriverSandbox script search path.
type DriverConfig struct {
	// ScriptPath is the directory whose *.js files are concatenated in
	// name order and loaded into the DriverSandbox at startup; the
	// catalog's driver table is not consulted.
	ScriptPath string `mapstructure:"script_path" validate:"required" yaml:"script_path"`
}

// RepositoryConfig configures the catalog database.
type RepositoryConfig struct {
	// Path is the sqlite database file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// AuthConfig configures JWT bearer-token issuance.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Must be at least 32
	// bytes; see internal/auth.NewJWTProvider.
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret"`

	// JWTIssuer is the issuer claim on tokens this daemon mints.
	JWTIssuer string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`

	// TokenTTL is defaulted and validated but not read by the runtime;
	// repository.Store.IssueToken takes the token lifetime from its caller.
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"omitempty,gt=0" yaml:"token_ttl"`
}

// TransportsConfig configures the external JSON-RPC transports.
type TransportsConfig struct {
	WebSocket  WebSocketTransportConfig  `mapstructure:"websocket" yaml:"websocket"`
	UnixSocket UnixSocketTransportConfig `mapstructure:"unixsocket" yaml:"unixsocket"`
	UDP        UDPTransportConfig        `mapstructure:"udp" yaml:"udp"`
	MQTT       MQTTTransportConfig       `mapstructure:"mqtt" yaml:"mqtt"`
}

// WebSocketTransportConfig configures the WebSocket transport.
type WebSocketTransportConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr              string `mapstructure:"addr" yaml:"addr"`
	Path              string `mapstructure:"path" yaml:"path"`
	SendQueueCapacity int    `mapstructure:"send_queue_capacity" yaml:"send_queue_capacity"`
	// RequireToken rejects connections lacking a valid "token" query
	// parameter. When false, the WebSocket transport admits every
	// connection (suitable only for a trusted loopback bind).
	RequireToken bool `mapstructure:"require_token" yaml:"require_token"`
	// MaxMessageSize bounds a single inbound frame, e.g. "1Mi". Zero
	// uses transport.defaultMaxMessageSize.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// UnixSocketTransportConfig configures the Unix domain socket transport.
type UnixSocketTransportConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Path              string `mapstructure:"path" yaml:"path"`
	SendQueueCapacity int    `mapstructure:"send_queue_capacity" yaml:"send_queue_capacity"`
	// MaxMessageSize bounds a single inbound line, e.g. "1Mi". Zero uses
	// transport.defaultMaxMessageSize.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// UDPTransportConfig configures the UDP transport.
type UDPTransportConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// MQTTTransportConfig configures the MQTT transport.
type MQTTTransportConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker            string        `mapstructure:"broker" yaml:"broker"`
	ClientID          string        `mapstructure:"client_id" yaml:"client_id"`
	RequestTopic      string        `mapstructure:"request_topic" yaml:"request_topic"`
	ResponseTopic     string        `mapstructure:"response_topic" yaml:"response_topic"`
	QoS               byte          `mapstructure:"qos" yaml:"qos"`
	SendQueueCapacity int           `mapstructure:"send_queue_capacity" yaml:"send_queue_capacity"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string            `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool              `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64           `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig   `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls continuous profiling export to Pyroscope.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the admin HTTP server: GET /health is always
// served there, and GET /metrics (Prometheus exposition) is added when
// Enabled.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults, applying
// missing-value defaults and struct-tag validation before returning.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if !found {
		return cfg, Validate(cfg)
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration the way Load does, but returns a
// user-facing error with setup instructions when no config file can be
// found, instead of Load's bare validation error against pure defaults.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"create one at that path, or pass --config /path/to/config.yaml",
				DefaultConfigPath())
		}
		configPath = DefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	return Load(configPath)
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path in YAML, creating the parent directory if
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("IQRFGD2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// ConfigDir returns the configuration directory: $XDG_CONFIG_HOME/iqrfgd2,
// falling back to ~/.config/iqrfgd2, or "." if the home directory cannot
// be determined.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "iqrfgd2")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "iqrfgd2")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}
