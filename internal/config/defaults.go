package config

import (
	"time"

	"github.com/iqrfgd2/daemon/internal/bytesize"
)

// DefaultConfig returns a Config with every default value applied. It is
// not yet valid on its own — Channel.Interface and Driver.ScriptPath have
// no sane default and must come from the user's config file/environment.
func DefaultConfig() *Config {
	cfg := &Config{
		Repository: RepositoryConfig{
			Path: "/var/lib/iqrfgd2/catalog.db",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any zero-valued field left unset after loading
// from file/environment.
func ApplyDefaults(cfg *Config) {
	applyChannelDefaults(&cfg.Channel)
	applyEngineDefaults(&cfg.Engine)
	applyTransportsDefaults(&cfg.Transports)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyAuthDefaults(&cfg.Auth)

	if cfg.Repository.Path == "" {
		cfg.Repository.Path = "/var/lib/iqrfgd2/catalog.db"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyChannelDefaults(cfg *ChannelConfig) {
	if cfg.Baud == 0 {
		cfg.Baud = 57600
	}
	if cfg.NotReadyPolicy == "" {
		cfg.NotReadyPolicy = "hold-until-recovery"
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 64
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.DefaultTimeoutMs == 0 {
		cfg.DefaultTimeoutMs = 1000
	}
}

func applyTransportsDefaults(cfg *TransportsConfig) {
	if cfg.WebSocket.Addr == "" {
		cfg.WebSocket.Addr = ":1338"
	}
	if cfg.WebSocket.Path == "" {
		cfg.WebSocket.Path = "/"
	}
	if cfg.WebSocket.SendQueueCapacity == 0 {
		cfg.WebSocket.SendQueueCapacity = 32
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = bytesize.MiB
	}

	if cfg.UnixSocket.Path == "" {
		cfg.UnixSocket.Path = "/var/run/iqrfgd2/iqrfgd2.sock"
	}
	if cfg.UnixSocket.SendQueueCapacity == 0 {
		cfg.UnixSocket.SendQueueCapacity = 32
	}
	if cfg.UnixSocket.MaxMessageSize == 0 {
		cfg.UnixSocket.MaxMessageSize = bytesize.MiB
	}

	if cfg.UDP.Addr == "" {
		cfg.UDP.Addr = ":1339"
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "iqrfgd2"
	}
	if cfg.MQTT.RequestTopic == "" {
		cfg.MQTT.RequestTopic = "Iqrf/DpaRequest"
	}
	if cfg.MQTT.ResponseTopic == "" {
		cfg.MQTT.ResponseTopic = "Iqrf/DpaResponse"
	}
	if cfg.MQTT.SendQueueCapacity == 0 {
		cfg.MQTT.SendQueueCapacity = 32
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "iqrfgd2"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
}
