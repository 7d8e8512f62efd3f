package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/bytesize"
)

func TestApplyDefaults_FillsEveryZeroValue(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	require.Equal(t, 57600, cfg.Channel.Baud)
	require.Equal(t, "hold-until-recovery", cfg.Channel.NotReadyPolicy)
	require.Equal(t, 64, cfg.Channel.QueueCapacity)

	require.Equal(t, 64, cfg.Engine.QueueCapacity)
	require.Equal(t, int32(1000), cfg.Engine.DefaultTimeoutMs)

	require.Equal(t, ":1338", cfg.Transports.WebSocket.Addr)
	require.Equal(t, "/", cfg.Transports.WebSocket.Path)
	require.Equal(t, bytesize.MiB, cfg.Transports.WebSocket.MaxMessageSize)
	require.Equal(t, "/var/run/iqrfgd2/iqrfgd2.sock", cfg.Transports.UnixSocket.Path)
	require.Equal(t, bytesize.MiB, cfg.Transports.UnixSocket.MaxMessageSize)
	require.Equal(t, ":1339", cfg.Transports.UDP.Addr)
	require.Equal(t, "iqrfgd2", cfg.Transports.MQTT.ClientID)
	require.Equal(t, "Iqrf/DpaRequest", cfg.Transports.MQTT.RequestTopic)
	require.Equal(t, "Iqrf/DpaResponse", cfg.Transports.MQTT.ResponseTopic)
	require.Equal(t, 10*time.Second, cfg.Transports.MQTT.ConnectTimeout)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "stdout", cfg.Logging.Output)

	require.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	require.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	require.Equal(t, "http://localhost:4040", cfg.Telemetry.Profiling.Endpoint)
	require.Equal(t, []string{"cpu", "alloc_objects", "inuse_objects"}, cfg.Telemetry.Profiling.ProfileTypes)

	require.Equal(t, "iqrfgd2", cfg.Auth.JWTIssuer)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)

	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Channel: ChannelConfig{Baud: 9600, NotReadyPolicy: "fail-immediate"},
		Logging: LoggingConfig{Level: "DEBUG"},
	}
	ApplyDefaults(cfg)

	require.Equal(t, 9600, cfg.Channel.Baud)
	require.Equal(t, "fail-immediate", cfg.Channel.NotReadyPolicy)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestMetricsDefaults_PortDefaultedRegardlessOfEnabled(t *testing.T) {
	// The admin HTTP server also serves /health, so it defaults a port
	// even when Prometheus /metrics scraping itself is disabled.
	cfg := &Config{}
	ApplyDefaults(cfg)
	require.Equal(t, 9090, cfg.Metrics.Port)

	cfg2 := &Config{Metrics: MetricsConfig{Enabled: true, Port: 9999}}
	ApplyDefaults(cfg2)
	require.Equal(t, 9999, cfg2.Metrics.Port)
}
