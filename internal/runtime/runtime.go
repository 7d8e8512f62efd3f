// Package runtime is the composition root: it turns a loaded
// internal/config.Config into a running daemon by constructing the
// Channel, DpaEngine, DriverSandbox, catalog Store, auth chain, metrics
// and telemetry, the ApiHandlers pool, and every enabled transport, then
// drives their combined lifecycle (spec.md §9: "explicit Runtime struct
// instead of globals").
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iqrfgd2/daemon/internal/auth"
	"github.com/iqrfgd2/daemon/internal/channel"
	"github.com/iqrfgd2/daemon/internal/config"
	"github.com/iqrfgd2/daemon/internal/engine"
	"github.com/iqrfgd2/daemon/internal/handlers"
	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/repository"
	"github.com/iqrfgd2/daemon/internal/sandbox"
	"github.com/iqrfgd2/daemon/internal/splitter"
	"github.com/iqrfgd2/daemon/internal/telemetry"
	"github.com/iqrfgd2/daemon/internal/transport"
)

// Runtime owns every long-lived component of one daemon instance. Build
// constructs it from a Config; Run drives it until ctx is cancelled.
type Runtime struct {
	cfg *config.Config

	ch      *channel.Channel
	port    *channel.SerialPort
	eng     *engine.Engine
	sbox    *sandbox.Sandbox
	store   *repository.Store
	metrics *metrics.Metrics

	gate       *auth.Gate
	dispatcher transport.Dispatcher

	transports    []transport.Server
	metricsServer *http.Server
	startedAt     time.Time

	telemetryShutdown func(context.Context) error
	profilingShutdown func() error

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Build wires every component from cfg but starts nothing: the driver
// bundle is loaded and the catalog is migrated, while the serial Channel
// is only constructed; the Channel is opened, and the engine worker and
// transport listeners are started, in Run.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, stopCh: make(chan struct{})}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "iqrfgd2",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: init telemetry: %w", err)
	}
	rt.telemetryShutdown = telemetryShutdown

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "iqrfgd2",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: init profiling: %w", err)
	}
	rt.profilingShutdown = profilingShutdown

	store, err := repository.Open(cfg.Repository.Path)
	if err != nil {
		return nil, fmt.Errorf("runtime: open repository: %w", err)
	}
	rt.store = store

	bundle, err := loadDriverBundle(cfg.Driver.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: load drivers: %w", err)
	}
	sbox := sandbox.New()
	if err := sbox.Load(bundle); err != nil {
		return nil, fmt.Errorf("runtime: evaluate driver bundle: %w", err)
	}
	rt.sbox = sbox

	reg := prometheus.NewRegistry()
	rt.metrics = metrics.New(reg)

	port := channel.NewSerialPort(channel.SerialPortConfig{
		Device: cfg.Channel.Interface,
		Baud:   cfg.Channel.Baud,
	})
	rt.port = port
	rt.ch = channel.New(cfg.Channel.Interface, port)
	rt.ch.SetMetrics(rt.metrics)

	notReadyPolicy := engine.HoldUntilRecovery
	if cfg.Channel.NotReadyPolicy == "fail-immediate" {
		notReadyPolicy = engine.FailFast
	}
	rt.eng = engine.New(rt.ch, engine.Options{
		QueueCapacity:  cfg.Engine.QueueCapacity,
		NotReadyPolicy: notReadyPolicy,
		Metrics:        rt.metrics,
	})

	rt.startedAt = time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", rt.healthHandler(rt.startedAt))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	rt.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	authenticator, gate, err := buildAuth(cfg, store)
	if err != nil {
		return nil, err
	}
	rt.gate = gate
	_ = authenticator

	s := splitter.New(splitter.NewSchemaValidator())
	if err := handlers.RegisterAll(s, handlers.Registry, rt.eng, rt.sbox); err != nil {
		return nil, fmt.Errorf("runtime: register handlers: %w", err)
	}
	rt.dispatcher = auth.NewAuthenticatingDispatcher(s, gate)

	rt.transports, err = buildTransports(cfg, rt.dispatcher, gate, rt.metrics)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

// buildAuth assembles the AuthProvider chain from whichever credentials
// are configured: the repository-backed static-token provider always
// registers (spec.md §6's wire token format lives in the catalog), the
// JWT provider registers only when a signing secret was configured.
func buildAuth(cfg *config.Config, store *repository.Store) (*auth.Authenticator, *auth.Gate, error) {
	providers := []auth.AuthProvider{auth.NewStaticTokenProvider(store)}

	if cfg.Auth.JWTSecret != "" {
		jwtProvider, err := auth.NewJWTProvider(auth.JWTConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.JWTIssuer,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: build jwt provider: %w", err)
		}
		providers = append(providers, jwtProvider)
	}

	authenticator := auth.NewAuthenticator(providers...)
	return authenticator, auth.NewGate(authenticator), nil
}

// buildTransports constructs a Server for every transport enabled in cfg.
func buildTransports(cfg *config.Config, dispatcher transport.Dispatcher, gate *auth.Gate, m *metrics.Metrics) ([]transport.Server, error) {
	var servers []transport.Server

	if cfg.Transports.WebSocket.Enabled {
		servers = append(servers, transport.NewWebSocketServer(transport.WebSocketConfig{
			Addr:              cfg.Transports.WebSocket.Addr,
			Path:              cfg.Transports.WebSocket.Path,
			SendQueueCapacity: cfg.Transports.WebSocket.SendQueueCapacity,
			MaxMessageSize:    cfg.Transports.WebSocket.MaxMessageSize,
			Gate:              requireGate(cfg.Transports.WebSocket.RequireToken, gate),
			Metrics:           m,
		}, dispatcher))
	}
	if cfg.Transports.UnixSocket.Enabled {
		servers = append(servers, transport.NewUnixSocketServer(transport.UnixSocketConfig{
			Path:              cfg.Transports.UnixSocket.Path,
			SendQueueCapacity: cfg.Transports.UnixSocket.SendQueueCapacity,
			MaxMessageSize:    cfg.Transports.UnixSocket.MaxMessageSize,
			Metrics:           m,
		}, dispatcher))
	}
	if cfg.Transports.UDP.Enabled {
		servers = append(servers, transport.NewUDPServer(transport.UDPConfig{
			Addr:    cfg.Transports.UDP.Addr,
			Metrics: m,
		}, dispatcher))
	}
	if cfg.Transports.MQTT.Enabled {
		servers = append(servers, transport.NewMQTTServer(transport.MQTTConfig{
			Broker:            cfg.Transports.MQTT.Broker,
			ClientID:          cfg.Transports.MQTT.ClientID,
			RequestTopic:      cfg.Transports.MQTT.RequestTopic,
			ResponseTopic:     cfg.Transports.MQTT.ResponseTopic,
			QoS:               cfg.Transports.MQTT.QoS,
			SendQueueCapacity: cfg.Transports.MQTT.SendQueueCapacity,
			ConnectTimeout:    cfg.Transports.MQTT.ConnectTimeout,
			Metrics:           m,
		}, dispatcher))
	}

	if len(servers) == 0 {
		return nil, errors.New("runtime: no transport enabled")
	}
	return servers, nil
}

func requireGate(required bool, gate *auth.Gate) *auth.Gate {
	if !required {
		return nil
	}
	return gate
}

// Run opens the Channel, starts the DpaEngine worker and every
// configured transport, and blocks until ctx is cancelled. On return
// every component has been stopped.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.ch.Open(ctx); err != nil {
		return fmt.Errorf("runtime: open channel: %w", err)
	}
	if err := rt.eng.Run(ctx); err != nil {
		return fmt.Errorf("runtime: start engine: %w", err)
	}

	errCh := make(chan error, len(rt.transports)+1)

	for _, srv := range rt.transports {
		rt.wg.Add(1)
		go func(s transport.Server) {
			defer rt.wg.Done()
			if err := s.Serve(ctx); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}(srv)
	}

	if rt.metricsServer != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errCh <- fmt.Errorf("runtime: metrics server: %w", err):
				default:
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-rt.stopCh:
	case err := <-errCh:
		rt.Stop()
		return err
	}

	rt.Stop()
	return nil
}

// Stop gracefully tears down every transport, the metrics server, the
// DpaEngine, the Channel and the telemetry/profiling exporters, bounded
// by cfg.ShutdownTimeout. Idempotent.
func (rt *Runtime) Stop() {
	rt.stopOnce.Do(func() {
		close(rt.stopCh)

		for _, srv := range rt.transports {
			srv.Stop()
		}
		if rt.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
			_ = rt.metricsServer.Shutdown(shutdownCtx)
			cancel()
		}

		done := make(chan struct{})
		go func() {
			rt.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(rt.cfg.ShutdownTimeout):
			logger.Warn("runtime: transports did not drain within shutdown timeout")
		}

		rt.eng.Stop()
		if err := rt.ch.Close(); err != nil {
			logger.Warn("runtime: channel close error", "error", err)
		}
		if err := rt.store.Close(); err != nil {
			logger.Warn("runtime: repository close error", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
		defer cancel()
		if rt.telemetryShutdown != nil {
			if err := rt.telemetryShutdown(shutdownCtx); err != nil {
				logger.Warn("runtime: telemetry shutdown error", "error", err)
			}
		}
		if rt.profilingShutdown != nil {
			if err := rt.profilingShutdown(); err != nil {
				logger.Warn("runtime: profiling shutdown error", "error", err)
			}
		}
	})
}

// Metrics exposes the Runtime's Prometheus collector, e.g. for wiring
// into engine/transport/channel call sites constructed elsewhere.
func (rt *Runtime) Metrics() *metrics.Metrics { return rt.metrics }

// Engine exposes the running DpaEngine, for CLI/status tooling.
func (rt *Runtime) Engine() *engine.Engine { return rt.eng }
