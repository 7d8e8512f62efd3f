package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iqrfgd2/daemon/internal/auth"
	"github.com/iqrfgd2/daemon/internal/bytesize"
	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/splitter"
)

// maxWSConns bounds concurrent WebSocket clients, mirroring the teacher's
// connection-semaphore pattern for its portmapper TCP listener.
const maxWSConns = 256

// defaultMaxMessageSize bounds an inbound JSON-RPC message before a
// driver script or a misbehaving client can force unbounded buffering.
const defaultMaxMessageSize = 1 * bytesize.MiB

// WebSocketConfig configures a WebSocketServer.
type WebSocketConfig struct {
	// Addr is the listen address, e.g. ":1338".
	Addr string
	// Path is the HTTP path the WebSocket upgrade is served on.
	Path string
	// SendQueueCapacity bounds each connection's outbound BoundedSender.
	SendQueueCapacity int
	// MaxMessageSize bounds a single inbound frame; 0 uses
	// defaultMaxMessageSize.
	MaxMessageSize bytesize.ByteSize
	// Gate authenticates the "token" query parameter on upgrade. Nil
	// admits every connection, for deployments binding this transport to
	// a trusted loopback interface only.
	Gate *auth.Gate
	// Metrics records inbound/outbound message counts. Nil is a no-op.
	Metrics *metrics.Metrics
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SendQueueCapacity <= 0 {
		c.SendQueueCapacity = defaultSendQueueCapacity
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// WebSocketServer accepts JSON-RPC messages over WebSocket connections,
// dispatching each inbound frame to Dispatcher and delivering responses
// back over the same connection through a per-connection BoundedSender.
type WebSocketServer struct {
	cfg        WebSocketConfig
	dispatcher Dispatcher
	upgrader   websocket.Upgrader

	httpSrv      *http.Server
	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	connSem      chan struct{}
}

// NewWebSocketServer creates a WebSocketServer bound to dispatcher.
func NewWebSocketServer(cfg WebSocketConfig, dispatcher Dispatcher) *WebSocketServer {
	cfg = cfg.withDefaults()
	return &WebSocketServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		shutdown:   make(chan struct{}),
		connSem:    make(chan struct{}, maxWSConns),
	}
}

// Serve starts the HTTP listener and blocks until ctx is cancelled or Stop
// is called.
func (s *WebSocketServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: websocket listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	logger.Info("websocket transport listening", logger.Transport("websocket"))
	err = s.httpSrv.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("transport: websocket serve: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Stop closes the listener and waits for active connection handlers to
// finish.
func (s *WebSocketServer) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.httpSrv != nil {
			_ = s.httpSrv.Close()
		}
	})
	s.wg.Wait()
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gate != nil {
		if _, err := s.cfg.Gate.Check(r.Context(), []byte(r.URL.Query().Get("token"))); err != nil {
			logger.Warn("websocket auth rejected", logger.Err(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	select {
	case s.connSem <- struct{}{}:
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-s.connSem }()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConn(conn)
}

func (s *WebSocketServer) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	// http.Server.Close does not close hijacked connections, so close this
	// one on shutdown to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(int64(s.cfg.MaxMessageSize))

	var writeMu sync.Mutex
	sender := splitter.NewBoundedSender("websocket", s.cfg.SendQueueCapacity, func(resp splitter.Response) error {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		err = conn.WriteMessage(websocket.TextMessage, b)
		if err == nil {
			s.cfg.Metrics.RecordTransportMessage("websocket", "outbound")
		}
		return err
	}, nil)
	sender.SetMetrics(s.cfg.Metrics)
	defer sender.Close()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.cfg.Metrics.RecordTransportMessage("websocket", "inbound")
		s.dispatcher.Dispatch(raw, sender)
	}
}
