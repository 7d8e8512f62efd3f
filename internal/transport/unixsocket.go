package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/iqrfgd2/daemon/internal/bytesize"
	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/splitter"
)

// maxUnixConns bounds concurrent local clients on the control socket.
const maxUnixConns = 64

// UnixSocketConfig configures a UnixSocketServer.
type UnixSocketConfig struct {
	// Path is the filesystem path of the Unix domain socket.
	Path string
	// SendQueueCapacity bounds each connection's outbound BoundedSender.
	SendQueueCapacity int
	// MaxMessageSize bounds a single inbound line; 0 uses
	// defaultMaxMessageSize.
	MaxMessageSize bytesize.ByteSize
	// Metrics records inbound/outbound message counts. Nil is a no-op.
	Metrics *metrics.Metrics
}

func (c UnixSocketConfig) withDefaults() UnixSocketConfig {
	if c.SendQueueCapacity <= 0 {
		c.SendQueueCapacity = defaultSendQueueCapacity
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// UnixSocketServer accepts newline-delimited JSON-RPC messages over a
// Unix domain socket, one JSON object per line in each direction. Grounded
// on the teacher's TCP accept-loop-plus-semaphore lifecycle
// (internal/adapter/nfs/portmap/server.go), adapted to a framing simpler
// than RPC record marking since each message here is self-delimiting JSON.
type UnixSocketServer struct {
	cfg        UnixSocketConfig
	dispatcher Dispatcher

	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	connSem      chan struct{}
}

// NewUnixSocketServer creates a UnixSocketServer bound to dispatcher.
func NewUnixSocketServer(cfg UnixSocketConfig, dispatcher Dispatcher) *UnixSocketServer {
	cfg = cfg.withDefaults()
	return &UnixSocketServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		shutdown:   make(chan struct{}),
		connSem:    make(chan struct{}, maxUnixConns),
	}
}

// Serve removes any stale socket file, binds Path, and accepts connections
// until ctx is cancelled or Stop is called.
func (s *UnixSocketServer) Serve(ctx context.Context) error {
	_ = os.Remove(s.cfg.Path)

	ln, err := net.Listen("unix", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("transport: unix socket listen %s: %w", s.cfg.Path, err)
	}
	s.listener = ln

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	logger.Info("unix socket transport listening", logger.Transport("unixsocket"), logger.Interface(s.cfg.Path))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("transport: unix socket accept: %w", err)
			}
		}

		select {
		case s.connSem <- struct{}{}:
		default:
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSem }()
			s.handleConn(c)
		}(conn)
	}
}

// Stop closes the listener and removes the socket file. It does not wait
// for active connection handlers; Serve waits for them before returning.
func (s *UnixSocketServer) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		_ = os.Remove(s.cfg.Path)
	})
}

func (s *UnixSocketServer) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	var writeMu sync.Mutex
	sender := splitter.NewBoundedSender("unixsocket", s.cfg.SendQueueCapacity, func(resp splitter.Response) error {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(append(b, '\n'))
		if err == nil {
			s.cfg.Metrics.RecordTransportMessage("unixsocket", "outbound")
		}
		return err
	}, nil)
	sender.SetMetrics(s.cfg.Metrics)
	defer sender.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), int(s.cfg.MaxMessageSize))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		s.cfg.Metrics.RecordTransportMessage("unixsocket", "inbound")
		s.dispatcher.Dispatch(raw, sender)
	}
}
