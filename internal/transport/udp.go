package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/splitter"
)

// udpReadDeadline bounds each ReadFromUDP call so the accept loop can
// observe shutdown periodically, matching the teacher's serveUDP
// (internal/adapter/nfs/portmap/server.go).
const udpReadDeadline = 500 * time.Millisecond

// maxUDPPacket is the largest UDP datagram this transport will read.
const maxUDPPacket = 65535

// UDPConfig configures a UDPServer.
type UDPConfig struct {
	// Addr is the listen address, e.g. ":1339".
	Addr string
	// Metrics records inbound/outbound message counts. Nil is a no-op.
	Metrics *metrics.Metrics
}

// UDPServer treats each inbound datagram as one complete JSON-RPC
// message (no record marking) and replies to the originating address,
// mirroring the teacher's portmapper UDP path.
type UDPServer struct {
	cfg        UDPConfig
	dispatcher Dispatcher

	conn         *net.UDPConn
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewUDPServer creates a UDPServer bound to dispatcher.
func NewUDPServer(cfg UDPConfig, dispatcher Dispatcher) *UDPServer {
	return &UDPServer{cfg: cfg, dispatcher: dispatcher, shutdown: make(chan struct{})}
}

// Serve binds the UDP socket and reads datagrams until ctx is cancelled or
// Stop is called.
func (s *UDPServer) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: udp resolve %s: %w", s.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: udp listen %s: %w", s.cfg.Addr, err)
	}
	s.conn = conn

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	logger.Info("udp transport listening", logger.Transport("udp"))

	s.wg.Add(1)
	defer s.wg.Done()

	buf := make([]byte, maxUDPPacket)
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(udpReadDeadline)); err != nil {
			continue
		}

		n, client, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return nil
			default:
				logger.Warn("udp read error", logger.Err(err))
				continue
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		s.cfg.Metrics.RecordTransportMessage("udp", "inbound")
		sender := udpReplySender{conn: conn, addr: client, metrics: s.cfg.Metrics}
		s.dispatcher.Dispatch(raw, sender)
	}
}

// Stop closes the UDP socket.
func (s *UDPServer) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
	s.wg.Wait()
}

// udpReplySender sends one Response back to the datagram's originating
// address. Stateless and cheap to construct per-packet since UDP has no
// connection to hold a BoundedSender's queue open against.
type udpReplySender struct {
	conn    *net.UDPConn
	addr    *net.UDPAddr
	metrics *metrics.Metrics
}

func (s udpReplySender) Send(resp splitter.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, s.addr)
	if err == nil {
		s.metrics.RecordTransportMessage("udp", "outbound")
	}
	return err
}
