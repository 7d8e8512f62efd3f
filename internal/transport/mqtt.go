package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/splitter"
)

// MQTTConfig configures an MQTTServer.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string
	// ClientID identifies this connection to the broker.
	ClientID string
	// RequestTopic is subscribed for inbound JSON-RPC messages.
	RequestTopic string
	// ResponseTopic is published to for outbound JSON-RPC messages.
	ResponseTopic string
	// QoS applies to both subscription and publish.
	QoS byte
	// SendQueueCapacity bounds the outbound BoundedSender.
	SendQueueCapacity int
	// ConnectTimeout bounds the initial broker connection attempt.
	ConnectTimeout time.Duration
	// Metrics records inbound/outbound message counts. Nil is a no-op.
	Metrics *metrics.Metrics
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.SendQueueCapacity <= 0 {
		c.SendQueueCapacity = defaultSendQueueCapacity
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// MQTTServer bridges one request/response topic pair to a Dispatcher. One
// BoundedSender serves the single shared ResponseTopic, since MQTT (unlike
// WebSocket/Unix-socket) has no per-client connection to hold a queue
// against.
type MQTTServer struct {
	cfg        MQTTConfig
	dispatcher Dispatcher
	client     mqtt.Client
	sender     *splitter.BoundedSender
	stopOnce   sync.Once
}

// NewMQTTServer creates an MQTTServer bound to dispatcher.
func NewMQTTServer(cfg MQTTConfig, dispatcher Dispatcher) *MQTTServer {
	return &MQTTServer{cfg: cfg.withDefaults(), dispatcher: dispatcher}
}

// Serve connects to the broker, subscribes to RequestTopic, and blocks
// until ctx is cancelled or Stop is called.
func (s *MQTTServer) Serve(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.ConnectTimeout)

	s.client = mqtt.NewClient(opts)
	if tok := s.client.Connect(); !tok.WaitTimeout(s.cfg.ConnectTimeout) || tok.Error() != nil {
		if tok.Error() != nil {
			return fmt.Errorf("transport: mqtt connect %s: %w", s.cfg.Broker, tok.Error())
		}
		return fmt.Errorf("transport: mqtt connect %s: timed out", s.cfg.Broker)
	}

	s.sender = splitter.NewBoundedSender("mqtt", s.cfg.SendQueueCapacity, func(resp splitter.Response) error {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		tok := s.client.Publish(s.cfg.ResponseTopic, s.cfg.QoS, false, b)
		tok.Wait()
		if err := tok.Error(); err != nil {
			return err
		}
		s.cfg.Metrics.RecordTransportMessage("mqtt", "outbound")
		return nil
	}, nil)
	s.sender.SetMetrics(s.cfg.Metrics)

	if tok := s.client.Subscribe(s.cfg.RequestTopic, s.cfg.QoS, s.onMessage); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("transport: mqtt subscribe %s: %w", s.cfg.RequestTopic, tok.Error())
	}

	logger.Info("mqtt transport connected", logger.Transport("mqtt"))

	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *MQTTServer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	raw := make([]byte, len(msg.Payload()))
	copy(raw, msg.Payload())
	s.cfg.Metrics.RecordTransportMessage("mqtt", "inbound")
	s.dispatcher.Dispatch(raw, s.sender)
}

// Stop disconnects from the broker and closes the outbound queue.
func (s *MQTTServer) Stop() {
	s.stopOnce.Do(func() {
		if s.sender != nil {
			s.sender.Close()
		}
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(250)
		}
	})
}
