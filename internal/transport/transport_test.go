package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/splitter"
)

// recordingDispatcher captures every Dispatch call and echoes a fixed
// Response back through the supplied sender, exercising both the inbound
// and outbound path of a transport without needing a real Splitter.
type recordingDispatcher struct {
	mu   sync.Mutex
	seen []string
}

func (d *recordingDispatcher) Dispatch(raw json.RawMessage, sender splitter.Sender) {
	d.mu.Lock()
	d.seen = append(d.seen, string(raw))
	d.mu.Unlock()
	_ = sender.Send(splitter.Response{MType: "echo", Data: splitter.ResponseData{MsgID: "x", Status: 0}})
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func TestWebSocketServer_RoundTrip(t *testing.T) {
	disp := &recordingDispatcher{}
	srv := NewWebSocketServer(WebSocketConfig{Addr: "127.0.0.1:0", Path: "/ws"}, disp)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	srv.cfg.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Serve(ctx) }()
	waitListening(t, addr)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"mType":"ping","data":{"msgId":"1"}}`)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp splitter.Response
	require.NoError(t, json.Unmarshal(msg, &resp))
	assert.Equal(t, "echo", resp.MType)
	assert.Equal(t, 1, disp.count())

	srv.Stop()
}

func TestUnixSocketServer_RoundTrip(t *testing.T) {
	disp := &recordingDispatcher{}
	path := t.TempDir() + "/iqrfgd2.sock"
	srv := NewUnixSocketServer(UnixSocketConfig{Path: path}, disp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Serve(ctx) }()
	waitFile(t, path)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"mType":"ping","data":{"msgId":"1"}}` + "\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var resp splitter.Response
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	assert.Equal(t, "echo", resp.MType)
	assert.Equal(t, 1, disp.count())

	srv.Stop()
}

func TestUDPServer_RoundTrip(t *testing.T) {
	disp := &recordingDispatcher{}

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := NewUDPServer(UDPConfig{Addr: addr}, disp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Serve(ctx) }()
	waitListening(t, addr)

	raddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"mType":"ping","data":{"msgId":"1"}}`))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var resp splitter.Response
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	assert.Equal(t, "echo", resp.MType)

	srv.Stop()
}

func TestMQTTServer_OnMessageDispatches(t *testing.T) {
	disp := &recordingDispatcher{}
	srv := NewMQTTServer(MQTTConfig{RequestTopic: "iqrfgd2/request", ResponseTopic: "iqrfgd2/response"}, disp)
	srv.sender = splitter.NewBoundedSender("mqtt", 4, func(splitter.Response) error { return nil }, nil)
	defer srv.sender.Close()

	srv.onMessage(nil, fakeMQTTMessage{payload: []byte(`{"mType":"ping","data":{"msgId":"1"}}`)})

	assert.Equal(t, 1, disp.count())
}

// fakeMQTTMessage implements mqtt.Message for exercising onMessage without a
// real broker connection.
type fakeMQTTMessage struct {
	payload []byte
}

func (m fakeMQTTMessage) Duplicate() bool   { return false }
func (m fakeMQTTMessage) Qos() byte         { return 0 }
func (m fakeMQTTMessage) Retained() bool    { return false }
func (m fakeMQTTMessage) Topic() string     { return "iqrfgd2/request" }
func (m fakeMQTTMessage) MessageID() uint16 { return 0 }
func (m fakeMQTTMessage) Payload() []byte   { return m.payload }
func (m fakeMQTTMessage) Ack()              {}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		if _, _, uerr := net.SplitHostPort(addr); uerr == nil {
			if c, err := net.Dial("udp", addr); err == nil {
				c.Close()
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never started listening", addr)
}

func waitFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
