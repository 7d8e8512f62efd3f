// Package transport implements the daemon's JSON-RPC ingress/egress
// surfaces: WebSocket, MQTT, UDP datagram and Unix domain socket. Each
// transport feeds inbound frames to a Dispatcher (normally *splitter.
// Splitter). The WebSocket, Unix-socket and MQTT transports wrap their
// outbound path in a splitter.BoundedSender for backpressure (spec.md
// §4.5); UDP replies directly to each datagram's sender.
package transport

import (
	"context"
	"encoding/json"

	"github.com/iqrfgd2/daemon/internal/splitter"
)

// Dispatcher is the subset of *splitter.Splitter every transport needs.
type Dispatcher interface {
	Dispatch(raw json.RawMessage, sender splitter.Sender)
}

// Server is the lifecycle every transport implementation exposes:
// Serve blocks (like net.Listener-based servers in the teacher's
// adapter layer) until ctx is cancelled or Stop is called; Stop is
// idempotent. Whether Stop itself waits for in-flight connection
// handlers depends on the implementation (see each Stop).
type Server interface {
	Serve(ctx context.Context) error
	Stop()
}

// defaultSendQueueCapacity bounds the synthetic send queue the
// BoundedSender maintains per connection/subscription when a transport
// does not compute a more specific figure.
const defaultSendQueueCapacity = 32
