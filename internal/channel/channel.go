// Package channel owns the serial-attached coordinator endpoint: it
// serializes writes from at most one non-sniffer subscriber at a time and
// fans inbound frames out to whichever subscriber slots are registered.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/telemetry"
)

// State is the Channel's readiness, driven by open/close outcomes and I/O
// failures (spec.md §3 ChannelState).
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not_ready"
}

// Mode is the access discipline an AccessToken was granted under
// (spec.md §3 AccessToken).
type Mode int

const (
	Normal Mode = iota
	Exclusive
	Sniffer
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Exclusive:
		return "exclusive"
	case Sniffer:
		return "sniffer"
	default:
		return "unknown"
	}
}

const (
	busyRetryAttempts = 4
	busyRetryBackoff  = 100 * time.Millisecond
)

var (
	// ErrModeBusy is returned by GetAccess when the requested non-sniffer
	// slot is already occupied.
	ErrModeBusy = errors.New("channel: mode busy")
	// ErrNotReady is returned by Send when the device has not completed
	// its open handshake, or has since failed.
	ErrNotReady = errors.New("channel: not ready")
	// ErrSnifferWriteForbidden is returned by Send for mode=Sniffer.
	ErrSnifferWriteForbidden = errors.New("channel: sniffer write forbidden")
	// ErrNormalBlockedByExclusive is returned by Send for mode=Normal
	// while an Exclusive token is held.
	ErrNormalBlockedByExclusive = errors.New("channel: normal send blocked by exclusive access")
	// ErrChannelBusy is returned by Send after exhausting vendor-busy retries.
	ErrChannelBusy = errors.New("channel: vendor busy, retries exhausted")
	// ErrUnknownToken is returned by Drop for a token not currently registered.
	ErrUnknownToken = errors.New("channel: unknown access token")
)

// Transport is the serial/CDC device abstraction the Channel drives. A real
// implementation wraps a go.bug.st/serial Port; tests substitute a fake.
type Transport interface {
	// Open performs the vendor test handshake. A non-nil error means the
	// device could not be brought up.
	Open(ctx context.Context) error
	// Write sends one frame. ErrVendorBusy signals the caller should retry
	// with backoff; any other error is terminal and marks the Channel down.
	Write(frame []byte) error
	// Read blocks until the next inbound frame or ctx is done.
	Read(ctx context.Context) ([]byte, error)
	// Close releases the underlying device.
	Close() error
}

// ErrVendorBusy is returned by Transport.Write when the vendor module
// signals transient busy; the Channel retries per spec.md §4.1.
var ErrVendorBusy = errors.New("channel: vendor busy")

// AccessToken is a scoped handle to one subscriber slot. Dropping it (via
// Channel.Drop) releases the slot.
type AccessToken struct {
	id   uint64
	mode Mode
}

// Mode returns the access mode this token was granted under.
func (t AccessToken) Mode() Mode { return t.mode }

// ReceiveFunc is invoked for every inbound frame delivered to a slot. down
// is true for the synthetic channel-down notification (spec.md §4.1), in
// which case frame is nil.
type ReceiveFunc func(frame []byte, down bool)

type slot struct {
	token   AccessToken
	receive ReceiveFunc
}

// Channel is the single-writer serial endpoint. Safe for concurrent use:
// Send, GetAccess and Drop all take the internal mutex; the reader loop
// runs on its own goroutine started by Open.
type Channel struct {
	transport Transport
	iface     string
	metrics   *metrics.Metrics

	mu       sync.Mutex
	state    State
	nextID   uint64
	normal   *slot
	excl     *slot
	sniffers []*slot

	readerCancel context.CancelFunc
	readerDone   chan struct{}
}

// New creates a Channel bound to transport, identified by iface for logging.
func New(iface string, transport Transport) *Channel {
	return &Channel{transport: transport, iface: iface, state: NotReady}
}

// SetMetrics attaches m for vendor-busy retry observations. Nil is a
// valid no-op value (the zero value left by New).
func (c *Channel) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// State returns the current readiness.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open performs the vendor handshake and, on success, starts the reader
// loop that fans inbound frames out to subscriber slots. Safe to call once;
// a failed Open leaves the Channel NotReady and Send fails fast.
func (c *Channel) Open(ctx context.Context) error {
	if err := c.transport.Open(ctx); err != nil {
		c.mu.Lock()
		c.state = NotReady
		c.mu.Unlock()
		logger.WarnCtx(ctx, "channel open handshake failed", logger.Interface(c.iface), logger.Err(err))
		return fmt.Errorf("channel: open %q: %w", c.iface, err)
	}

	c.mu.Lock()
	c.state = Ready
	readerCtx, cancel := context.WithCancel(context.Background())
	c.readerCancel = cancel
	c.readerDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(readerCtx)
	logger.InfoCtx(ctx, "channel ready", logger.Interface(c.iface))
	return nil
}

// Close stops the reader loop and releases the underlying device.
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel := c.readerCancel
	done := c.readerDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return c.transport.Close()
}

// GetAccess registers onReceive into the slot for mode. Fails with
// ErrModeBusy if mode is Normal or Exclusive and the slot is already taken.
func (c *Channel) GetAccess(mode Mode, onReceive ReceiveFunc) (AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	tok := AccessToken{id: c.nextID, mode: mode}
	s := &slot{token: tok, receive: onReceive}

	switch mode {
	case Normal:
		if c.normal != nil {
			return AccessToken{}, ErrModeBusy
		}
		c.normal = s
	case Exclusive:
		if c.excl != nil {
			return AccessToken{}, ErrModeBusy
		}
		c.excl = s
	case Sniffer:
		c.sniffers = append(c.sniffers, s)
	default:
		return AccessToken{}, fmt.Errorf("channel: unknown mode %v", mode)
	}
	return tok, nil
}

// Drop removes the slot associated with tok. If it was Exclusive, Normal
// sends resume immediately.
func (c *Channel) Drop(tok AccessToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch tok.mode {
	case Normal:
		if c.normal == nil || c.normal.token.id != tok.id {
			return ErrUnknownToken
		}
		c.normal = nil
	case Exclusive:
		if c.excl == nil || c.excl.token.id != tok.id {
			return ErrUnknownToken
		}
		c.excl = nil
	case Sniffer:
		for i, s := range c.sniffers {
			if s.token.id == tok.id {
				c.sniffers = append(c.sniffers[:i], c.sniffers[i+1:]...)
				return nil
			}
		}
		return ErrUnknownToken
	default:
		return ErrUnknownToken
	}
	return nil
}

// Send writes frame under the given mode's access rules (spec.md §4.1):
// Sniffer may never write; Normal is blocked while Exclusive is held;
// Exclusive always writes. Vendor-busy responses are retried up to 4 times
// with a 100ms backoff before failing.
func (c *Channel) Send(ctx context.Context, frame []byte, mode Mode) error {
	ctx, span := telemetry.StartChannelSendSpan(ctx, c.iface)
	defer span.End()

	if mode == Sniffer {
		return ErrSnifferWriteForbidden
	}

	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	if mode == Normal && c.excl != nil {
		c.mu.Unlock()
		return ErrNormalBlockedByExclusive
	}
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= busyRetryAttempts; attempt++ {
		err := c.transport.Write(frame)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVendorBusy) {
			c.markDown(ctx, err)
			return fmt.Errorf("channel: write: %w", err)
		}
		lastErr = err
		c.metrics.RecordChannelRetry()
		if attempt == busyRetryAttempts {
			break
		}
		logger.DebugCtx(ctx, "channel vendor busy, retrying",
			logger.Interface(c.iface), logger.RetryCount(attempt+1))
		select {
		case <-time.After(busyRetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logger.WarnCtx(ctx, "channel send exhausted retries", logger.Interface(c.iface), logger.Err(lastErr))
	return ErrChannelBusy
}

// readLoop blocks on the transport and dispatches inbound frames per the
// slot-priority rule in spec.md §4.1: Exclusive (plus all Sniffers) wins
// over Normal; Sniffers receive every frame, and a frame is dropped only
// when no slot of any mode is registered.
func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	for {
		frame, err := c.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.markDown(ctx, err)
			return
		}
		c.dispatch(frame, false)
	}
}

func (c *Channel) dispatch(frame []byte, down bool) {
	c.mu.Lock()
	var primary *slot
	if c.excl != nil {
		primary = c.excl
	} else {
		primary = c.normal
	}
	sniffers := append([]*slot(nil), c.sniffers...)
	c.mu.Unlock()

	if primary == nil && len(sniffers) == 0 {
		logger.Warn("channel: no subscriber for inbound frame", logger.FrameHex(frame))
		return
	}
	if primary != nil {
		primary.receive(frame, down)
	}
	for _, s := range sniffers {
		s.receive(frame, down)
	}
}

// markDown transitions the Channel to NotReady and injects a synthetic
// channel-down notification to every current slot (spec.md §4.1 failure
// semantics); in-flight transactions are aborted by the owning DpaEngine,
// which observes State() going NotReady.
func (c *Channel) markDown(ctx context.Context, cause error) {
	c.mu.Lock()
	c.state = NotReady
	c.mu.Unlock()
	logger.ErrorCtx(ctx, "channel down", logger.Interface(c.iface), logger.Err(cause))
	c.dispatch(nil, true)
}
