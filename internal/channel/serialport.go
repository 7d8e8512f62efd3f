package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// openTimeout bounds how long the vendor presence handshake waits for a
// reply before Open fails.
const openTimeout = 2 * time.Second

// handshakeFrame is the zero-length probe frame sent on Open: any reply
// (including a vendor-busy NAK) proves the coordinator is alive on iface.
var handshakeFrame = []byte{}

// busyMarker is the length byte of a vendor-busy NAK; the
// coordinator uses this to signal a transient busy condition instead of
// replying with a real frame (spec.md §4.1).
const busyMarker = 0xFF

// SerialPortConfig configures a SerialPort.
type SerialPortConfig struct {
	// Device is the OS device path, e.g. "/dev/ttyACM0" or "COM3".
	Device string
	// Baud is the serial line rate, e.g. 57600.
	Baud int
}

// SerialPort is the go.bug.st/serial-backed Transport a production Channel
// drives. Frames are delimited with a one-byte length prefix followed by
// an XOR checksum byte, matching the length+checksum wrapping a coordinator
// module's UART/CDC interface uses around each DPA frame.
type SerialPort struct {
	cfg SerialPortConfig

	mu   sync.Mutex
	port serial.Port
	r    *bufio.Reader
}

// NewSerialPort creates a SerialPort bound to cfg. Open must be called
// before Write/Read.
func NewSerialPort(cfg SerialPortConfig) *SerialPort {
	return &SerialPort{cfg: cfg}
}

// Open opens the device at the configured baud rate and performs the
// vendor presence handshake: a zero-length probe frame, expecting any
// reply within openTimeout.
func (p *SerialPort) Open(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: p.cfg.Baud}
	port, err := serial.Open(p.cfg.Device, mode)
	if err != nil {
		return fmt.Errorf("channel: open serial port %q: %w", p.cfg.Device, err)
	}

	p.mu.Lock()
	p.port = port
	p.r = bufio.NewReader(port)
	p.mu.Unlock()

	if err := port.SetReadTimeout(openTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("channel: set read timeout: %w", err)
	}

	if err := p.writeLocked(handshakeFrame); err != nil {
		_ = port.Close()
		return fmt.Errorf("channel: vendor handshake write: %w", err)
	}
	if _, err := p.readFrame(); err != nil {
		_ = port.Close()
		return fmt.Errorf("channel: vendor handshake reply: %w", err)
	}

	// Subsequent reads time out every 100ms so that Read(ctx) can poll
	// for cancellation between attempts.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return fmt.Errorf("channel: set read timeout: %w", err)
	}
	return nil
}

// Write wraps frame in the length+checksum envelope and writes it.
func (p *SerialPort) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(frame)
}

func (p *SerialPort) writeLocked(frame []byte) error {
	if len(frame) > 0xFE {
		return fmt.Errorf("channel: frame too long for serial envelope: %d bytes", len(frame))
	}
	buf := make([]byte, 0, len(frame)+2)
	buf = append(buf, byte(len(frame)))
	buf = append(buf, frame...)
	buf = append(buf, checksum(frame))
	_, err := p.port.Write(buf)
	return err
}

func checksum(frame []byte) byte {
	var c byte
	for _, b := range frame {
		c ^= b
	}
	return c
}

// Read blocks until the next inbound frame, a vendor-busy NAK (surfaced
// as ErrVendorBusy), or ctx is done.
func (p *SerialPort) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame, err := p.readFrame()
		if err == nil {
			return frame, nil
		}
		if err == errBusyNAK {
			return nil, ErrVendorBusy
		}
		if isTimeout(err) {
			continue
		}
		return nil, err
	}
}

var errBusyNAK = fmt.Errorf("channel: vendor busy NAK")

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// readFrame reads one length-prefixed frame (with no external cancellation
// aside from the port's own read-timeout granularity).
func (p *SerialPort) readFrame() ([]byte, error) {
	p.mu.Lock()
	r := p.r
	p.mu.Unlock()

	length, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if length == busyMarker {
		return nil, errBusyNAK
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	want, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if got := checksum(frame); got != want {
		return nil, fmt.Errorf("channel: frame checksum mismatch: got %02x want %02x", got, want)
	}
	return frame, nil
}

// Close releases the underlying device.
func (p *SerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}
