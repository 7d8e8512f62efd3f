package logger

import (
	"encoding/hex"
	"log/slog"
)

// Standard field keys for structured logging across the daemon. Use these
// constants (and the builder functions below) consistently so log
// aggregation and querying stay uniform across Channel, DpaEngine,
// DriverSandbox, MessageSplitter and the transports.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// JSON-RPC correlation
	KeyMType       = "mtype"
	KeyMsgID       = "msg_id"
	KeyMessagingID = "messaging_id"
	KeyTransport   = "transport"

	// DPA frame / transaction
	KeyNAdr       = "nadr"
	KeyPNum       = "pnum"
	KeyPCmd       = "pcmd"
	KeyHWPID      = "hwpid"
	KeyRCode      = "rcode"
	KeyState      = "state"
	KeyTimeoutMs  = "timeout_ms"
	KeyRepeat     = "repeat"
	KeyFrameHex   = "frame_hex"
	KeyDurationMs = "duration_ms"

	// Channel / access arbitration
	KeyAccessMode  = "access_mode"
	KeyInterface   = "interface"
	KeyRetryCount  = "retry_count"
	KeyQueueDepth  = "queue_depth"
	KeyQueueLength = "queue_length"
	KeyQueueType   = "queue_type"

	// Errors
	KeyError     = "error"
	KeyErrorCode = "error_code"

	// Driver sandbox
	KeyDriverID   = "driver_id"
	KeyDriverFunc = "driver_func"
)

// TraceID builds a trace_id attribute.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID builds a span_id attribute.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// MType builds an mtype attribute.
func MType(v string) slog.Attr { return slog.String(KeyMType, v) }

// MsgID builds a msg_id attribute.
func MsgID(v string) slog.Attr { return slog.String(KeyMsgID, v) }

// MessagingID builds a messaging_id attribute.
func MessagingID(v string) slog.Attr { return slog.String(KeyMessagingID, v) }

// Transport builds a transport attribute.
func Transport(v string) slog.Attr { return slog.String(KeyTransport, v) }

// NAdr builds a nadr attribute, rendered in hex as on the wire.
func NAdr(v uint16) slog.Attr { return slog.String(KeyNAdr, hexU16(v)) }

// PNum builds a pnum attribute.
func PNum(v uint8) slog.Attr { return slog.String(KeyPNum, hexU8(v)) }

// PCmd builds a pcmd attribute.
func PCmd(v uint8) slog.Attr { return slog.String(KeyPCmd, hexU8(v)) }

// HWPID builds an hwpid attribute.
func HWPID(v uint16) slog.Attr { return slog.String(KeyHWPID, hexU16(v)) }

// RCode builds an rcode attribute.
func RCode(v uint8) slog.Attr { return slog.String(KeyRCode, hexU8(v)) }

// State builds a transaction state attribute.
func State(v string) slog.Attr { return slog.String(KeyState, v) }

// TimeoutMs builds a timeout_ms attribute.
func TimeoutMs(v int32) slog.Attr { return slog.Int64(KeyTimeoutMs, int64(v)) }

// Repeat builds a repeat attribute.
func Repeat(v int) slog.Attr { return slog.Int(KeyRepeat, v) }

// FrameHex builds a frame_hex attribute using the dot-separated byte-pair
// encoding used on the JSON wire (see MessageSplitter raw frame encoding).
func FrameHex(frame []byte) slog.Attr {
	return slog.String(KeyFrameHex, DotHex(frame))
}

// DurationMs builds a duration_ms attribute.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// AccessMode builds an access_mode attribute.
func AccessMode(v string) slog.Attr { return slog.String(KeyAccessMode, v) }

// Interface builds an interface attribute (serial device name).
func Interface(v string) slog.Attr { return slog.String(KeyInterface, v) }

// RetryCount builds a retry_count attribute.
func RetryCount(v int) slog.Attr { return slog.Int(KeyRetryCount, v) }

// QueueDepth builds a queue_depth attribute.
func QueueDepth(v int) slog.Attr { return slog.Int(KeyQueueDepth, v) }

// QueueLength builds a queue_length attribute.
func QueueLength(v int) slog.Attr { return slog.Int(KeyQueueLength, v) }

// QueueType builds a queue_type attribute.
func QueueType(v string) slog.Attr { return slog.String(KeyQueueType, v) }

// Err builds an error attribute from a Go error, or a no-op if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode builds an error_code attribute from the wire taxonomy (spec.md §7).
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// DriverID builds a driver_id attribute (fenced sandbox key).
func DriverID(id int) slog.Attr { return slog.Int(KeyDriverID, id) }

// DriverFunc builds a driver_func attribute.
func DriverFunc(v string) slog.Attr { return slog.String(KeyDriverFunc, v) }

// DotHex renders bytes as dot-separated lowercase hex byte pairs, e.g. "01.00.06.ff",
// matching the verbose raw-frame encoding in JSON-RPC responses.
func DotHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, len(b)*3-1)
	for i, c := range b {
		if i > 0 {
			out = append(out, '.')
		}
		out = append(out, []byte(hex.EncodeToString([]byte{c}))...)
	}
	return string(out)
}

func hexU8(v uint8) string  { return hex.EncodeToString([]byte{v}) }
func hexU16(v uint16) string {
	return hex.EncodeToString([]byte{byte(v), byte(v >> 8)})
}
