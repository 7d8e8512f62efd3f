package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds transaction-scoped logging context. It is attached to
// the context.Context that flows from MessageSplitter through an
// ApiHandler and into the DpaEngine, so every log line emitted while one
// JSON-RPC request is in flight carries the same correlation fields.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	MessagingID string    // transport/session identifier the request arrived on
	MsgID       string    // JSON-RPC data.msgId
	MType       string    // JSON-RPC mType
	NAdr        uint16    // DPA network address the transaction targets
	StartTime   time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a freshly admitted JSON-RPC request.
func NewLogContext(messagingID, msgID, mType string) *LogContext {
	return &LogContext{
		MessagingID: messagingID,
		MsgID:       msgID,
		MType:       mType,
		StartTime:   time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithNAdr returns a copy with the target network address set
func (lc *LogContext) WithNAdr(nadr uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.NAdr = nadr
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
