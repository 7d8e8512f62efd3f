package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for DPA transaction spans. These mirror the field keys
// in internal/logger/fields.go so a trace and its surrounding log lines
// use the same vocabulary.
const (
	AttrTransport   = "transport"
	AttrMType       = "mtype"
	AttrMsgID       = "msg_id"
	AttrMessagingID = "messaging_id"

	AttrNAdr      = "nadr"
	AttrPNum      = "pnum"
	AttrPCmd      = "pcmd"
	AttrHWPID     = "hwpid"
	AttrRCode     = "rcode"
	AttrState     = "state"
	AttrTimeoutMs = "timeout_ms"
	AttrRepeat    = "repeat"

	AttrAccessMode = "access_mode"
	AttrInterface  = "interface"
	AttrRetryCount = "retry_count"
	AttrQueueDepth = "queue_depth"

	AttrErrorCode = "error_code"

	AttrDriverID   = "driver_id"
	AttrDriverFunc = "driver_func"
)

// Span names for transaction and component operations. Format:
// <component>.<operation>.
const (
	SpanTransaction     = "engine.transaction"
	SpanTransactionSend = "channel.send"
	SpanDriverCall      = "sandbox.call"
	SpanSplitterRoute   = "splitter.route"
	SpanTransportRecv   = "transport.receive"
	SpanTransportSend   = "transport.send"
	SpanRepositoryQuery = "repository.query"
)

// Transport returns an attribute for the originating transport name
// (websocket, unixsocket, udp, mqtt).
func Transport(v string) attribute.KeyValue { return attribute.String(AttrTransport, v) }

// MType returns an attribute for the JSON-RPC mType field.
func MType(v string) attribute.KeyValue { return attribute.String(AttrMType, v) }

// MsgID returns an attribute for the JSON-RPC msgId field.
func MsgID(v string) attribute.KeyValue { return attribute.String(AttrMsgID, v) }

// MessagingID returns an attribute for the transport/session identifier a
// request arrived on (spec.md §4.7). The value is used as given; this
// package does not generate one.
func MessagingID(v string) attribute.KeyValue { return attribute.String(AttrMessagingID, v) }

// NAdr returns an attribute for the DPA frame network address, in hex.
func NAdr(v uint16) attribute.KeyValue { return attribute.String(AttrNAdr, fmt.Sprintf("%04x", v)) }

// PNum returns an attribute for the DPA peripheral number, in hex.
func PNum(v uint8) attribute.KeyValue { return attribute.String(AttrPNum, fmt.Sprintf("%02x", v)) }

// PCmd returns an attribute for the DPA peripheral command, in hex.
func PCmd(v uint8) attribute.KeyValue { return attribute.String(AttrPCmd, fmt.Sprintf("%02x", v)) }

// HWPID returns an attribute for the DPA hardware profile ID, in hex.
func HWPID(v uint16) attribute.KeyValue {
	return attribute.String(AttrHWPID, fmt.Sprintf("%04x", v))
}

// RCode returns an attribute for the DPA response code, in hex.
func RCode(v uint8) attribute.KeyValue { return attribute.String(AttrRCode, fmt.Sprintf("%02x", v)) }

// State returns an attribute for the DpaTransaction's current state name.
func State(v string) attribute.KeyValue { return attribute.String(AttrState, v) }

// TimeoutMs returns an attribute for the transaction's configured timeout.
func TimeoutMs(v int32) attribute.KeyValue { return attribute.Int64(AttrTimeoutMs, int64(v)) }

// Repeat returns an attribute for the transaction's repeat/retry count.
func Repeat(v int) attribute.KeyValue { return attribute.Int(AttrRepeat, v) }

// AccessMode returns an attribute for the Channel access arbitration mode
// (Normal, Exclusive).
func AccessMode(v string) attribute.KeyValue { return attribute.String(AttrAccessMode, v) }

// Interface returns an attribute for the serial device path.
func Interface(v string) attribute.KeyValue { return attribute.String(AttrInterface, v) }

// RetryCount returns an attribute for a vendor-busy retry count.
func RetryCount(v int) attribute.KeyValue { return attribute.Int(AttrRetryCount, v) }

// QueueDepth returns an attribute for an outbound send-queue depth.
func QueueDepth(v int) attribute.KeyValue { return attribute.Int(AttrQueueDepth, v) }

// ErrorCode returns an attribute for the stable wire error taxonomy
// (spec.md §7).
func ErrorCode(code int) attribute.KeyValue { return attribute.Int(AttrErrorCode, code) }

// DriverID returns an attribute for a DriverSandbox fenced-runtime key.
func DriverID(id int) attribute.KeyValue { return attribute.Int(AttrDriverID, id) }

// DriverFunc returns an attribute for the driver function name invoked.
func DriverFunc(v string) attribute.KeyValue { return attribute.String(AttrDriverFunc, v) }

// StartTransactionSpan starts the root span for one DpaTransaction,
// covering admission through seal.
func StartTransactionSpan(ctx context.Context, nadr uint16, pnum, pcmd uint8, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{NAdr(nadr), PNum(pnum), PCmd(pcmd)}, attrs...)
	return StartSpan(ctx, SpanTransaction, trace.WithAttributes(allAttrs...))
}

// StartChannelSendSpan starts a span for one Channel.Send call, covering
// its vendor-busy retries (bounded by retry count, not by a timeout).
func StartChannelSendSpan(ctx context.Context, iface string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Interface(iface)}, attrs...)
	return StartSpan(ctx, SpanTransactionSend, trace.WithAttributes(allAttrs...))
}

// StartDriverCallSpan starts a span for one DriverSandbox function
// invocation.
func StartDriverCallSpan(ctx context.Context, driverID int, fn string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{DriverID(driverID), DriverFunc(fn)}, attrs...)
	return StartSpan(ctx, SpanDriverCall, trace.WithAttributes(allAttrs...))
}

// StartTransportSpan starts a span for one inbound or outbound message on
// a transport, named by direction ("transport.receive" or
// "transport.send").
func StartTransportSpan(ctx context.Context, direction, transportName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	name := SpanTransportRecv
	if direction == "send" {
		name = SpanTransportSend
	}
	allAttrs := append([]attribute.KeyValue{Transport(transportName)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartRepositoryQuerySpan starts a span for one Catalog lookup.
func StartRepositoryQuerySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{attribute.String("operation", operation)}, attrs...)
	return StartSpan(ctx, SpanRepositoryQuery, trace.WithAttributes(allAttrs...))
}
