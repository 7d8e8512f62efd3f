package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "iqrfgd2", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	err = shutdown(ctx)
	assert.NoError(t, err)

	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	tracer = nil
	enabled = false

	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		SetAttributes(ctx, Transport("websocket"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Transport", func(t *testing.T) {
		attr := Transport("websocket")
		assert.Equal(t, AttrTransport, string(attr.Key))
		assert.Equal(t, "websocket", attr.Value.AsString())
	})

	t.Run("MType", func(t *testing.T) {
		attr := MType("iqrfRaw")
		assert.Equal(t, AttrMType, string(attr.Key))
		assert.Equal(t, "iqrfRaw", attr.Value.AsString())
	})

	t.Run("MsgID", func(t *testing.T) {
		attr := MsgID("abc-123")
		assert.Equal(t, AttrMsgID, string(attr.Key))
		assert.Equal(t, "abc-123", attr.Value.AsString())
	})

	t.Run("MessagingID", func(t *testing.T) {
		attr := MessagingID("req-001")
		assert.Equal(t, AttrMessagingID, string(attr.Key))
		assert.Equal(t, "req-001", attr.Value.AsString())
	})

	t.Run("NAdr", func(t *testing.T) {
		attr := NAdr(0x0001)
		assert.Equal(t, AttrNAdr, string(attr.Key))
		assert.Equal(t, "0001", attr.Value.AsString())
	})

	t.Run("PNum", func(t *testing.T) {
		attr := PNum(0x06)
		assert.Equal(t, AttrPNum, string(attr.Key))
		assert.Equal(t, "06", attr.Value.AsString())
	})

	t.Run("PCmd", func(t *testing.T) {
		attr := PCmd(0x03)
		assert.Equal(t, AttrPCmd, string(attr.Key))
		assert.Equal(t, "03", attr.Value.AsString())
	})

	t.Run("HWPID", func(t *testing.T) {
		attr := HWPID(0xFFFF)
		assert.Equal(t, AttrHWPID, string(attr.Key))
		assert.Equal(t, "ffff", attr.Value.AsString())
	})

	t.Run("RCode", func(t *testing.T) {
		attr := RCode(0x00)
		assert.Equal(t, AttrRCode, string(attr.Key))
		assert.Equal(t, "00", attr.Value.AsString())
	})

	t.Run("State", func(t *testing.T) {
		attr := State("WaitingForResponse")
		assert.Equal(t, AttrState, string(attr.Key))
		assert.Equal(t, "WaitingForResponse", attr.Value.AsString())
	})

	t.Run("TimeoutMs", func(t *testing.T) {
		attr := TimeoutMs(1000)
		assert.Equal(t, AttrTimeoutMs, string(attr.Key))
		assert.Equal(t, int64(1000), attr.Value.AsInt64())
	})

	t.Run("Repeat", func(t *testing.T) {
		attr := Repeat(2)
		assert.Equal(t, AttrRepeat, string(attr.Key))
		assert.Equal(t, int64(2), attr.Value.AsInt64())
	})

	t.Run("AccessMode", func(t *testing.T) {
		attr := AccessMode("Exclusive")
		assert.Equal(t, AttrAccessMode, string(attr.Key))
		assert.Equal(t, "Exclusive", attr.Value.AsString())
	})

	t.Run("Interface", func(t *testing.T) {
		attr := Interface("/dev/ttyACM0")
		assert.Equal(t, AttrInterface, string(attr.Key))
		assert.Equal(t, "/dev/ttyACM0", attr.Value.AsString())
	})

	t.Run("RetryCount", func(t *testing.T) {
		attr := RetryCount(3)
		assert.Equal(t, AttrRetryCount, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("QueueDepth", func(t *testing.T) {
		attr := QueueDepth(5)
		assert.Equal(t, AttrQueueDepth, string(attr.Key))
		assert.Equal(t, int64(5), attr.Value.AsInt64())
	})

	t.Run("ErrorCode", func(t *testing.T) {
		attr := ErrorCode(10)
		assert.Equal(t, AttrErrorCode, string(attr.Key))
		assert.Equal(t, int64(10), attr.Value.AsInt64())
	})

	t.Run("DriverID", func(t *testing.T) {
		attr := DriverID(7)
		assert.Equal(t, AttrDriverID, string(attr.Key))
		assert.Equal(t, int64(7), attr.Value.AsInt64())
	})

	t.Run("DriverFunc", func(t *testing.T) {
		attr := DriverFunc("decode")
		assert.Equal(t, AttrDriverFunc, string(attr.Key))
		assert.Equal(t, "decode", attr.Value.AsString())
	})
}

func TestStartTransactionSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTransactionSpan(ctx, 0x0001, 0x06, 0x03)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartTransactionSpan(ctx, 0x0000, 0x00, 0x00, HWPID(0xFFFF))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartChannelSendSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartChannelSendSpan(ctx, "/dev/ttyACM0")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartChannelSendSpan(ctx, "/dev/ttyACM0", RetryCount(1))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartDriverCallSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartDriverCallSpan(ctx, 3, "decode")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartTransportSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTransportSpan(ctx, "receive", "websocket")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	newCtx2, span2 := StartTransportSpan(ctx, "send", "mqtt", QueueDepth(2))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartRepositoryQuerySpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartRepositoryQuerySpan(ctx, "product_lookup")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
