package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/channel"
	"github.com/iqrfgd2/daemon/internal/engine"
	"github.com/iqrfgd2/daemon/internal/sandbox"
	"github.com/iqrfgd2/daemon/internal/splitter"
)

const coordinatorDriver = `
var iqrfEmbedCoordinator = {
  encodeAddrInfo: function(params) { return []; },
  decodeAddrInfo: function(frame) {
    return {devNr: frame[7], did: frame[9]};
  }
};
`

type fakeTransport struct {
	respond func(frame []byte) []byte
	inbound chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 8)}
}

func (f *fakeTransport) Open(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                   { return nil }

func (f *fakeTransport) Write(frame []byte) error {
	if f.respond != nil {
		if resp := f.respond(frame); resp != nil {
			f.inbound <- resp
		}
	}
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return nil, errors.New("fake: closed")
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestEngine(t *testing.T, tr *fakeTransport) *engine.Engine {
	t.Helper()
	ch := channel.New("test0", tr)
	require.NoError(t, ch.Open(context.Background()))
	eng := engine.New(ch, engine.Options{})
	require.NoError(t, eng.Run(context.Background()))
	t.Cleanup(eng.Stop)
	return eng
}

func TestHandler_CoordinatorAddrInfo_HappyPath(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = func(frame []byte) []byte {
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}, frame)
		return []byte{0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x40, 0x04, 0x2A}
	}
	eng := newTestEngine(t, tr)

	drv := sandbox.New()
	require.NoError(t, drv.Load(coordinatorDriver))

	h := New(CoordinatorAddrInfoSpec, eng, drv)

	raw := []byte(`{"mType":"iqrfEmbedCoordinator_AddrInfo","data":{"msgId":"m1","returnVerbose":true,"req":{"param":{}}}}`)
	var req splitter.Request
	require.NoError(t, json.Unmarshal(raw, &req))

	resp := h.Handle(req)

	assert.Equal(t, "m1", resp.Data.MsgID)
	assert.Equal(t, splitter.StatusOK, resp.Data.Status)
	rsp, ok := resp.Data.Rsp.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 64, rsp["devNr"])
	assert.EqualValues(t, 42, rsp["did"])
	require.NotNil(t, resp.Data.Raw)
	assert.NotEmpty(t, resp.Data.Raw.Response)
}

func TestHandler_MissingNAdr_ProducesInvalidRequestError(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr)
	drv := sandbox.New()
	require.NoError(t, drv.Load(`var iqrfEmbedOs = {encodeRead:function(){return[]},decodeRead:function(f){return {}}};`))

	h := New(OSReadSpec, eng, drv)

	raw := []byte(`{"mType":"iqrfEmbedOs_Read","data":{"msgId":"m2","req":{}}}`)
	var req splitter.Request
	require.NoError(t, json.Unmarshal(raw, &req))

	resp := h.Handle(req)
	assert.Equal(t, "iqrfEmbedOs_Read", resp.MType)
	assert.Equal(t, "m2", resp.Data.MsgID)
	assert.NotEqual(t, splitter.StatusOK, resp.Data.Status)
}

func TestHandler_Timeout_ProducesTimeoutStatus(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = func(frame []byte) []byte { return nil } // never answers
	eng := newTestEngine(t, tr)

	drv := sandbox.New()
	require.NoError(t, drv.Load(coordinatorDriver))

	h := New(CoordinatorAddrInfoSpec, eng, drv)

	timeout := int32(50)
	req := splitter.Request{
		MType: "iqrfEmbedCoordinator_AddrInfo",
		Data:  splitter.RequestData{MsgID: "m3", Timeout: &timeout, Req: json.RawMessage(`{"param":{}}`)},
	}

	start := time.Now()
	resp := h.Handle(req)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.NotEqual(t, splitter.StatusOK, resp.Data.Status)
	assert.NotEmpty(t, resp.Data.StatusStr)
}

func TestHandler_SplitterIntegration_UnsupportedMType(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, tr)
	drv := sandbox.New()
	require.NoError(t, drv.Load(coordinatorDriver))

	s := splitter.New(nil)
	require.NoError(t, RegisterAll(s, Registry, eng, drv))

	var got splitter.Response
	sender := senderFunc(func(resp splitter.Response) error { got = resp; return nil })
	s.Dispatch(json.RawMessage(`{"mType":"bogus_Something","data":{"msgId":"m4"}}`), sender)

	assert.Equal(t, splitter.MTypeUnsupportedMsg, got.MType)
	assert.Equal(t, splitter.StatusUnsupportedMsg, got.Data.Status)
	assert.Equal(t, "m4", got.Data.MsgID)
}

type senderFunc func(splitter.Response) error

func (f senderFunc) Send(resp splitter.Response) error { return f(resp) }
