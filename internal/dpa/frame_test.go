package dpa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_CoordinatorAddrInfo(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}
	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), req.NAdr)
	assert.True(t, req.IsCoordinatorLocal())
	assert.False(t, req.IsBroadcast())
	assert.Equal(t, uint16(HWPIDWildcard), req.HWPID)
}

func TestParseRequest_TooShort(t *testing.T) {
	_, err := ParseRequest([]byte{0x00, 0x00, 0x00})
	assert.Error(t, err)
}

func TestParseResponse_AddrInfo(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x40, 0x04, 0x2A}
	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.True(t, resp.IsOK())
	assert.False(t, resp.IsAsync())
	assert.Equal(t, []byte{0x04, 0x2A}, resp.Payload)
}

func TestResponse_IsAsync(t *testing.T) {
	resp := Response{NAdr: 3, RCode: 0x80 | 0x01}
	assert.True(t, resp.IsAsync())

	confirmation := Response{RCode: RCodeConfirmation}
	assert.False(t, confirmation.IsAsync())
	assert.True(t, confirmation.IsConfirmation())
}

func TestResponse_Matches(t *testing.T) {
	req := Request{NAdr: 1, PNum: 0x06, PCmd: 0x00}
	resp := Response{NAdr: 1, PNum: 0x06, PCmd: 0x80}
	assert.True(t, resp.Matches(req))

	other := Response{NAdr: 2, PNum: 0x06, PCmd: 0x80}
	assert.False(t, other.Matches(req))
}

func TestResponse_Routing(t *testing.T) {
	resp := Response{RCode: RCodeConfirmation, Payload: []byte{0x03, 0x14, 0x03}}
	routing, err := resp.Routing()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), routing.HopsRequest)
	assert.Equal(t, uint8(20), routing.Timeslot)
	assert.Equal(t, uint8(3), routing.HopsResponse)
}

func TestRequest_BytesRoundTrip(t *testing.T) {
	req := Request{NAdr: 1, PNum: 0x06, PCmd: 0x00, HWPID: HWPIDWildcard, Payload: []byte{0x01, 0x02}}
	raw, err := req.Bytes()
	require.NoError(t, err)

	parsed, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestRequest_Bytes_PayloadTooLong(t *testing.T) {
	req := Request{Payload: make([]byte, MaxFrameLength)}
	_, err := req.Bytes()
	assert.Error(t, err)
}
