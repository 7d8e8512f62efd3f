package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/dpa"
)

func TestTransaction_CoordinatorLocal_HappyPath(t *testing.T) {
	req := dpa.Request{NAdr: dpa.CoordinatorAddr, PNum: 0x00, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))
	assert.Equal(t, Sent, tr.State())

	resp := dpa.Response{NAdr: 0, PNum: 0x00, PCmd: 0x80, RCode: dpa.RCodeOK}
	require.NoError(t, tr.OnResponse(now.Add(10*time.Millisecond), resp))
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, ErrOK, tr.Result().ErrorCode)
}

func TestTransaction_Remote_ConfirmationThenResponse(t *testing.T) {
	req := dpa.Request{NAdr: 1, PNum: 0x06, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))

	confirmation := dpa.Response{NAdr: 1, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeConfirmation, Payload: []byte{0x03, 0x14, 0x03}}
	require.NoError(t, tr.OnConfirmation(now.Add(5*time.Millisecond), confirmation))
	assert.Equal(t, ConfirmationReceived, tr.State())

	deadline, ok := tr.Deadline()
	require.True(t, ok)
	assert.True(t, deadline.After(now))

	resp := dpa.Response{NAdr: 1, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeOK, Payload: []byte{0x2A}}
	require.NoError(t, tr.OnResponse(now.Add(100*time.Millisecond), resp))
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, ErrOK, tr.Result().ErrorCode)
}

func TestTransaction_Broadcast_CompletesOnConfirmation(t *testing.T) {
	req := dpa.Request{NAdr: dpa.BroadcastAddr, PNum: 0x06, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))

	confirmation := dpa.Response{NAdr: dpa.BroadcastAddr, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeConfirmation, Payload: []byte{0x00, 0x00, 0x00}}
	require.NoError(t, tr.OnConfirmation(now.Add(5*time.Millisecond), confirmation))
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, ErrOK, tr.Result().ErrorCode)
	assert.True(t, tr.Result().Sealed())
}

func TestTransaction_TimesOutAfterDeadline(t *testing.T) {
	req := dpa.Request{NAdr: dpa.CoordinatorAddr, PNum: 0x00, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, 50, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))

	assert.False(t, tr.CheckTimeout(now.Add(10*time.Millisecond)))
	assert.True(t, tr.CheckTimeout(now.Add(60*time.Millisecond)))
	assert.Equal(t, TimedOut, tr.State())
	assert.Equal(t, ErrTimeout, tr.Result().ErrorCode)

	// Once terminal, further timeout checks are no-ops.
	assert.False(t, tr.CheckTimeout(now.Add(time.Hour)))
}

func TestTransaction_CallerTimeoutOverrideWins(t *testing.T) {
	req := dpa.Request{NAdr: 1, PNum: 0x06, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, 200, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))

	confirmation := dpa.Response{NAdr: 1, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeConfirmation, Payload: []byte{0xFF, 0xFF, 0xFF}}
	require.NoError(t, tr.OnConfirmation(now.Add(5*time.Millisecond), confirmation))

	deadline, _ := tr.Deadline()
	assert.WithinDuration(t, now.Add(200*time.Millisecond), deadline, time.Millisecond)
}

func TestTransaction_Cancel_OnlyValidBeforeTerminal(t *testing.T) {
	req := dpa.Request{NAdr: dpa.CoordinatorAddr, PNum: 0x00, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})

	require.NoError(t, tr.Cancel())
	assert.Equal(t, Aborted, tr.State())
	assert.Equal(t, ErrAborted, tr.Result().ErrorCode)

	assert.Error(t, tr.Cancel())
}

func TestTransaction_OnResponse_NonOKRCodeCompletesWithMalformedError(t *testing.T) {
	req := dpa.Request{NAdr: dpa.CoordinatorAddr, PNum: 0x00, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})

	now := time.Now()
	require.NoError(t, tr.Send(now))

	resp := dpa.Response{NAdr: 0, PNum: 0x00, PCmd: 0x80, RCode: 0x01}
	require.NoError(t, tr.OnResponse(now.Add(time.Millisecond), resp))
	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, ErrMalformedResp, tr.Result().ErrorCode)
}

func TestTransaction_Matches(t *testing.T) {
	req := dpa.Request{NAdr: 1, PNum: 0x06, PCmd: 0x00, HWPID: dpa.HWPIDWildcard}
	tr := New(req, -1, 1, CoordinatorParams{})
	now := time.Now()
	require.NoError(t, tr.Send(now))

	confirmation := dpa.Response{NAdr: 1, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeConfirmation, Payload: []byte{1, 1, 1}}
	assert.True(t, tr.Matches(confirmation))

	wrongAddr := dpa.Response{NAdr: 2, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeOK}
	assert.False(t, tr.Matches(wrongAddr))

	require.NoError(t, tr.OnConfirmation(now, confirmation))

	resp := dpa.Response{NAdr: 1, PNum: 0x06, PCmd: 0x80, RCode: dpa.RCodeOK}
	assert.True(t, tr.Matches(resp))
}
