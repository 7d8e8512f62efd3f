package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport for tests: Write optionally fails
// busyCount times before succeeding, Read delivers from an inbound channel.
type fakeTransport struct {
	mu        sync.Mutex
	busyCount int
	writes    [][]byte
	inbound   chan []byte
	openErr   error
	writeErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16)}
}

func (f *fakeTransport) Open(ctx context.Context) error { return f.openErr }

func (f *fakeTransport) Write(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyCount > 0 {
		f.busyCount--
		return ErrVendorBusy
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), frame...))
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

func (f *fakeTransport) Close() error { return nil }

func openedChannel(t *testing.T, tr *fakeTransport) *Channel {
	t.Helper()
	ch := New("fake0", tr)
	require.NoError(t, ch.Open(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestChannel_OpenFailure_StaysNotReady(t *testing.T) {
	tr := newFakeTransport()
	tr.openErr = errors.New("handshake timeout")
	ch := New("fake0", tr)
	err := ch.Open(context.Background())
	assert.Error(t, err)
	assert.Equal(t, NotReady, ch.State())

	sendErr := ch.Send(context.Background(), []byte{0x00}, Normal)
	assert.ErrorIs(t, sendErr, ErrNotReady)
}

func TestChannel_GetAccess_ModeBusy(t *testing.T) {
	ch := openedChannel(t, newFakeTransport())

	_, err := ch.GetAccess(Normal, func([]byte, bool) {})
	require.NoError(t, err)

	_, err = ch.GetAccess(Normal, func([]byte, bool) {})
	assert.ErrorIs(t, err, ErrModeBusy)

	_, err = ch.GetAccess(Exclusive, func([]byte, bool) {})
	require.NoError(t, err)
	_, err = ch.GetAccess(Exclusive, func([]byte, bool) {})
	assert.ErrorIs(t, err, ErrModeBusy)

	// Multiple sniffers are allowed.
	_, err = ch.GetAccess(Sniffer, func([]byte, bool) {})
	require.NoError(t, err)
	_, err = ch.GetAccess(Sniffer, func([]byte, bool) {})
	require.NoError(t, err)
}

func TestChannel_ExclusiveBlocksNormalSend(t *testing.T) {
	tr := newFakeTransport()
	ch := openedChannel(t, tr)

	_, err := ch.GetAccess(Exclusive, func([]byte, bool) {})
	require.NoError(t, err)

	err = ch.Send(context.Background(), []byte{0x01}, Normal)
	assert.ErrorIs(t, err, ErrNormalBlockedByExclusive)

	err = ch.Send(context.Background(), []byte{0x01}, Exclusive)
	assert.NoError(t, err)
}

func TestChannel_SnifferCannotWrite(t *testing.T) {
	ch := openedChannel(t, newFakeTransport())
	err := ch.Send(context.Background(), []byte{0x01}, Sniffer)
	assert.ErrorIs(t, err, ErrSnifferWriteForbidden)
}

func TestChannel_DropExclusive_ResumesNormal(t *testing.T) {
	ch := openedChannel(t, newFakeTransport())

	tok, err := ch.GetAccess(Exclusive, func([]byte, bool) {})
	require.NoError(t, err)

	err = ch.Send(context.Background(), []byte{0x01}, Normal)
	assert.ErrorIs(t, err, ErrNormalBlockedByExclusive)

	require.NoError(t, ch.Drop(tok))

	err = ch.Send(context.Background(), []byte{0x01}, Normal)
	assert.NoError(t, err)
}

func TestChannel_VendorBusy_RetriesThenSucceeds(t *testing.T) {
	tr := newFakeTransport()
	tr.busyCount = 2
	ch := openedChannel(t, tr)

	err := ch.Send(context.Background(), []byte{0x01}, Normal)
	assert.NoError(t, err)
}

func TestChannel_VendorBusy_ExhaustsRetries(t *testing.T) {
	tr := newFakeTransport()
	tr.busyCount = 99
	ch := New("fake0", tr)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	start := time.Now()
	err := ch.Send(context.Background(), []byte{0x01}, Normal)
	assert.ErrorIs(t, err, ErrChannelBusy)
	assert.GreaterOrEqual(t, time.Since(start), 4*busyRetryBackoff-10*time.Millisecond)
}

func TestChannel_DispatchPrefersExclusiveOverNormal(t *testing.T) {
	tr := newFakeTransport()
	ch := openedChannel(t, tr)

	var mu sync.Mutex
	var normalSaw, exclSaw, snifferSaw int

	_, err := ch.GetAccess(Normal, func(frame []byte, down bool) {
		mu.Lock()
		normalSaw++
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = ch.GetAccess(Sniffer, func(frame []byte, down bool) {
		mu.Lock()
		snifferSaw++
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = ch.GetAccess(Exclusive, func(frame []byte, down bool) {
		mu.Lock()
		exclSaw++
		mu.Unlock()
	})
	require.NoError(t, err)

	tr.inbound <- []byte{0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return exclSaw == 1 && snifferSaw == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, normalSaw)
}

func TestChannel_TransportReadError_MarksDown(t *testing.T) {
	tr := newFakeTransport()
	ch := openedChannel(t, tr)

	var down bool
	var mu sync.Mutex
	_, err := ch.GetAccess(Normal, func(frame []byte, isDown bool) {
		mu.Lock()
		down = isDown
		mu.Unlock()
	})
	require.NoError(t, err)

	close(tr.inbound)

	require.Eventually(t, func() bool {
		return ch.State() == NotReady
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, down)
}
