package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/splitter"
)

type fakeTokenStore struct {
	tokens map[uint32]StoredToken
}

func (s fakeTokenStore) TokenByID(_ context.Context, id uint32) (StoredToken, error) {
	tok, ok := s.tokens[id]
	if !ok {
		return StoredToken{}, assert.AnError
	}
	return tok, nil
}

func newFakeStore(id uint32, secret []byte, mutate func(*StoredToken)) fakeTokenStore {
	salt := []byte("fixed-test-salt-value-0123456789")
	sum := sha256.Sum256(append(append([]byte{}, salt...), secret...))
	tok := StoredToken{
		ID:         id,
		Salt:       salt,
		SecretHash: sum[:],
		Service:    "test-service",
		CreatedAt:  time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(&tok)
	}
	return fakeTokenStore{tokens: map[uint32]StoredToken{id: tok}}
}

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func testToken(id uint32, secret []byte) []byte {
	return []byte("iqrfgd2;" + strconv.FormatUint(uint64(id), 10) + ";" + base64.StdEncoding.EncodeToString(secret))
}

func TestStaticTokenProvider_HappyPath(t *testing.T) {
	secret := testSecret()
	store := newFakeStore(7, secret, nil)
	p := NewStaticTokenProvider(store)

	tok := testToken(7, secret)
	require.True(t, p.CanHandle(tok))

	result, err := p.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), result.Identity.TokenID)
	assert.Equal(t, "test-service", result.Identity.Service)
}

func TestStaticTokenProvider_BadSecret(t *testing.T) {
	secret := testSecret()
	store := newFakeStore(7, secret, nil)
	p := NewStaticTokenProvider(store)

	wrong := append([]byte{}, secret...)
	wrong[0] ^= 0xFF
	_, err := p.Authenticate(context.Background(), testToken(7, wrong))
	assert.ErrorIs(t, err, ErrBadSecret)
}

func TestStaticTokenProvider_Revoked(t *testing.T) {
	secret := testSecret()
	store := newFakeStore(7, secret, func(tok *StoredToken) { tok.Revoked = true })
	p := NewStaticTokenProvider(store)

	_, err := p.Authenticate(context.Background(), testToken(7, secret))
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestStaticTokenProvider_Expired(t *testing.T) {
	secret := testSecret()
	store := newFakeStore(7, secret, func(tok *StoredToken) { tok.ExpiresAt = time.Now().Add(-time.Minute) })
	p := NewStaticTokenProvider(store)

	_, err := p.Authenticate(context.Background(), testToken(7, secret))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestStaticTokenProvider_MalformedToken(t *testing.T) {
	store := newFakeStore(7, testSecret(), nil)
	p := NewStaticTokenProvider(store)

	_, err := p.Authenticate(context.Background(), []byte("iqrfgd2;not-a-number;xx"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_UnsupportedMechanism(t *testing.T) {
	store := newFakeStore(7, testSecret(), nil)
	authr := NewAuthenticator(NewStaticTokenProvider(store))

	_, err := authr.Authenticate(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrUnsupportedMechanism)
}

func TestJWTProvider_IssueAndValidate(t *testing.T) {
	p, err := NewJWTProvider(JWTConfig{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	signed, err := p.IssueToken("status-cli", "operator", time.Minute)
	require.NoError(t, err)

	require.True(t, p.CanHandle([]byte("Bearer "+signed)))
	result, err := p.Authenticate(context.Background(), []byte("Bearer "+signed))
	require.NoError(t, err)
	assert.Equal(t, "status-cli", result.Identity.Service)
	assert.Equal(t, "operator", result.Identity.Subject)
}

func TestJWTProvider_RejectsExpired(t *testing.T) {
	p, err := NewJWTProvider(JWTConfig{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	signed, err := p.IssueToken("status-cli", "operator", -time.Minute)
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), []byte("Bearer "+signed))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestGate_NilAuthenticatorAdmitsEverything(t *testing.T) {
	g := NewGate(nil)
	result, err := g.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", result.Identity.Service)
}

func TestAuthenticatingDispatcher_RejectsBadToken(t *testing.T) {
	store := newFakeStore(7, testSecret(), nil)
	gate := NewGate(NewAuthenticator(NewStaticTokenProvider(store)))

	inner := &countingDispatcher{}
	d := NewAuthenticatingDispatcher(inner, gate)

	rec := &recordingSender{}
	d.Dispatch(json.RawMessage(`{"mType":"ping","data":{"msgId":"1","accessToken":"bogus"}}`), rec)

	assert.Equal(t, 0, inner.calls)
	require.Len(t, rec.responses, 1)
	assert.Equal(t, errAuthStatus, rec.responses[0].Data.Status)
}

func TestAuthenticatingDispatcher_ForwardsValidToken(t *testing.T) {
	secret := testSecret()
	store := newFakeStore(7, secret, nil)
	gate := NewGate(NewAuthenticator(NewStaticTokenProvider(store)))

	inner := &countingDispatcher{}
	d := NewAuthenticatingDispatcher(inner, gate)

	msg := `{"mType":"ping","data":{"msgId":"1","accessToken":"` + string(testToken(7, secret)) + `"}}`
	rec := &recordingSender{}
	d.Dispatch(json.RawMessage(msg), rec)

	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, rec.responses)
}

type countingDispatcher struct{ calls int }

func (d *countingDispatcher) Dispatch(json.RawMessage, splitter.Sender) { d.calls++ }

type recordingSender struct{ responses []splitter.Response }

func (s *recordingSender) Send(resp splitter.Response) error {
	s.responses = append(s.responses, resp)
	return nil
}
