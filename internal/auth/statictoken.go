package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tokenPrefix is the fixed leading field of the wire token format
// "iqrfgd2;<id:uint32>;<secret:base64,32 bytes>".
const tokenPrefix = "iqrfgd2"

// secretLength is the required decoded length of the secret field.
const secretLength = 32

// StoredToken is the persisted record a TokenStore returns for one token
// id. SecretHash is SHA-256(Salt || secret) computed at issuance time.
type StoredToken struct {
	ID         uint32
	Salt       []byte
	SecretHash []byte
	Service    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Revoked    bool
}

// TokenStore looks up a StoredToken by its embedded id. Backed by
// Repository in production; a narrow interface here keeps this package
// independent of the repository's storage concerns.
type TokenStore interface {
	TokenByID(ctx context.Context, id uint32) (StoredToken, error)
}

// StaticTokenProvider authenticates the wire token format from spec.md §6
// against a TokenStore.
type StaticTokenProvider struct {
	store TokenStore
}

// NewStaticTokenProvider builds a StaticTokenProvider backed by store.
func NewStaticTokenProvider(store TokenStore) *StaticTokenProvider {
	return &StaticTokenProvider{store: store}
}

func (p *StaticTokenProvider) Name() string { return "static_token" }

// CanHandle matches the "iqrfgd2;" prefix without fully parsing the token.
func (p *StaticTokenProvider) CanHandle(token []byte) bool {
	return strings.HasPrefix(string(token), tokenPrefix+";")
}

// Authenticate parses "iqrfgd2;<id>;<secret>", looks up the id, and
// compares SHA-256(salt||secret) against the stored hash in constant time.
func (p *StaticTokenProvider) Authenticate(ctx context.Context, token []byte) (*AuthResult, error) {
	id, secret, err := parseStaticToken(token)
	if err != nil {
		return nil, err
	}

	stored, err := p.store.TokenByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, err)
	}

	if stored.Revoked {
		return nil, ErrTokenRevoked
	}
	if !stored.ExpiresAt.IsZero() && time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	sum := sha256.Sum256(append(append([]byte{}, stored.Salt...), secret...))
	if subtle.ConstantTimeCompare(sum[:], stored.SecretHash) != 1 {
		return nil, ErrBadSecret
	}

	return &AuthResult{
		Identity: Identity{TokenID: id, Service: stored.Service},
		Provider: p.Name(),
	}, nil
}

func parseStaticToken(token []byte) (id uint32, secret []byte, err error) {
	parts := strings.Split(string(token), ";")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return 0, nil, ErrInvalidToken
	}

	parsedID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad id: %v", ErrInvalidToken, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad secret encoding: %v", ErrInvalidToken, err)
	}
	if len(decoded) != secretLength {
		return 0, nil, fmt.Errorf("%w: secret must be %d bytes, got %d", ErrInvalidToken, secretLength, len(decoded))
	}

	return uint32(parsedID), decoded, nil
}
