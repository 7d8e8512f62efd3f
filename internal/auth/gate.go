package auth

import (
	"context"
	"errors"
)

// Gate is the thin entry point transports call before admitting a
// connection. It exists so transports depend on one small surface rather
// than the full Authenticator/AuthProvider machinery.
type Gate struct {
	authenticator *Authenticator
}

// NewGate wraps authenticator. A nil authenticator makes every Check call
// succeed with an anonymous identity, for deployments that expose a
// transport only on a trusted loopback interface.
func NewGate(authenticator *Authenticator) *Gate {
	return &Gate{authenticator: authenticator}
}

// Check authenticates token. Returns the resulting identity, or an error
// from the stable set in auth.go.
func (g *Gate) Check(ctx context.Context, token []byte) (*AuthResult, error) {
	if g.authenticator == nil {
		return &AuthResult{Identity: Identity{Service: "anonymous"}}, nil
	}
	if len(token) == 0 {
		return nil, ErrInvalidToken
	}
	return g.authenticator.Authenticate(ctx, token)
}

// IsAuthError reports whether err originated from a Check call, as opposed
// to a transport-level I/O failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnsupportedMechanism) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrUnknownToken) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrBadSecret)
}
