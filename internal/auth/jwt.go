package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// bearerPrefix is the fixed leading field this provider's CanHandle
// matches; it owns any token starting with it rather than the static
// "iqrfgd2;" prefix.
const bearerPrefix = "Bearer "

// Claims are the JWT claims issued for the status/control-plane API.
type Claims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

// JWTConfig configures a JWTProvider.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 bytes.
	Secret string
	// Issuer is the expected issuer claim. Default: "iqrfgd2".
	Issuer string
}

func (c JWTConfig) withDefaults() JWTConfig {
	if c.Issuer == "" {
		c.Issuer = "iqrfgd2"
	}
	return c
}

// JWTProvider authenticates "Bearer <jwt>" tokens presented to the
// status/control-plane surface, separate from the static per-connection
// token used by the JSON-RPC transports.
type JWTProvider struct {
	cfg JWTConfig
}

// NewJWTProvider builds a JWTProvider. Returns an error if Secret is too
// short to be a meaningful HMAC key.
func NewJWTProvider(cfg JWTConfig) (*JWTProvider, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: jwt secret must be at least 32 bytes")
	}
	return &JWTProvider{cfg: cfg}, nil
}

func (p *JWTProvider) Name() string { return "jwt_bearer" }

// CanHandle matches the "Bearer " prefix.
func (p *JWTProvider) CanHandle(token []byte) bool {
	return strings.HasPrefix(string(token), bearerPrefix)
}

// Authenticate verifies the HMAC signature and expiry of a bearer token.
func (p *JWTProvider) Authenticate(_ context.Context, token []byte) (*AuthResult, error) {
	raw := strings.TrimPrefix(string(token), bearerPrefix)

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(p.cfg.Secret), nil
	}, jwt.WithIssuer(p.cfg.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return &AuthResult{
		Identity: Identity{Subject: claims.Subject, Service: claims.Service},
		Provider: p.Name(),
	}, nil
}

// IssueToken signs a bearer token for service, valid for ttl.
func (p *JWTProvider) IssueToken(service, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Service: service,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.Secret))
}
