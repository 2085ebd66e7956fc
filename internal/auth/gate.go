package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config configures token verification and issuing.
type Config struct {
	// Secret is the HS256 signing key shared with token issuers.
	Secret string
	// Issuer, when set, is stamped on issued tokens and required on
	// verified ones.
	Issuer string
}

// Claims is the payload carried by every fleetscope token.
type Claims struct {
	Username    string   `json:"username"`
	Admin       bool     `json:"admin"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Gate verifies bearer credentials and checks resource scopes.
type Gate struct {
	secret []byte
	issuer string
}

// NewGate returns a Gate for cfg. The secret must not be empty.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	return &Gate{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Issue signs an HS256 token for id. A non-positive ttl issues a token
// without expiry.
func (g *Gate) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:    id.Username,
		Admin:       id.Admin,
		Permissions: id.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   g.issuer,
			Subject:  id.Username,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Verify checks the signature, algorithm, expiry and issuer of credential
// and returns the identity it carries.
func (g *Gate) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrMissingCredentials
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{
		Username:    claims.Username,
		Admin:       claims.Admin,
		Permissions: claims.Permissions,
	}, nil
}

// Admit runs the full gate for one request: verify the credential, then
// require scope. On success the identity is attached to the returned
// context.
func (g *Gate) Admit(ctx context.Context, credential, scope string) (context.Context, Identity, error) {
	id, err := g.Verify(credential)
	if err != nil {
		return ctx, Identity{}, err
	}
	if !id.HasScope(scope) {
		return ctx, id, ErrForbidden
	}
	return WithIdentity(ctx, id), id, nil
}

// ParseAuthorization extracts the token from an "Authorization: Bearer
// <token>" header value. An empty header yields an empty credential; any
// other scheme or a blank token is invalid.
func ParseAuthorization(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidCredentials
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrInvalidCredentials
	}
	return token, nil
}
