// Package auth implements the bearer-token gate in front of every query:
// JWT verification, identity resolution and per-resource scope checks.
package auth

import (
	"context"
	"slices"
)

// Scopes required by the query resources.
const (
	ScopeAgentsRead  = "agents:read"
	ScopeMetricsRead = "metrics:read"
)

// Identity is the caller resolved from a verified token. It lives for a
// single request and is never stored.
type Identity struct {
	Username    string   `json:"username"`
	Admin       bool     `json:"admin"`
	Permissions []string `json:"permissions"`
}

// HasScope reports whether the identity may use scope. Admin implies
// every scope.
func (id Identity) HasScope(scope string) bool {
	if id.Admin {
		return true
	}
	return slices.Contains(id.Permissions, scope)
}

type contextKey struct{ name string }

var identityKey = &contextKey{"identity"}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity attached by the gate, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
