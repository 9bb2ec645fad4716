// Package auth resolves the caller's role once per request and carries it
// through the request context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Role is the kind of user making a request.
type Role string

const (
	// Individual manages their own holdings.
	Individual Role = "individual"

	// Advisor manages holdings for clients.
	Advisor Role = "advisor"

	// Institution manages holdings for clients at firm level.
	Institution Role = "institution"
)

var (
	ErrUnknownRole  = errors.New("auth: unknown role")
	ErrUnauthorized = errors.New("auth: missing or invalid bearer token")
	ErrForbidden    = errors.New("auth: role not permitted")
)

// ParseRole maps a role name to a Role.
func ParseRole(name string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(name)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case Individual, Advisor, Institution:
		return true
	default:
		return false
	}
}

// ManagesClients reports whether r acts on behalf of other people.
func (r Role) ManagesClients() bool {
	return r == Advisor || r == Institution
}

type contextKey struct{}

// WithRole returns a copy of ctx carrying r.
func WithRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the role stored by WithRole.
func FromContext(ctx context.Context) (Role, bool) {
	r, ok := ctx.Value(contextKey{}).(Role)
	return r, ok
}

// Resolver maps a bearer token to a role.
type Resolver interface {
	Resolve(token string) (Role, bool)
}

// StaticTokens is a fixed token → role table.
type StaticTokens map[string]Role

func (s StaticTokens) Resolve(token string) (Role, bool) {
	r, ok := s[token]
	return r, ok
}

// Middleware resolves the bearer token of each request and stores the role
// in its context. Requests without a known token are rejected with 401.
// A nil resolver or an empty StaticTokens disables authentication and every
// request runs as fallback.
func Middleware(resolver Resolver, fallback Role) func(http.Handler) http.Handler {
	if tokens, ok := resolver.(StaticTokens); ok && len(tokens) == 0 {
		resolver = nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), fallback)))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
				return
			}
			role, ok := resolver.Resolve(token)
			if !ok {
				writeError(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRole(r.Context(), role)))
		})
	}
}

// Require rejects requests whose role is not one of roles with 403.
func Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := FromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, fmt.Sprintf("%s: %q", ErrForbidden, role), http.StatusForbidden)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
