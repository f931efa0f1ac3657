// Package auth maps connector callers to tenants by API key.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/openclause-apitable/pkg/types"
)

type tenantKey struct{}

// TenantFromContext returns the tenant set by APIKeyAuth, or "".
func TenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey{}).(string)
	return v
}

// WithTenant returns a copy of ctx carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// DefaultPublicPaths are served without a key.
var DefaultPublicPaths = []string{"/healthz", "/readyz", "/metrics"}

// Option configures APIKeyAuth.
type Option func(*guard)

// WithPublicPaths replaces DefaultPublicPaths.
func WithPublicPaths(paths ...string) Option {
	return func(g *guard) {
		g.public = make(map[string]bool, len(paths))
		for _, p := range paths {
			g.public[p] = true
		}
	}
}

type guard struct {
	keys   *KeyStore
	public map[string]bool
}

// APIKeyAuth rejects requests without a known key and stores the owning
// tenant in the request context. The key is read from X-API-Key, then from
// an Authorization bearer token.
func APIKeyAuth(keys *KeyStore, opts ...Option) func(http.Handler) http.Handler {
	g := &guard{keys: keys}
	WithPublicPaths(DefaultPublicPaths...)(g)
	for _, opt := range opts {
		opt(g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFromRequest(r)
			if key == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}
			tenant, ok := g.keys.Lookup(key)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
		})
	}
}

func keyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
