// Package identity derives the client key used for rate limiting and audit
// records.
package identity

import (
	"context"
	"net/http"
	"strings"
)

// FallbackClientKey is shared by every request that carries no forwarding
// hint, so unidentified clients draw from one quota bucket.
const FallbackClientKey = "anonymous"

// ForwardedForHeader is the origin hint set by the fronting proxy.
const ForwardedForHeader = "X-Forwarded-For"

type contextKey int

const clientKeyKey contextKey = iota

// ClientKey returns the first comma-separated token of X-Forwarded-For,
// trimmed. RemoteAddr is not consulted.
func ClientKey(r *http.Request) string {
	return clientKeyFromHeader(r.Header.Get(ForwardedForHeader))
}

func clientKeyFromHeader(v string) string {
	first, _, _ := strings.Cut(v, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return FallbackClientKey
	}
	return first
}

// WithClientKey stores key in ctx.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyKey, key)
}

// ClientKeyFromContext extracts the client key from the request context.
func ClientKeyFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientKeyKey).(string)
	return v, ok
}

// FromRequest prefers a key injected by Middleware and derives it otherwise.
func FromRequest(r *http.Request) string {
	if key, ok := ClientKeyFromContext(r.Context()); ok {
		return key
	}
	return ClientKey(r)
}

// Middleware resolves the client key once per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientKey(r.Context(), ClientKey(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
