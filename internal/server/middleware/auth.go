// Package middleware provides HTTP middleware for the control API.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const clientKey contextKey = "client"

// TokenValidator validates a bearer token and returns the client it was issued to.
type TokenValidator interface {
	ValidateToken(token string) (ClientGetter, error)
}

// ClientGetter exposes the client name carried by validated claims.
type ClientGetter interface {
	GetClient() string
}

// RequireToken rejects requests without a valid bearer token and stores the
// token's client name in the request context.
func RequireToken(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), clientKey, claims.GetClient())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="pipeline"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}

// Client returns the authenticated client name, or "" for anonymous requests.
func Client(ctx context.Context) string {
	client, _ := ctx.Value(clientKey).(string)
	return client
}
