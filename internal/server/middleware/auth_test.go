package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticValidator map[string]string

type staticClaims string

func (c staticClaims) GetClient() string { return string(c) }

func (v staticValidator) ValidateToken(token string) (ClientGetter, error) {
	client, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return staticClaims(client), nil
}

func TestRequireToken(t *testing.T) {
	validator := staticValidator{"good-token": "scheduler"}

	var seen string
	handler := RequireToken(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Client(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
		client string
	}{
		{"valid", "Bearer good-token", http.StatusNoContent, "scheduler"},
		{"lowercase scheme", "bearer good-token", http.StatusNoContent, "scheduler"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized, ""},
		{"no token", "Bearer", http.StatusUnauthorized, ""},
		{"extra parts", "Bearer good-token extra", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer other", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/runs/r1/cancel", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.client, seen)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestClient_Anonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs/r1", nil)
	assert.Equal(t, "", Client(req.Context()))
}
