package config

import (
	"fmt"
	"time"
)

const (
	defaultTokenTTL = 24 * time.Hour
	minSecretLength = 16
)

// JWTConfig holds the signing settings for API bearer tokens.
type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// NewJWTConfig builds signing settings from the auth section. A zero TTL
// means tokens live for a day.
func NewJWTConfig(auth AuthConfig) (*JWTConfig, error) {
	cfg := &JWTConfig{Secret: auth.JWTSecret, TokenTTL: auth.TokenTTL.D()}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	switch {
	case cfg.Secret == "":
		return nil, fmt.Errorf("auth error: jwt secret cannot be empty")
	case len(cfg.Secret) < minSecretLength:
		return nil, fmt.Errorf("auth error: jwt secret must be at least %d characters", minSecretLength)
	case cfg.TokenTTL < time.Minute:
		return nil, fmt.Errorf("auth error: token ttl must be at least a minute, got %s", cfg.TokenTTL)
	}
	return cfg, nil
}
