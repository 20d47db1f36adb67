package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/server/middleware"
)

const tokenIssuer = "content-pipeline"

// Claims identify the API client a token was issued to.
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// GetClient implements middleware.ClientGetter.
func (c *Claims) GetClient() string {
	return c.Client
}

// JWTService issues and validates API tokens.
type JWTService struct {
	config *config.JWTConfig
	now    func() time.Time
}

// NewJWTService creates a JWT service with the given configuration.
func NewJWTService(cfg *config.JWTConfig) *JWTService {
	return &JWTService{config: cfg, now: time.Now}
}

// GenerateToken issues a token for client valid for the configured lifetime.
func (s *JWTService) GenerateToken(client string) (string, error) {
	if client == "" {
		return "", errors.New("client name is required")
	}
	now := s.now()
	claims := &Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and lifetime and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return []byte(s.config.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("invalid token signature: %w", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("token expired: %w", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("malformed token: %w", err)
	case err != nil:
		return nil, fmt.Errorf("failed to parse token: %w", err)
	case !token.Valid:
		return nil, errors.New("token is not valid")
	case claims.Client == "":
		return nil, errors.New("token has no client")
	}
	return claims, nil
}

// AsTokenValidator adapts the service to middleware.TokenValidator.
func (s *JWTService) AsTokenValidator() middleware.TokenValidator {
	return tokenValidator{s}
}

type tokenValidator struct{ service *JWTService }

func (v tokenValidator) ValidateToken(token string) (middleware.ClientGetter, error) {
	claims, err := v.service.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
