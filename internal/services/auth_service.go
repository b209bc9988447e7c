package services

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid client id or secret")
	ErrWeakSecret         = errors.New("secret does not meet requirements")
)

// AuthService exchanges API client credentials for bearer tokens
type AuthService struct {
	client     configs.APIClientConfig
	jwtManager *auth.JWTManager
}

// NewAuthService creates a new auth service
func NewAuthService(client configs.APIClientConfig, jwtManager *auth.JWTManager) *AuthService {
	return &AuthService{
		client:     client,
		jwtManager: jwtManager,
	}
}

// TokenRequest represents a token request
type TokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

// TokenResponse represents a token response
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

// IssueToken verifies the client credentials and signs a token
func (s *AuthService) IssueToken(req *TokenRequest) (*TokenResponse, error) {
	if s.client.SecretHash == "" {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(req.ClientID), []byte(s.client.ClientID)) != 1 {
		return nil, ErrInvalidCredentials
	}
	if !auth.CheckSecret(req.ClientSecret, s.client.SecretHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwtManager.GenerateToken(s.client.ClientID, s.client.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		Role:      s.client.Role,
	}, nil
}

// HashClientSecret checks a new secret and returns the bcrypt hash to put in
// API_CLIENT_SECRET_HASH.
func HashClientSecret(secret string) (string, error) {
	if !auth.ValidateSecretStrength(secret) {
		return "", ErrWeakSecret
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return hash, nil
}
