package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer      = "bot-dashboard"
	tokenAudience    = "bot-dashboard-api"
	refreshTokenSize = 32
)

// accessClaims is the signed payload of an access token
type accessClaims struct {
	UserClaims
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 access tokens and opaque refresh tokens
type JWTManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, accessDuration, refreshDuration time.Duration) *JWTManager {
	m := &JWTManager{
		secret:     []byte(secret),
		accessTTL:  accessDuration,
		refreshTTL: refreshDuration,
		now:        time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// GenerateAccessToken signs claims into a short lived access token
func (m *JWTManager) GenerateAccessToken(claims UserClaims) (string, error) {
	issued := m.now()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		UserClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   claims.UserID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(m.accessTTL)),
		},
	}).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken returns a random opaque token. Only its hash is stored.
func (m *JWTManager) GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateAccessToken verifies signature, issuer, audience and expiry
func (m *JWTManager) ValidateAccessToken(tokenString string) (*UserClaims, error) {
	var claims accessClaims
	_, err := m.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrInvalidToken
	}

	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return &claims.UserClaims, nil
}

// GetAccessTokenDuration returns the access token lifetime in seconds
func (m *JWTManager) GetAccessTokenDuration() int64 {
	return int64(m.accessTTL / time.Second)
}

// GetRefreshTokenDuration returns the refresh token lifetime
func (m *JWTManager) GetRefreshTokenDuration() time.Duration {
	return m.refreshTTL
}

// GenerateTokenPair issues an access token and a fresh refresh token
func (m *JWTManager) GenerateTokenPair(claims UserClaims) (*TokenPair, error) {
	access, err := m.GenerateAccessToken(claims)
	if err != nil {
		return nil, err
	}
	refresh, err := m.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    m.GetAccessTokenDuration(),
		TokenType:    "Bearer",
	}, nil
}
