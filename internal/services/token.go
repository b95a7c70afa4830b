// Package services contains supporting logic for the queue backend.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectionClaims is the JWT payload identifying a stream connection. It
// lets a patient device prove which connection it owns when issuing a
// remote-origin ticket or acknowledging a finished service. This is
// transport identity, not operator authorization.
type ConnectionClaims struct {
	ConnectionID string `json:"cid"`
	jwt.RegisteredClaims
}

// TokenService mints and validates connection-identity tokens.
type TokenService struct {
	secret   []byte
	duration time.Duration
}

// NewTokenService creates a TokenService with the given signing secret and
// token lifetime.
func NewTokenService(secret string, duration time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), duration: duration}
}

// GenerateToken creates a signed token for the given connection ID.
func (s *TokenService) GenerateToken(connectionID string) (string, error) {
	claims := ConnectionClaims{
		ConnectionID: connectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "guichetec",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the signature and expiry, returning the claims if
// valid.
func (s *TokenService) ValidateToken(tokenString string) (*ConnectionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConnectionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*ConnectionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
