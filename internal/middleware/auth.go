// Package middleware provides HTTP middleware for connection identity,
// CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/guichetec/backend/internal/logging"
	"github.com/guichetec/backend/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing connection claims.
	ClaimsKey contextKey = "claims"
)

// AuthMiddleware validates connection tokens and adds claims to the request
// context. Returns 401 for missing/invalid tokens. Used on routes that act
// on behalf of a specific stream connection.
func AuthMiddleware(tokenService *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, errEvent, errMsg := claimsFromHeader(tokenService, r)
			if claims == nil {
				logging.LogSecurityEvent(r.Context(), errEvent, errMsg)
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware validates a connection token when one is presented
// but lets anonymous requests through. A malformed or expired token is still
// rejected so a client cannot silently lose its identity. Used on the issue
// endpoint, where kiosks are anonymous but patient devices carry a token.
func OptionalAuthMiddleware(tokenService *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, errEvent, errMsg := claimsFromHeader(tokenService, r)
			if claims == nil {
				logging.LogSecurityEvent(r.Context(), errEvent, errMsg)
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromHeader(tokenService *services.TokenService, r *http.Request) (*services.ConnectionClaims, logging.SecurityEvent, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, logging.SecurityEventMissingAuth, "missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, logging.SecurityEventInvalidAuthFmt, "invalid authorization header format"
	}

	claims, err := tokenService.ValidateToken(parts[1])
	if err != nil {
		return nil, logging.SecurityEventInvalidToken, "invalid token"
	}

	return claims, "", ""
}

// GetClaims retrieves the connection claims from the request context.
// Returns nil if no claims are present (e.g., an anonymous kiosk request).
func GetClaims(ctx context.Context) *services.ConnectionClaims {
	claims, _ := ctx.Value(ClaimsKey).(*services.ConnectionClaims)
	return claims
}
