/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication that resolves the calling account, and per-caller rate limiting
 * of mutating routes.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 token validation.
 */

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CallerContextKey is a custom type for the context key to avoid collisions.
type CallerContextKey string

const callerAccountKey CallerContextKey = "callerAccount"

// AuthConfig configures token validation.
type AuthConfig struct {
	SigningKey []byte
	Issuer     string // optional; enforced when set
}

// AuthMiddleware validates an HS256 bearer token and stores its subject as the caller account.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Invalid Authorization header format")
				return
			}

			options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
			if cfg.Issuer != "" {
				options = append(options, jwt.WithIssuer(cfg.Issuer))
			}
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return cfg.SigningKey, nil
			}, options...)
			if err != nil || !token.Valid {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Invalid token")
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated", "Account not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), callerAccountKey, strings.TrimSpace(subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller retrieves the authenticated account from the request context.
func GetCaller(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerAccountKey).(string)
	return caller, ok && caller != ""
}

// RateLimitMiddleware rejects callers that exceed limiter's budget with 429 and a Retry-After header.
// Limiter errors are logged and the request is let through.
func RateLimitMiddleware(limiter RateLimiter, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			caller, _ := GetCaller(r.Context())
			allowed, retryAfter, err := limiter.Allow(r.Context(), scope, caller)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "caller", caller, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondWithError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
