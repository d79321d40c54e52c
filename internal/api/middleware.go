/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication for the admin dashboard and per-IP rate limiting for the
 * public endpoints that reach upstream services.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: admin session tokens.
 * - internal/app: the rate limiter interface.
 */

package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rbxrewards/funnel-service/internal/app"
)

// ErrInvalidCredentials is returned when the presented admin credential does
// not match.
var ErrInvalidCredentials = errors.New("invalid admin credentials")

// CredentialVerifier checks a presented admin credential. Implementations
// can back this with whatever credential store the deployment uses.
type CredentialVerifier interface {
	VerifyCredential(credential string) error
}

// SharedSecretVerifier verifies credentials against a static shared secret.
type SharedSecretVerifier struct {
	secret string
}

// NewSharedSecretVerifier creates a verifier for the given secret.
func NewSharedSecretVerifier(secret string) SharedSecretVerifier {
	return SharedSecretVerifier{secret: secret}
}

// VerifyCredential compares in constant time.
func (v SharedSecretVerifier) VerifyCredential(credential string) error {
	if v.secret == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.secret)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// AdminAuthenticator issues and validates the short-lived tokens the admin
// dashboard uses after a credential login.
type AdminAuthenticator struct {
	verifier  CredentialVerifier
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAdminAuthenticator creates an authenticator backed by the given
// credential verifier and signing secret.
func NewAdminAuthenticator(verifier CredentialVerifier, jwtSecret string, tokenTTL time.Duration) *AdminAuthenticator {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &AdminAuthenticator{verifier: verifier, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

// Login checks the credential and mints a session token.
func (a *AdminAuthenticator) Login(credential string) (string, error) {
	if err := a.verifier.VerifyCredential(credential); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    "funnel-service",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// Verify validates a session token.
func (a *AdminAuthenticator) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != "admin" {
		return errors.New("invalid token subject")
	}
	return nil
}

// Middleware guards admin routes with bearer-token authentication.
func (a *AdminAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if err := a.Verify(tokenString); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware limits requests per client IP within a fixed window.
// A nil limiter or non-positive limit disables the check, and limiter errors
// fail open so a Redis outage does not take the funnel down.
func RateLimitMiddleware(limiter app.RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := clientIP(r)
			count, retryAfter, err := limiter.Consume(r.Context(), scope, subject, limit, window)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable, allowing request\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				log.Printf("level=info component=api msg=\"rate limit exceeded\" scope=%s subject=%s count=%d limit=%d", scope, subject, count, limit)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too many requests. Please slow down.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's address, preferring the proxy-supplied
// header when present.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
