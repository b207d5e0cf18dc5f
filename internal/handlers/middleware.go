package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/services"
)

type contextKey string

const (
	KeyNameContextKey contextKey = "key_name"
)

const adminRole = "admin"

// Claims carried by admin tokens
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token valid for ttl.
func IssueAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AdminMiddleware requires a valid admin bearer token
func AdminMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			bearerToken := strings.Split(authHeader, " ")
			if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(bearerToken[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			}, jwt.WithExpirationRequired())

			if err != nil || !token.Valid || claims.Role != adminRole {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Gatekeeper authenticates API key callers, enforces their daily quota and
// counts requests that were actually served.
type Gatekeeper struct {
	auth    *services.Authenticator
	limiter *services.RateLimiter
	now     func() time.Time
}

func NewGatekeeper(auth *services.Authenticator, limiter *services.RateLimiter) *Gatekeeper {
	return &Gatekeeper{auth: auth, limiter: limiter, now: time.Now}
}

// Middleware wraps data endpoints. Unknown names, wrong secrets and missing
// credentials all get the same 404 so keys cannot be enumerated.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name, secret := credentials(r)

		key, err := g.auth.Authenticate(ctx, name, secret)
		if err != nil {
			if errors.Is(err, models.ErrDenied) || errors.Is(err, models.ErrInvalidInput) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			log.Error().Err(err).Msg("Authentication backend failure")
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}

		allowed, err := g.limiter.Check(ctx, key.Name)
		if err != nil {
			log.Error().Err(err).Str("key_name", key.Name).Msg("Rate limit backend failure")
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(ctx, KeyNameContextKey, key.Name)))

		if ww.Status() < 200 || ww.Status() >= 300 {
			return
		}
		// The response is already out; failures here only cost accuracy.
		if _, err := g.limiter.Increment(ctx, key.Name); err != nil {
			log.Error().Err(err).Str("key_name", key.Name).Msg("Failed to count request")
		}
		if err := g.limiter.Touch(ctx, key.Name, g.now()); err != nil {
			log.Warn().Err(err).Str("key_name", key.Name).Msg("Failed to stamp last request")
		}
	})
}

// credentials reads X-API-Key-Name / X-API-Key, falling back to the
// key_name / api_key query parameters.
func credentials(r *http.Request) (string, string) {
	name := r.Header.Get("X-API-Key-Name")
	secret := r.Header.Get("X-API-Key")
	if name == "" && secret == "" {
		q := r.URL.Query()
		name, secret = q.Get("key_name"), q.Get("api_key")
	}
	return name, secret
}

// KeyNameFromContext returns the authenticated key name
func KeyNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(KeyNameContextKey).(string)
	return name, ok
}

// RequestLogger logs one line per request with zerolog. Query strings are
// left out because they may carry api_key.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
