// Package auth provides an optional Bearer-token gate for private
// deployments of the gateway. The public proxy contract needs no
// authentication; operators who do not want to run an open endpoint can
// enable it and mint HS256 tokens for their clients.
//
// CORS preflights always bypass the gate: browsers cannot attach
// credentials to an OPTIONS preflight, and rejecting it would break the
// endpoint for authenticated clients too.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/metrics"
)

type contextKey string

// SubjectKey is the context key holding the validated token subject.
const SubjectKey contextKey = "auth_subject"

// Middleware returns an HTTP middleware that validates JWT Bearer tokens
// when the gate is enabled. Disabled configs pass everything through.
func Middleware(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				metrics.AuthFailures.WithLabelValues("missing_token").Inc()
				writeAuthError(w, "missing or malformed Authorization header")
				return
			}

			subject, err := validateToken(tokenStr, cfg)
			if err != nil {
				metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
				logger.Warn("auth failure", "error", err, "path", r.URL.Path)
				writeAuthError(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the authenticated token subject, or empty when the gate
// is disabled or the request was a preflight.
func Subject(ctx context.Context) string {
	if s, ok := ctx.Value(SubjectKey).(string); ok {
		return s
	}
	return ""
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func validateToken(tokenStr string, cfg config.AuthConfig) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	subject, _ := mapClaims["sub"].(string)
	return subject, nil
}

var errBodyUnauthorized = []byte("Unauthorized\n")

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+message+`"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(errBodyUnauthorized)
}
