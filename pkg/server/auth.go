package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/voltwatch/voltwatch/pkg/log"
)

const schedulerSecretHeader = "X-Scheduler-Secret"

func oidcEmailVerifier(v *oidc.IDTokenVerifier) emailVerifier {
	return func(ctx context.Context, rawIDToken string) (string, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		if claims.Email == "" || !claims.EmailVerified {
			return "", errors.New("token has no verified email")
		}
		return claims.Email, nil
	}
}

func (s *Server) secretMatches(secret string) bool {
	if s.schedulerSecret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.schedulerSecret)) == 1
}

func (s *Server) emailAllowed(email string) bool {
	var allowed bool
	for _, e := range s.schedulerEmails {
		if subtle.ConstantTimeCompare([]byte(email), []byte(e)) == 1 {
			allowed = true
		}
	}
	return allowed
}

// authMiddleware accepts either the shared scheduler secret, sent in the
// X-Scheduler-Secret header or as a bearer token, or a Google ID token issued
// to one of the scheduler emails.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.WithAttrs(ctx, slog.String("reqPath", r.URL.Path))

		if secret := r.Header.Get(schedulerSecretHeader); secret != "" {
			if !s.secretMatches(secret) {
				log.Ctx(ctx).WarnContext(ctx, "invalid scheduler secret")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		if s.secretMatches(token) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if s.verifyToken == nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid bearer secret")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		email, err := s.verifyToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "id token validation failed", slog.Any("error", err))
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !s.emailAllowed(email) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.WithAttrs(ctx, slog.String("authEmail", email))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
