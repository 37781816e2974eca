package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"authify/internal/models"

	"github.com/gorilla/mux"
)

const sessionCookieName = "jwt"

// TokenParser verifies a login token and returns its subject.
type TokenParser interface {
	Parse(raw string) (string, error)
}

// Principal is the authenticated caller of a request
type Principal struct {
	Email string
}

type principalKey struct{}

// PrincipalFromContext returns the caller attached by the auth middleware,
// or nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// bearerToken extracts the raw token from the Authorization header, falling
// back to the session cookie. ok is false when neither is present.
func bearerToken(r *http.Request) (token string, ok bool, malformed bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			return "", false, true
		}
		token = strings.TrimSpace(authHeader[len(prefix):])
		return token, token != "", token == ""
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true, false
	}
	return "", false, false
}

// RequireAuth rejects requests without a valid token.
func RequireAuth(tokens TokenParser) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok, malformed := bearerToken(r)
			if malformed {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized))
				return
			}
			if !ok {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}

			subject, err := tokens.Parse(raw)
			if err != nil {
				slog.Debug("Token rejected", "path", r.URL.Path, "error", err)
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid or expired token", models.ErrorCodeUnauthorized))
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{Email: subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the caller when a valid token is present.
// On any error, the request continues without authentication.
func OptionalAuth(tokens TokenParser) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok, _ := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := tokens.Parse(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{Email: subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
