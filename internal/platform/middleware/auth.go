// Package middleware carries the HTTP middleware shared by the admin API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"agora/internal/admintoken"
)

// TokenValidator validates an admin session token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*admintoken.Claims, error)
}

type contextKeyAdminSubject struct{}

// ContextKeyAdminSubject is exported for tests that inject an authenticated
// context directly.
var ContextKeyAdminSubject = contextKeyAdminSubject{}

// AdminSubject returns the authenticated admin subject, or "" when the
// request is unauthenticated.
func AdminSubject(ctx context.Context) string {
	subject, ok := ctx.Value(ContextKeyAdminSubject).(string)
	if !ok {
		return ""
	}
	return subject
}

// RequireAdmin rejects requests without a valid bearer token.
func RequireAdmin(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized admin access, missing token",
					"request_id", chimiddleware.GetReqID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized admin access, invalid token",
					"error", err,
					"request_id", chimiddleware.GetReqID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, ContextKeyAdminSubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
