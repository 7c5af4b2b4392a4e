package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/agentrun/internal/api/shared"
	"github.com/phrazzld/agentrun/internal/platform/logger"
)

// AuthMiddleware provides bearer token authentication for routes.
type AuthMiddleware struct {
	validator TokenValidator
	required  bool
}

// NewAuthMiddleware creates an AuthMiddleware. When required is false,
// requests without an Authorization header pass through unauthenticated;
// a header that is present must still carry a valid token.
func NewAuthMiddleware(validator TokenValidator, required bool) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, required: required}
}

// Authenticate validates the bearer token and records its subject in the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.required {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			case errors.Is(err, ErrInvalidToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			default:
				logger.FromContextOrDefault(r.Context()).Error("failed to validate token", "error", err)
				shared.RespondWithError(w, r, http.StatusInternalServerError, "Authentication error")
			}
			return
		}

		ctx := shared.SetSubject(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
