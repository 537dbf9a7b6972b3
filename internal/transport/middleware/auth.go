package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/auth"
	"github.com/frahmantamala/stay-payments/internal/transport"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

// RequireAuth resolves the bearer token to a user id and stores it on the request context.
func RequireAuth(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := base.ExtractTokenFromHeader(r)
			if strings.TrimSpace(token) == "" {
				base.HandleError(w, internal.NewUnauthorizedError("Authorization header required", internal.ErrCodeInvalidToken))
				return
			}

			claims, err := verifier.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					base.HandleError(w, internal.ErrTokenExpired)
					return
				}
				base.HandleError(w, internal.ErrInvalidToken)
				return
			}

			ctx := internal.ContextWithUserID(r.Context(), claims.UserID)
			ctx = logger.With(ctx, "userID", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
