package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/josh-kwaku/samaki-checkout/internal/auth"
	"github.com/josh-kwaku/samaki-checkout/internal/handler"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
)

// Auth admits requests carrying a valid buyer token and scopes the request
// logger to that customer.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Debug("token rejected", "error", err)
				if errors.Is(err, jwt.ErrTokenExpired) {
					handler.RespondAppError(w, handler.ErrTokenExpired, nil)
					return
				}
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithCustomerID(r.Context(), claims.CustomerID)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("customer_id", claims.CustomerID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
