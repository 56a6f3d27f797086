package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PRX2112/image-opration-tools-sub001/internal/auth"

	"github.com/rs/zerolog"
)

// Injected key type to avoid context collisions
type contextKey string

const AccountContextKey = contextKey("account")

// AccountIDFromContext returns the account id stored by AuthMiddleware.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(AccountContextKey).(string)
	return id, ok && id != ""
}

// WithAccountID returns a copy of ctx carrying the account id.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountContextKey, accountID)
}

func AuthMiddleware(tokens *auth.TokenManager, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("middleware", "auth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Authorization header missing")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.Debug().Msg("Invalid authorization header")
				unauthorized(w, "Invalid authorization header")
				return
			}
			claims, err := tokens.Validate(parts[1])
			if err != nil {
				if auth.IsExpired(err) {
					unauthorized(w, "Token expired")
					return
				}
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Invalid token")
				unauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), claims.Subject)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated", "message": msg})
}
