package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/davidmoltin/site-integrations/pkg/auth"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
	"go.uber.org/zap"
)

// TokenValidator checks bearer tokens issued by the assistant backend
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// BearerAuth validates an optional HS256 bearer token and stores its claims
// on the request context. A malformed or invalid token is always rejected.
// When required is false, requests without an Authorization header pass
// through anonymously.
func BearerAuth(validator TokenValidator, required bool, m *metrics.Metrics, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					respondError(w, http.StatusUnauthorized, "Missing authorization header")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				m.AuthTokenValidations.WithLabelValues("false").Inc()
				log.Warn("Invalid bearer token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			m.AuthTokenValidations.WithLabelValues("true").Inc()

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// respondError sends an error response with proper JSON encoding
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Use proper JSON encoding to prevent injection attacks
	response := map[string]string{"error": message}
	json.NewEncoder(w).Encode(response)
}
