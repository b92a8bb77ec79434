package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// ClaimsFromContext returns the claims attached by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(jwt.MapClaims)
	return claims, ok
}

// Middleware handles authentication for incoming HTTP requests.
type Middleware struct {
	Config *Config
	Logger *logrus.Logger
}

// NewMiddleware initializes a new authentication middleware.
func NewMiddleware(config *Config, logger *logrus.Logger) *Middleware {
	return &Middleware{
		Config: config,
		Logger: logger,
	}
}

// AuthMiddleware is the HTTP middleware for authentication. With AUTH_TYPE
// none every request passes through.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Config.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		logger := m.Logger.WithField("client", getClientIP(r))

		tokenString := extractToken(r, "access_token")
		if tokenString == "" {
			logger.Warn("Authorization token not found")
			WriteErrorResponse(w, "Authorization token not found", http.StatusUnauthorized)
			return
		}

		claims, err := m.parseAndValidateToken(tokenString, tokenTypeAccess)
		if err != nil {
			logger.WithError(err).Warn("Invalid token")
			message := "Invalid token"
			if errors.Is(err, ErrTokenExpired) {
				message = "Token has expired"
			}
			WriteErrorResponse(w, message, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseAndValidateToken parses a token and checks that it is of the wanted
// type, so a refresh token cannot be used as an access token.
func (m *Middleware) parseAndValidateToken(tokenString, tokenType string) (jwt.MapClaims, error) {
	claims, err := parseJWT(tokenString, m.Config.JwtSecret)
	if err != nil {
		return nil, err
	}
	if t, _ := claims["type"].(string); t != tokenType {
		return nil, ErrWrongTokenUse
	}
	return claims, nil
}
