package auth

import (
	"encoding/json"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Handler holds the authentication handlers and dependencies.
type Handler struct {
	Config     *Config
	Middleware *Middleware
	Logger     *logrus.Logger
}

// NewHandler initializes a new authentication handler.
func NewHandler(config *Config, logger *logrus.Logger) *Handler {
	return &Handler{
		Config:     config,
		Middleware: NewMiddleware(config, logger),
		Logger:     logger,
	}
}

// AuthMiddleware returns the authentication middleware.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return h.Middleware.AuthMiddleware(next)
}

// HandleStatus reports who the token belongs to.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Enabled() {
		WriteSuccessResponse(w, "Authentication disabled", StatusResponse{
			Authenticated: true,
			Message:       "authentication disabled",
		})
		return
	}

	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteErrorResponseData(w, "Failed to retrieve user information", StatusResponse{
			Authenticated: false,
		}, http.StatusUnauthorized)
		return
	}

	sub, _ := claims["sub"].(string)
	exp, _ := claims["exp"].(float64)
	WriteSuccessResponse(w, "Authenticated", StatusResponse{
		Authenticated: true,
		Subject:       sub,
		ExpiresAt:     int64(exp),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh exchanges a refresh token, from the cookie or the JSON body,
// for a new token pair.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshTokenString := extractToken(r, "refresh_token")
	if refreshTokenString == "" && r.Body != nil {
		var body refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			refreshTokenString = body.RefreshToken
		}
	}
	if refreshTokenString == "" {
		WriteErrorResponse(w, "Refresh token not found", http.StatusUnauthorized)
		return
	}

	claims, err := h.Middleware.parseAndValidateToken(refreshTokenString, tokenTypeRefresh)
	if err != nil {
		h.Logger.WithError(err).Warn("Invalid refresh token")
		WriteErrorResponse(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	tokens, err := generateTokens(jwt.MapClaims{"sub": claims["sub"]}, h.Config)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to generate tokens")
		WriteErrorResponse(w, "Failed to generate tokens", http.StatusInternalServerError)
		return
	}

	setAuthCookies(w, tokens, h.Config)
	WriteSuccessResponse(w, "Token refreshed", tokens)
}

// HandleLogout removes the authentication cookies. Tokens stay valid until
// they expire.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookies(w, h.Config)
	WriteSuccessResponse(w, "Successfully logged out", nil)
}
