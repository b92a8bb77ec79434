package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenTypeAccess  = "bearer"
	tokenTypeRefresh = "refresh"
)

// parseJWT parses and validates a JWT token string.
func parseJWT(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure token is signed with HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	// Tokens without an expiry are not accepted.
	if exp, ok := claims["exp"].(float64); !ok || float64(time.Now().Unix()) > exp {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// GenerateToken issues an access and refresh token pair for subject.
func GenerateToken(subject string, config *Config) (*TokenResponse, error) {
	if len(config.JwtSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is not configured")
	}
	return generateTokens(jwt.MapClaims{"sub": subject}, config)
}

// generateTokens creates both access and refresh JWT tokens.
func generateTokens(claims jwt.MapClaims, config *Config) (*TokenResponse, error) {
	now := time.Now()

	accessExpirationTime := now.Add(config.AccessTokenExpiration)
	accessClaims := jwt.MapClaims{}
	for k, v := range claims {
		accessClaims[k] = v
	}
	accessClaims["exp"] = accessExpirationTime.Unix()
	accessClaims["iat"] = now.Unix()
	accessClaims["type"] = tokenTypeAccess

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString(config.JwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshExpirationTime := now.Add(config.RefreshTokenExpiration)
	refreshClaims := jwt.MapClaims{
		"sub":  claims["sub"],
		"exp":  refreshExpirationTime.Unix(),
		"iat":  now.Unix(),
		"type": tokenTypeRefresh,
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString(config.JwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int64(config.AccessTokenExpiration.Seconds()),
	}, nil
}

// setAuthCookies sets the authentication tokens in HTTP cookies.
func setAuthCookies(w http.ResponseWriter, tokens *TokenResponse, config *Config) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    tokens.AccessToken,
		Expires:  time.Now().Add(config.AccessTokenExpiration),
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/",
		SameSite: config.CookieSameSite,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    tokens.RefreshToken,
		Expires:  time.Now().Add(config.RefreshTokenExpiration),
		HttpOnly: true,
		Secure:   config.SecureCookie,
		Path:     "/auth/refresh",
		SameSite: config.CookieSameSite,
	})
}

// clearAuthCookies removes the authentication cookies.
func clearAuthCookies(w http.ResponseWriter, config *Config) {
	for _, c := range []struct{ name, path string }{
		{"access_token", "/"},
		{"refresh_token", "/auth/refresh"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   config.SecureCookie,
			Path:     c.path,
			SameSite: config.CookieSameSite,
		})
	}
}

// WriteJSONResponse writes a JSON response with the specified HTTP status and data.
func WriteJSONResponse(w http.ResponseWriter, httpStatus int, data *HttpResp) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteSuccessResponse sends a successful JSON response.
func WriteSuccessResponse(w http.ResponseWriter, message string, data interface{}) {
	WriteJSONResponse(w,
		http.StatusOK,
		&HttpResp{Status: "success", Data: data, Message: message})
}

// WriteErrorResponse sends an error JSON response.
func WriteErrorResponse(w http.ResponseWriter, message string, httpStatus int) {
	WriteJSONResponse(w,
		httpStatus,
		&HttpResp{Status: "error", Data: nil, Message: message})
}

// WriteErrorResponseData sends an error JSON response with additional data.
func WriteErrorResponseData(w http.ResponseWriter, message string, data interface{}, httpStatus int) {
	WriteJSONResponse(w,
		httpStatus,
		&HttpResp{Status: "error", Data: data, Message: message})
}

// extractToken extracts a token from the request headers, cookies or, for
// event streams that cannot set headers, the query string.
func extractToken(r *http.Request, tokenName string) string {
	if tokenName == "access_token" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
				return parts[1]
			}
		}
	}

	cookie, err := r.Cookie(tokenName)
	if err == nil {
		return cookie.Value
	}

	if tokenName == "access_token" && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return r.URL.Query().Get("access_token")
	}

	return ""
}

// getClientIP retrieves the client's IP address from the request.
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can have multiple IPs; the first one is usually the original client IP
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	return clientIP
}
