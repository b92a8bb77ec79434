package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		AuthType:               "jwt",
		JwtSecret:              []byte("testsecret"),
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 24 * time.Hour,
		CookieSameSite:         http.SameSiteLaxMode,
	}
}

func TestGenerateToken(t *testing.T) {
	config := testConfig()

	tokens, err := GenerateToken("operator", config)
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens should not be empty")
	}

	claims, err := parseJWT(tokens.AccessToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("failed to parse access token: %v", err)
	}
	if claims["sub"] != "operator" || claims["type"] != tokenTypeAccess {
		t.Errorf("unexpected access claims: %v", claims)
	}

	claims, err = parseJWT(tokens.RefreshToken, config.JwtSecret)
	if err != nil {
		t.Fatalf("failed to parse refresh token: %v", err)
	}
	if claims["type"] != tokenTypeRefresh {
		t.Errorf("expected refresh token type, got %v", claims["type"])
	}
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	if _, err := GenerateToken("operator", &Config{}); err == nil {
		t.Errorf("expected error without secret")
	}
}

func TestParseJWTRejectsOtherSecret(t *testing.T) {
	tokens, err := GenerateToken("operator", testConfig())
	if err != nil {
		t.Fatalf("failed to generate tokens: %v", err)
	}
	if _, err := parseJWT(tokens.AccessToken, []byte("othersecret")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSetAuthCookies(t *testing.T) {
	w := httptest.NewRecorder()
	config := testConfig()
	config.SecureCookie = true

	tokens := &TokenResponse{
		AccessToken:  "access_token_value",
		RefreshToken: "refresh_token_value",
	}

	setAuthCookies(w, tokens, config)

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Errorf("expected 2 cookies to be set")
	}

	for _, cookie := range cookies {
		switch cookie.Name {
		case "access_token":
			if cookie.Value != "access_token_value" {
				t.Errorf("access_token cookie value mismatch")
			}
			if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
				t.Errorf("access_token cookie attributes mismatch")
			}
		case "refresh_token":
			if cookie.Value != "refresh_token_value" {
				t.Errorf("refresh_token cookie value mismatch")
			}
			if !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/auth/refresh" {
				t.Errorf("refresh_token cookie attributes mismatch")
			}
		default:
			t.Errorf("unexpected cookie: %s", cookie.Name)
		}
	}
}

func TestClearAuthCookies(t *testing.T) {
	w := httptest.NewRecorder()
	clearAuthCookies(w, testConfig())

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Errorf("expected 2 cookies to be cleared")
	}
	for _, cookie := range cookies {
		if cookie.Value != "" || cookie.MaxAge != -1 {
			t.Errorf("cookie %s should be cleared", cookie.Name)
		}
	}
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer access_token_value")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh_token_value"})

	if got := extractToken(req, "access_token"); got != "access_token_value" {
		t.Errorf("expected access_token_value, got %s", got)
	}
	if got := extractToken(req, "refresh_token"); got != "refresh_token_value" {
		t.Errorf("expected refresh_token_value, got %s", got)
	}
}

func TestExtractTokenFromEventStreamQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/events?access_token=stream_token", nil)
	if got := extractToken(req, "access_token"); got != "" {
		t.Errorf("query token must be ignored outside event streams, got %s", got)
	}

	req.Header.Set("Accept", "text/event-stream")
	if got := extractToken(req, "access_token"); got != "stream_token" {
		t.Errorf("expected stream_token, got %s", got)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if ip := getClientIP(req); ip != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", ip)
	}
	req.Header.Set("X-Forwarded-For", "192.168.1.7, 10.0.0.1")
	if ip := getClientIP(req); ip != "192.168.1.7" {
		t.Errorf("expected 192.168.1.7, got %s", ip)
	}
}
