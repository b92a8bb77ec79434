package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Discard output during tests
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func newTestMiddleware() *Middleware {
	return NewMiddleware(testConfig(), testLogger())
}

func signToken(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tokenString
}

func serve(m *Middleware, req *http.Request, next http.Handler) *http.Response {
	w := httptest.NewRecorder()
	m.AuthMiddleware(next).ServeHTTP(w, req)
	return w.Result()
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	middleware := newTestMiddleware()

	tokenString := signToken(t, jwt.MapClaims{
		"sub":  "user123",
		"type": tokenTypeAccess,
		"exp":  time.Now().Add(15 * time.Minute).Unix(),
	}, middleware.Config.JwtSecret)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)

	resp := serve(middleware, req, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims["sub"] != "user123" {
			t.Errorf("user claims not found in context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	middleware := newTestMiddleware()
	secret := middleware.Config.JwtSecret

	cases := map[string]string{
		"expired": signToken(t, jwt.MapClaims{
			"sub":  "user123",
			"type": tokenTypeAccess,
			"exp":  time.Now().Add(-15 * time.Minute).Unix(),
		}, secret),
		"refresh token": signToken(t, jwt.MapClaims{
			"sub":  "user123",
			"type": tokenTypeRefresh,
			"exp":  time.Now().Add(15 * time.Minute).Unix(),
		}, secret),
		"no expiry": signToken(t, jwt.MapClaims{
			"sub":  "user123",
			"type": tokenTypeAccess,
		}, secret),
		"garbage": "invalidtoken",
		"missing": "",
	}

	for name, tokenString := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tokenString != "" {
				req.Header.Set("Authorization", "Bearer "+tokenString)
			}

			resp := serve(middleware, req, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	middleware := NewMiddleware(&Config{AuthType: "none"}, testLogger())

	called := false
	resp := serve(middleware, httptest.NewRequest("GET", "/protected", nil), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer resp.Body.Close()

	if !called {
		t.Errorf("handler should be called when authentication is disabled")
	}
}
