package webserver

import (
	"net"
	"os"
	"strings"
)

// WebserverConfig holds the configuration for the webserver.
type WebserverConfig struct {
	ListenTo           string
	CorsAllowedOrigins []string
	// StaticDir, when set, is served at the root for the UI bundle.
	StaticDir string
}

// NewWebserverConfig initializes the webserver configuration from environment variables.
func NewWebserverConfig() (*WebserverConfig, error) {
	config := &WebserverConfig{}

	// The control API is meant for the local UI; bind to loopback unless told otherwise.
	host := os.Getenv("LISTEN_ADDR")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	config.ListenTo = net.JoinHostPort(host, port)

	corsAllowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if corsAllowedOrigins != "" {
		config.CorsAllowedOrigins = strings.Split(corsAllowedOrigins, ",")
	}

	config.StaticDir = os.Getenv("STATIC_DIR")

	return config, nil
}
