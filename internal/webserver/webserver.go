package webserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/service"
	"github.com/y0ug/depwner/pkg/auth"
)

// WebServer holds the data needed for handling HTTP requests.
type WebServer struct {
	Service     *service.Service
	config      *WebserverConfig
	authConfig  *auth.Config
	authHandler *auth.Handler
	Logger      *logrus.Logger
}

// StartWebServer starts the HTTP server.
func StartWebServer(ctx context.Context, ws *WebServer) (*http.Server, error) {
	router := ws.InitRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   ws.config.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		Debug:            false,
	}
	handler := cors.New(corsOptions).Handler(router)

	// No WriteTimeout: the event stream stays open.
	server := &http.Server{
		Addr:              ws.config.ListenTo,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		ws.Logger.Infof("Server starting on %s", ws.config.ListenTo)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.Logger.Errorf("ListenAndServe(): %v", err)
		}
	}()

	return server, nil
}

// NewWebServer initializes a new WebServer.
func NewWebServer(svc *service.Service, config *WebserverConfig, authConfig *auth.Config, authHandler *auth.Handler, logger *logrus.Logger) *WebServer {
	return &WebServer{
		Service:     svc,
		config:      config,
		authConfig:  authConfig,
		authHandler: authHandler,
		Logger:      logger,
	}
}

// InitRouter initializes the HTTP routes.
func (ws *WebServer) InitRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	if ws.authConfig.Enabled() {
		authRouter := r.PathPrefix("/auth").Subrouter()
		authRouter.Handle("/status", ws.authHandler.AuthMiddleware(http.HandlerFunc(ws.authHandler.HandleStatus))).Methods(http.MethodGet)
		authRouter.HandleFunc("/refresh", ws.authHandler.HandleRefresh).Methods(http.MethodPost)
		authRouter.HandleFunc("/logout", ws.authHandler.HandleLogout).Methods(http.MethodPost)
	}
	api.Use(ws.authHandler.AuthMiddleware)

	api.HandleFunc("/status", ws.handleGetStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", ws.handleGetStats).Methods(http.MethodGet)
	api.HandleFunc("/logs", ws.handleGetLogs).Methods(http.MethodGet)
	api.HandleFunc("/settings", ws.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", ws.handlePutSettings).Methods(http.MethodPut)
	api.HandleFunc("/scan", ws.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/{id}", ws.handleCancelScan).Methods(http.MethodDelete)
	api.HandleFunc("/quarantine", ws.handleGetQuarantine).Methods(http.MethodGet)
	api.HandleFunc("/quarantine/restore", ws.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/quarantine/purge", ws.handlePurge).Methods(http.MethodPost)
	api.HandleFunc("/quarantine/reconcile", ws.handleReconcile).Methods(http.MethodPost)
	api.HandleFunc("/definitions/update", ws.handleUpdateDefinitions).Methods(http.MethodPost)
	api.HandleFunc("/events", ws.handleEvents).Methods(http.MethodGet)

	if ws.config.StaticDir != "" {
		r.PathPrefix("/").Handler(
			http.StripPrefix("/", http.FileServer(http.Dir(ws.config.StaticDir))))
	}
	return r
}

// writeResponse writes a service response, using failStatus when it failed.
func writeResponse(w http.ResponseWriter, resp models.Response, failStatus int) {
	status := http.StatusOK
	if !resp.Success {
		status = failStatus
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
