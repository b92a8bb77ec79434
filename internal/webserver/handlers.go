package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/service"
	"github.com/y0ug/depwner/pkg/auth"
)

const eventKeepAlive = 15 * time.Second

type pathRequest struct {
	Path string `json:"path"`
}

// handleGetStatus handles the GET /api/status endpoint.
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.Status(), http.StatusInternalServerError)
}

// handleGetStats handles the GET /api/stats endpoint.
func (ws *WebServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.Stats(r.Context()), http.StatusInternalServerError)
}

// handleGetLogs handles the GET /api/logs endpoint.
func (ws *WebServer) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.ScanLog(), http.StatusInternalServerError)
}

func (ws *WebServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.Settings(), http.StatusInternalServerError)
}

// handlePutSettings handles the PUT /api/settings endpoint.
func (ws *WebServer) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var next models.Settings
	if err := decodeBody(r, &next); err != nil {
		ws.Logger.WithError(err).Warn("Invalid settings payload")
		auth.WriteErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	writeResponse(w, ws.Service.UpdateSettings(next), http.StatusBadRequest)
}

// handleScan handles the POST /api/scan endpoint. Scans started over HTTP
// run in the background unless "wait" is set in the query.
func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	var opts service.Options
	if err := decodeBody(r, &opts); err != nil {
		ws.Logger.WithError(err).Warn("Invalid scan payload")
		auth.WriteErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("wait") == "" {
		opts.Background = true
	}
	writeResponse(w, ws.Service.Scan(r.Context(), opts), http.StatusBadRequest)
}

// handleCancelScan handles the DELETE /api/scan/{id} endpoint.
func (ws *WebServer) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeResponse(w, ws.Service.CancelScan(id), http.StatusNotFound)
}

// handleGetQuarantine handles the GET /api/quarantine endpoint.
func (ws *WebServer) handleGetQuarantine(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.Ledger(), http.StatusInternalServerError)
}

func (ws *WebServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeBody(r, &req); err != nil || req.Path == "" {
		auth.WriteErrorResponse(w, "Path field is required", http.StatusBadRequest)
		return
	}
	writeResponse(w, ws.Service.Restore(req.Path), http.StatusConflict)
}

func (ws *WebServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeBody(r, &req); err != nil || req.Path == "" {
		auth.WriteErrorResponse(w, "Path field is required", http.StatusBadRequest)
		return
	}
	writeResponse(w, ws.Service.Purge(req.Path), http.StatusConflict)
}

func (ws *WebServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.Reconcile(), http.StatusInternalServerError)
}

// handleUpdateDefinitions handles the POST /api/definitions/update endpoint.
func (ws *WebServer) handleUpdateDefinitions(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, ws.Service.UpdateDefinitions(r.Context()), http.StatusBadGateway)
}

// handleEvents streams broker events as server-sent events. The optional
// "types" query parameter is a comma-separated list of event types to keep.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		auth.WriteErrorResponse(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	var filter map[events.Type]struct{}
	if types := r.URL.Query().Get("types"); types != "" {
		filter = make(map[events.Type]struct{})
		for _, t := range strings.Split(types, ",") {
			filter[events.Type(strings.TrimSpace(t))] = struct{}{}
		}
	}

	ch, unsubscribe := ws.Service.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil {
				if _, keep := filter[ev.Type]; !keep {
					continue
				}
			}
			data, err := json.Marshal(ev)
			if err != nil {
				ws.Logger.WithError(err).WithField("event", ev.Type).Error("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
