package webserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/depwner/internal/config"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/notifications"
	"github.com/y0ug/depwner/internal/service"
	"github.com/y0ug/depwner/pkg/auth"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func newTestServer(t *testing.T, authConfig *auth.Config) (*service.Service, http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	cfg := &config.Config{
		DataDir:            data,
		QuarantineDir:      filepath.Join(data, "quarantine"),
		LedgerPath:         filepath.Join(data, "quarantine.json"),
		ScanLogPath:        filepath.Join(data, "logs.json"),
		SettingsPath:       filepath.Join(data, "settings.json"),
		WhitelistPath:      filepath.Join(data, "whitelist.txt"),
		FamilyHashPath:     filepath.Join(data, "hash.csv"),
		FamilyInfoPath:     filepath.Join(data, "info.json"),
		SignatureDBPath:    filepath.Join(data, "malware_hashes.db"),
		PatternBinary:      "depwner-test-missing-yr",
		PatternTimeout:     time.Second,
		MaxConcurrentScans: 2,
	}
	logger := testLogger()
	svc, err := service.New(context.Background(), cfg,
		&database.DatabaseConfig{Type: "sqlite", Path: cfg.SignatureDBPath},
		&notifications.NotificationConfig{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })

	ws := NewWebServer(svc, &WebserverConfig{ListenTo: "127.0.0.1:0"}, authConfig, auth.NewHandler(authConfig, logger), logger)
	return svc, ws.InitRouter(), dir
}

func doJSON(t *testing.T, h http.Handler, method, target string, body interface{}) (*httptest.ResponseRecorder, models.Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp models.Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestScanAndQuarantineEndpoints(t *testing.T) {
	svc, h, dir := newTestServer(t, &auth.Config{AuthType: "none"})
	_, err := svc.Store().AddSignatures(context.Background(), []models.SignatureEntry{
		{Fingerprint: "d41d8cd98f00b204e9800998ecf8427e", FirstSeen: "2024-01-01", Signature: "Trojan.Test"},
	})
	require.NoError(t, err)

	sample := filepath.Join(dir, "sample.exe")
	require.NoError(t, os.WriteFile(sample, nil, 0o644))

	w, resp := doJSON(t, h, http.MethodPost, "/api/scan?wait=1", service.Options{FilePath: sample})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	result := resp.Data.(map[string]interface{})
	assert.Equal(t, string(models.KindMaliciousSignature), result["kind"])
	assert.Equal(t, true, result["quarantined"])

	w, resp = doJSON(t, h, http.MethodGet, "/api/quarantine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.([]interface{}), 1)

	w, resp = doJSON(t, h, http.MethodPost, "/api/quarantine/restore", pathRequest{Path: sample})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.FileExists(t, sample)

	w, _ = doJSON(t, h, http.MethodPost, "/api/quarantine/restore", pathRequest{Path: sample})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/api/quarantine/purge", pathRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanRejectsBadOptions(t *testing.T) {
	_, h, _ := newTestServer(t, &auth.Config{AuthType: "none"})

	w, resp := doJSON(t, h, http.MethodPost, "/api/scan", service.Options{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)

	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(`{"unknown":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	_, h, dir := newTestServer(t, &auth.Config{AuthType: "none"})

	w, resp := doJSON(t, h, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.NeverUpdated, resp.Data.(map[string]interface{})["last_updated"])

	next := models.DefaultSettings()
	next.PatternEngineEnabled = true
	next.Locations = []string{dir}
	w, resp = doJSON(t, h, http.MethodPut, "/api/settings", next)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["pattern_engine_enabled"])

	next.Schedule.TimeOfDay = "25:00"
	w, resp = doJSON(t, h, http.MethodPut, "/api/settings", next)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestStatsAndStatusEndpoints(t *testing.T) {
	_, h, _ := newTestServer(t, &auth.Config{AuthType: "none"})

	w, resp := doJSON(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), resp.Data.(map[string]interface{})["total_signatures"])

	w, resp = doJSON(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, _ = doJSON(t, h, http.MethodDelete, "/api/scan/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIRequiresTokenWhenEnabled(t *testing.T) {
	authConfig := &auth.Config{
		AuthType:               "jwt",
		JwtSecret:              []byte("testsecret"),
		AccessTokenExpiration:  time.Minute,
		RefreshTokenExpiration: time.Hour,
	}
	_, h, _ := newTestServer(t, authConfig)

	w, _ := doJSON(t, h, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tokens, err := auth.GenerateToken("operator", authConfig)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	svc, h, _ := newTestServer(t, &auth.Config{AuthType: "none"})
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?types=scan.threat", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	svc.Broker().Publish(events.ScanProgress, models.ScanStatus{Progress: 1})
	svc.Broker().Publish(events.ThreatFound, models.Result{Path: "/tmp/evil", Kind: models.KindMaliciousSignature})

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		got = append(got, line)
	}
	assert.Equal(t, "event: scan.threat", got[0])
	assert.Contains(t, got[1], `"path":"/tmp/evil"`)
}

func TestNewWebserverConfigDefaultsToLoopback(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")

	cfg, err := NewWebserverConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenTo)
	assert.Len(t, cfg.CorsAllowedOrigins, 2)
}
