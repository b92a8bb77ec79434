package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
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
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/settings"
	"golang.org/x/time/rate"
)

const bazaarFeed = `################################################################
# MalwareBazaar recent malware samples (CSV)                   #
################################################################
#
# "first_seen_utc","sha256_hash","md5_hash","sha1_hash","reporter","file_name","signature"
"2024-01-01 10:00:00","aa","D41D8CD98F00B204E9800998ECF8427E","bb","r","a.exe","Trojan.Test"
"2024-01-02 10:00:00","cc","5eb63bbbe01eeed093cb22bb8f5acdc3","dd","r","b.exe","n/a"
"2024-01-03 10:00:00","ee","not-a-hash","ff","r","c.exe","Worm"
# END 3 entries
`

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

type testEnv struct {
	store    *database.SQLiteDB
	settings *settings.Manager
	updater  *Updater
}

func newTestEnv(t *testing.T, feedURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	store, err := database.NewSQLiteDB(filepath.Join(dir, "sigs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	sm, err := settings.Load(filepath.Join(dir, "settings.json"), logger)
	require.NoError(t, err)

	u := NewUpdater(Config{FeedURL: feedURL, Rate: rate.Inf}, store, sm, logger)
	u.now = func() time.Time { return fixedNow }
	return &testEnv{store: store, settings: sm, updater: u}
}

func TestParseBazaarFeed(t *testing.T) {
	feed, err := Parse(strings.NewReader(bazaarFeed), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 3, feed.Rows)
	assert.Equal(t, 1, feed.Skipped)
	require.Len(t, feed.Entries, 2)

	assert.Equal(t, models.SignatureEntry{
		Fingerprint: "d41d8cd98f00b204e9800998ecf8427e",
		FirstSeen:   "2024-01-01 10:00:00",
		Signature:   "Trojan.Test",
	}, feed.Entries[0])
	assert.Equal(t, DefaultSignature, feed.Entries[1].Signature)
}

func TestParsePlainHashList(t *testing.T) {
	input := "# recent md5 hashes\nd41d8cd98f00b204e9800998ecf8427e\nzzz\n5EB63BBBE01EEED093CB22BB8F5ACDC3\n"
	feed, err := Parse(strings.NewReader(input), fixedNow)
	require.NoError(t, err)
	require.Len(t, feed.Entries, 2)
	assert.Equal(t, 1, feed.Skipped)
	assert.Equal(t, "2024-06-01 12:00:00", feed.Entries[0].FirstSeen)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", feed.Entries[1].Fingerprint)
	assert.Equal(t, DefaultSignature, feed.Entries[1].Signature)
}

func TestParsePlainHeader(t *testing.T) {
	input := "md5_hash,signature\nd41d8cd98f00b204e9800998ecf8427e,AgentTesla\n"
	feed, err := Parse(strings.NewReader(input), fixedNow)
	require.NoError(t, err)
	require.Len(t, feed.Entries, 1)
	assert.Equal(t, "AgentTesla", feed.Entries[0].Signature)
	assert.Equal(t, "2024-06-01 12:00:00", feed.Entries[0].FirstSeen)
}

func TestParseMissingHashColumn(t *testing.T) {
	for _, input := range []string{
		"sha256_hash,signature\naa,Trojan\n",
		`# "first_seen_utc","sha256_hash","signature"` + "\n" + `"2024-01-01","aa","Trojan"` + "\n",
	} {
		_, err := Parse(strings.NewReader(input), fixedNow)
		assert.Error(t, err)
	}
}

func TestUpdateFromFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bazaarFeed)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	ctx := context.Background()

	summary, err := env.updater.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "2024-06-01 12:00:00", summary.LastUpdated)
	assert.Equal(t, "2024-06-01 12:00:00", env.settings.Get().LastUpdated)

	// A second import of the same feed adds nothing.
	summary, err = env.updater.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)

	total, err := env.store.GetTotalSignatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	entry, err := env.store.GetSignature(ctx, "d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)
	assert.Equal(t, "Trojan.Test", entry.Signature)
}

func TestUpdateMissingHashColumnWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "sha256_hash,signature\naa,Trojan\n")
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	ctx := context.Background()

	_, err := env.updater.Update(ctx)
	var updateErr *UpdateError
	require.True(t, errors.As(err, &updateErr))
	assert.Equal(t, "parse", updateErr.Op)

	total, err := env.store.GetTotalSignatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, models.NeverUpdated, env.settings.Get().LastUpdated)
}

func TestUpdateEmptyFeedKeepsLastUpdated(t *testing.T) {
	for name, body := range map[string]string{
		"empty":         "",
		"comments only": "# header lost\n# END 0 entries\n",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			env := newTestEnv(t, srv.URL)
			_, err := env.updater.Update(context.Background())
			var updateErr *UpdateError
			require.True(t, errors.As(err, &updateErr), "got %v", err)
			assert.Equal(t, "parse", updateErr.Op)
			assert.ErrorIs(t, err, ErrNoHeader)
			assert.Equal(t, models.NeverUpdated, env.settings.Get().LastUpdated)
		})
	}
}

func TestParseHeaderOnlyFeed(t *testing.T) {
	feed, err := Parse(strings.NewReader(`# "first_seen_utc","md5_hash","signature"`+"\n# END 0 entries\n"), fixedNow)
	require.NoError(t, err)
	assert.Empty(t, feed.Entries)
}

func TestUpdateHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.updater.Update(context.Background())
	var updateErr *UpdateError
	require.True(t, errors.As(err, &updateErr))
	assert.Equal(t, "fetch", updateErr.Op)
	assert.Equal(t, models.NeverUpdated, env.settings.Get().LastUpdated)
}

func TestUpdateWithoutURL(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.updater.Update(context.Background())
	assert.Error(t, err)
}

func TestImportFileKeepsLastUpdated(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(t.TempDir(), "full.csv")
	require.NoError(t, os.WriteFile(path, []byte(bazaarFeed), 0o600))

	summary, err := env.updater.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, models.NeverUpdated, env.settings.Get().LastUpdated)

	summary, err = env.updater.UpdateFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, "2024-06-01 12:00:00", env.settings.Get().LastUpdated)
}
