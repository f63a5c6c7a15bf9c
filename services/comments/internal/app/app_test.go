package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinery-site/comments/services/comments/internal/config"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewOpener_SQLite(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "comments.db")}

	store, err := newOpener(cfg, testLogger())(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "sqlite", store.Name())
	require.NoError(t, store.Migrate(context.Background()))
}

func TestNewOpener_NotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"postgres without url", &config.Config{Storage: config.StoragePostgres}},
		{"sqlite without path", &config.Config{Storage: config.StorageSQLite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newOpener(tt.cfg, testLogger())(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, repository.ErrNotConfigured)
			code, retry := repository.Classify(err)
			assert.Equal(t, repository.CodeNotConfigured, code)
			assert.Equal(t, 300, retry)
		})
	}
}

func TestNewApp_StartsOffline(t *testing.T) {
	cfg := &config.Config{
		Environment:            "test",
		HTTPPort:               18080,
		Storage:                config.StoragePostgres,
		AdminSessionTTLMinutes: 120,
		RateLimitWindowMinutes: 15,
		RateLimitMax:           5,
		OTELSampleRate:         1,
	}

	a, err := NewApp(cfg, testLogger())
	require.NoError(t, err)

	assert.False(t, a.storage.IsReady())
	assert.Equal(t, repository.CodeNotConfigured, a.storage.Health().LastErrorCode)
	assert.Nil(t, a.producer)
	assert.Nil(t, a.redis)
	assert.NoError(t, a.Shutdown())
}

func TestNewApp_ProductionRequiresOrigin(t *testing.T) {
	tests := []struct {
		environment string
		wantStatus  int
	}{
		{"production", http.StatusForbidden},
		{"development", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			cfg := &config.Config{
				Environment:            tt.environment,
				HTTPPort:               18081,
				Storage:                config.StorageSQLite,
				SQLitePath:             filepath.Join(t.TempDir(), "comments.db"),
				AdminSessionTTLMinutes: 120,
				RateLimitWindowMinutes: 15,
				RateLimitMax:           5,
			}
			a, err := NewApp(cfg, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Shutdown() })

			req := httptest.NewRequest(http.MethodPost, "/api/comments", strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			a.httpServer.Handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusForbidden {
				var body map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "FORBIDDEN_ORIGIN", body["code"])
			}
		})
	}
}
