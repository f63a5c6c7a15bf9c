package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/machinery-site/comments/pkg/database"
	apperrors "github.com/machinery-site/comments/pkg/errors"
)

// Storage failure codes surfaced through X-Comments-Error-Code and health.
const (
	CodeReadOnly         = "STORAGE_READ_ONLY"
	CodeConnectionFailed = "STORAGE_CONNECTION_FAILED"
	CodeMigrationFailed  = "STORAGE_MIGRATION_FAILED"
	CodeNotConfigured    = "STORAGE_NOT_CONFIGURED"
)

const (
	readOnlyRetryAfter = 3600
	defaultRetryAfter  = 300
	initTimeout        = 30 * time.Second
)

const unavailableMessage = "Comments are temporarily unavailable. Please try again later."

// Health describes the storage state for the health endpoint.
type Health struct {
	Backend           string              `json:"backend"`
	Ready             bool                `json:"ready"`
	LastErrorCode     string              `json:"lastErrorCode,omitempty"`
	RetryAfterSeconds int                 `json:"retryAfterSeconds,omitempty"`
	InitAttempts      int                 `json:"initAttempts"`
	InitFailures      int                 `json:"initFailures"`
	Pool              *database.PoolStats `json:"pool,omitempty"`
}

// Manager owns the process-wide Store. Initialization is lazy and
// single-flight; failures are cached until their retry-after elapses.
type Manager struct {
	backend string
	open    Opener
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	store    Store
	lastErr  *apperrors.AppError
	failedAt time.Time
	attempts int
	failures int
}

// NewManager creates a Manager for the named backend.
func NewManager(backend string, open Opener, logger *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		open:    open,
		logger:  logger,
		now:     time.Now,
	}
}

// Backend returns the configured backend name.
func (m *Manager) Backend() string {
	return m.backend
}

// IsReady reports whether a Store has been opened and migrated.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store != nil
}

// Store returns the ready Store, initializing it on first use. While
// unavailable it returns a 503 AppError carrying the failure code and
// retry-after.
func (m *Manager) Store(ctx context.Context) (Store, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store, nil
}

// Initialize opens and migrates the Store. Concurrent callers share a
// single attempt. A cached failure is returned without a new attempt until
// its retry-after has elapsed.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.cached(); err != errRetry {
		return err
	}

	_, err, _ := m.group.Do("init", func() (any, error) {
		if err := m.cached(); err != errRetry {
			return nil, err
		}
		return nil, m.initialize(ctx)
	})
	return err
}

var errRetry = errors.New("retry")

// cached returns nil when ready, the cached failure while it is fresh, or
// errRetry when a new attempt is due.
func (m *Manager) cached() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store != nil {
		return nil
	}
	if m.lastErr != nil {
		wait := time.Duration(m.lastErr.RetryAfter) * time.Second
		if m.now().Before(m.failedAt.Add(wait)) {
			return m.lastErr
		}
	}
	return errRetry
}

func (m *Manager) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
	defer cancel()

	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
	storageInitAttempts.WithLabelValues(m.backend).Inc()

	store, err := m.open(ctx)
	if err == nil {
		if migrateErr := store.Migrate(ctx); migrateErr != nil {
			_ = store.Close()
			err = fmt.Errorf("%w: %w", ErrMigration, migrateErr)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		code, retryAfter := Classify(err)
		m.failures++
		m.failedAt = m.now()
		m.lastErr = apperrors.Unavailable(code, unavailableMessage, retryAfter, err)
		storageInitFailures.WithLabelValues(m.backend, code).Inc()
		m.logger.ErrorContext(ctx, "storage initialization failed",
			slog.String("backend", m.backend),
			slog.String("code", code),
			slog.Int("attempt", m.attempts),
			slog.Int("failures", m.failures),
			slog.Int("retry_after_seconds", retryAfter),
			slog.String("error", err.Error()),
		)
		return m.lastErr
	}

	m.store = store
	m.lastErr = nil
	m.logger.InfoContext(ctx, "storage initialized",
		slog.String("backend", store.Name()),
		slog.Int("attempt", m.attempts),
	)
	return nil
}

// Classify maps an initialization error to a storage failure code and its
// retry-after in seconds.
func Classify(err error) (string, int) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured, defaultRetryAfter
	case isReadOnly(err):
		return CodeReadOnly, readOnlyRetryAfter
	case errors.Is(err, ErrMigration):
		return CodeMigrationFailed, defaultRetryAfter
	default:
		return CodeConnectionFailed, defaultRetryAfter
	}
}

func isReadOnly(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"read-only file system", "readonly database", "read only", "erofs"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// PoolStats reports the pool occupancy of the ready Store, if any.
func (m *Manager) PoolStats() (database.PoolStats, bool) {
	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store == nil {
		return database.PoolStats{}, false
	}
	return store.PoolStats()
}

// Health returns a snapshot of the storage state.
func (m *Manager) Health() Health {
	m.mu.RLock()
	h := Health{
		Backend:      m.backend,
		Ready:        m.store != nil,
		InitAttempts: m.attempts,
		InitFailures: m.failures,
	}
	if m.lastErr != nil {
		h.LastErrorCode = m.lastErr.Code
		h.RetryAfterSeconds = m.lastErr.RetryAfter
	}
	m.mu.RUnlock()

	if stats, ok := m.PoolStats(); ok {
		h.Pool = &stats
	}
	return h
}

// Reset closes the Store and forgets all state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		_ = m.store.Close()
	}
	m.store = nil
	m.lastErr = nil
	m.failedAt = time.Time{}
	m.attempts = 0
	m.failures = 0
}

// Close releases the Store, if one was opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	return err
}
