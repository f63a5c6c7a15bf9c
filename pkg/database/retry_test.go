package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errStr string

func (e errStr) Error() string { return string(e) }

func TestRetryBackoff_Bounds(t *testing.T) {
	for attempt, base := range []time.Duration{250 * time.Millisecond, 500 * time.Millisecond} {
		for range 20 {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*(1-retryJitter)))
			assert.LessOrEqual(t, d, time.Duration(float64(base)*(1+retryJitter)))
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errStr("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{errStr("read: connection reset by peer"), true},
		{errStr("unexpected EOF"), true},
		{errStr("could not connect to server"), true},
		{errStr("syntax error at or near \"(\""), false},
		{errStr("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isConnectionError(tt.err), "%v", tt.err)
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), discardLogger(), "ping", isConnectionError, func() error {
			calls++
			if calls < 3 {
				return errStr("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), nil, "ping", isConnectionError, func() error {
			calls++
			return errStr("connection refused")
		})
		require.Error(t, err)
		assert.Equal(t, retryAttempts, calls)
		assert.Contains(t, err.Error(), "ping after 3 attempts")
	})

	t.Run("non retryable returns at once", func(t *testing.T) {
		calls := 0
		sqlErr := errStr("relation does not exist")
		err := withRetry(context.Background(), nil, "ping", isConnectionError, func() error {
			calls++
			return sqlErr
		})
		assert.Equal(t, sqlErr, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context stops the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := withRetry(ctx, nil, "ping", isConnectionError, func() error {
			return errStr("connection refused")
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRunMigrations_RetriesConnectionErrors(t *testing.T) {
	mock := NewMockPool(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnError(errStr("server closed the connection unexpectedly"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, RunMigrations(context.Background(), mock, fstest.MapFS{}, discardLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfig_PoolConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.URL = "postgres://comments:secret@db:5432/comments?sslmode=disable"
	cfg.MaxConns = 4
	cfg.MinConns = 8

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)

	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns, "min is clamped to max")
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, 5*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, "comments", pc.ConnConfig.Database)
}

func TestPostgresConfig_PoolConfigErrors(t *testing.T) {
	_, err := PostgresConfig{}.PoolConfig()
	assert.EqualError(t, err, "postgres url is empty")

	_, err = PostgresConfig{URL: "postgres://%zz"}.PoolConfig()
	assert.ErrorContains(t, err, "parse postgres config")
}
