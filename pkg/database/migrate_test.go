package database

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"002_audit.up.sql":  {Data: []byte("CREATE TABLE audit (id TEXT PRIMARY KEY);")},
		"001_init.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
		"001_init.down.sql": {Data: []byte("DROP TABLE items;")},
		"README.md":         {Data: []byte("ignored")},
		"nested/003.up.sql": {Data: []byte("ignored")},
	}
}

func TestLoadMigrations_SortedUpOnly(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_init.up.sql", migrations[0].Version)
	assert.Equal(t, "002_audit.up.sql", migrations[1].Version)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE items")
}

func TestRunSQLMigrations_AppliesOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, SQLiteConfig{Path: MemoryPath})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunSQLMigrations(ctx, db, testMigrations(), discardLogger()))
	require.NoError(t, RunSQLMigrations(ctx, db, testMigrations(), discardLogger()))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)

	_, err = db.ExecContext(ctx, "INSERT INTO items (id, name) VALUES ('a', 'first')")
	assert.NoError(t, err)
}

func TestRunSQLMigrations_BadSQLRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, SQLiteConfig{Path: MemoryPath})
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"001_broken.up.sql": {Data: []byte("CREATE TABLE nope (")}}
	err = RunSQLMigrations(ctx, db, fsys, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_broken.up.sql")

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 0, applied)
}

func TestRunMigrations_Postgres(t *testing.T) {
	mock := NewMockPool(t)

	fsys := fstest.MapFS{
		"001_init.up.sql": {Data: []byte("CREATE TABLE items (id TEXT)")},
		"002_more.up.sql": {Data: []byte("CREATE TABLE more (id TEXT)")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)")).
		WithArgs("001_init.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)")).
		WithArgs("002_more.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE more (id TEXT)")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_more.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), mock, fsys, discardLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_SQLErrorNotRetried(t *testing.T) {
	mock := NewMockPool(t)

	fsys := fstest.MapFS{"001_init.up.sql": {Data: []byte("CREATE TABLE items (id TEXT)")}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("001_init.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE items").WillReturnError(errStr("syntax error at or near"))
	mock.ExpectRollback()

	err := RunMigrations(context.Background(), mock, fsys, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
