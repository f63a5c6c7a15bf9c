package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/machinery-site/comments/pkg/database"
	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/services/comments/internal/domain"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements repository.Store on an embedded SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ repository.Store = (*Store)(nil)

// Open opens the database file. Migrations are applied separately by Migrate.
func Open(ctx context.Context, cfg database.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	db, err := database.OpenSQLite(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(db, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Name returns "sqlite".
func (s *Store) Name() string { return "sqlite" }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return database.RunSQLMigrations(ctx, s.db, files, s.logger)
}

// Ping verifies the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PoolStats always reports false; the embedded backend has no pool.
func (s *Store) PoolStats() (database.PoolStats, bool) {
	return database.PoolStats{}, false
}

// GetApprovedComments returns approved comments with approved replies.
func (s *Store) GetApprovedComments(ctx context.Context, productID string) (_ []domain.PublicComment, err error) {
	query := `
		SELECT id, product_id, rating, author, text, status, created_at
		FROM comments
		WHERE product_id = ? AND status = 'approved'
		ORDER BY created_at DESC, id DESC`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "GetApprovedComments", query)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("query approved comments: %w", err)
	}
	defer rows.Close()

	comments := []domain.PublicComment{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			c         domain.PublicComment
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Rating, &c.Author, &c.Text, &c.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		c.Replies = []domain.PublicReply{}
		index[c.ID] = len(comments)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	if len(comments) == 0 {
		return comments, nil
	}

	replyQuery := `
		SELECT r.id, r.comment_id, r.author, r.text, r.is_admin, r.admin_display_name, r.responded_at, r.created_at
		FROM comment_replies r
		JOIN comments c ON c.id = r.comment_id
		WHERE c.product_id = ? AND c.status = 'approved' AND r.status = 'approved'
		ORDER BY r.created_at ASC, r.id ASC`

	replyRows, err := s.db.QueryContext(ctx, replyQuery, productID)
	if err != nil {
		return nil, fmt.Errorf("query approved replies: %w", err)
	}
	defer replyRows.Close()

	for replyRows.Next() {
		var (
			r                      domain.PublicReply
			commentID              string
			adminName              sql.NullString
			respondedAt, createdAt string
		)
		if err := replyRows.Scan(&r.ID, &commentID, &r.Author, &r.Text, &r.IsAdmin, &adminName, &respondedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		r.AdminDisplayName = adminName.String
		if r.RespondedAt, err = parseTime(respondedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if i, ok := index[commentID]; ok {
			comments[i].Replies = append(comments[i].Replies, r)
		}
	}
	if err := replyRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}

	return comments, nil
}

// HasDuplicateComment reports whether an identical submission exists.
func (s *Store) HasDuplicateComment(ctx context.Context, productID, email, text string) (_ bool, err error) {
	query := `
		SELECT 1 FROM comments
		WHERE product_id = ? AND lower(email) = lower(?) AND text = ?
		LIMIT 1`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "HasDuplicateComment", query)
	defer func() { end(err) }()

	var one int
	err = s.db.QueryRowContext(ctx, query, productID, email, text).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate comment: %w", err)
	}
	return true, nil
}

// CreateComment inserts a new comment.
func (s *Store) CreateComment(ctx context.Context, c *domain.Comment) (err error) {
	query := `
		INSERT INTO comments (id, product_id, rating, author, email, text, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "CreateComment", query)
	defer func() { end(err) }()

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.ProductID, c.Rating, c.Author, c.Email, c.Text, string(c.Status), formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.DuplicateComment()
		}
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// CreateReply inserts a reply and its audit entry after checking the parent.
func (s *Store) CreateReply(ctx context.Context, r *domain.Reply, audit *domain.AuditLogEntry) (err error) {
	query := `
		INSERT INTO comment_replies (id, comment_id, author, text, is_admin, admin_id, admin_display_name, responded_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "CreateReply", query)
	defer func() { end(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id = ?`, r.CommentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("comment", r.CommentID)
		}
		if err != nil {
			return fmt.Errorf("check parent comment: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			r.ID, r.CommentID, r.Author, r.Text, r.IsAdmin, nullString(r.AdminID), nullString(r.AdminDisplayName),
			formatTime(r.RespondedAt), string(r.Status), formatTime(r.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

// UpdateCommentStatus sets a comment's status and records the audit entry.
func (s *Store) UpdateCommentStatus(ctx context.Context, id string, status domain.Status, m domain.Moderator, audit *domain.AuditLogEntry) (_ *domain.Comment, err error) {
	query := `
		UPDATE comments
		SET status = ?, moderated_at = ?, moderated_by_id = ?, moderated_by_display_name = ?
		WHERE id = ?
		RETURNING id, product_id, rating, author, email, text, status, created_at, moderated_at, moderated_by_id, moderated_by_display_name`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "UpdateCommentStatus", query)
	defer func() { end(err) }()

	var updated *domain.Comment
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, query,
			string(status), formatTime(time.Now().UTC()), m.ID, m.DisplayName, id,
		)
		c, err := scanComment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("update comment status: %w", err)
		}
		updated = c
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteComment deletes a comment; replies cascade.
func (s *Store) DeleteComment(ctx context.Context, id string, audit *domain.AuditLogEntry) (_ bool, err error) {
	query := `DELETE FROM comments WHERE id = ?`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DeleteComment", query)
	defer func() { end(err) }()

	return s.deleteAudited(ctx, audit, query, id)
}

// DeleteReply deletes a single reply belonging to commentID.
func (s *Store) DeleteReply(ctx context.Context, commentID, replyID string, audit *domain.AuditLogEntry) (_ bool, err error) {
	query := `DELETE FROM comment_replies WHERE id = ? AND comment_id = ?`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DeleteReply", query)
	defer func() { end(err) }()

	return s.deleteAudited(ctx, audit, query, replyID, commentID)
}

func (s *Store) deleteAudited(ctx context.Context, audit *domain.AuditLogEntry, query string, args ...any) (bool, error) {
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		deleted = true
		return insertAudit(ctx, tx, audit)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ListAuditLogs returns audit entries newest first.
func (s *Store) ListAuditLogs(ctx context.Context, limit, offset int) (_ []domain.AuditLogEntry, err error) {
	query := `
		SELECT id, action, comment_id, reply_id, admin_id, admin_display_name, token_id, token_source, metadata, created_at
		FROM comment_audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "ListAuditLogs", query)
	defer func() { end(err) }()

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditLogEntry{}
	for rows.Next() {
		var (
			e                  domain.AuditLogEntry
			commentID, replyID sql.NullString
			metadata, created  string
		)
		if err := rows.Scan(&e.ID, &e.Action, &commentID, &replyID, &e.AdminID, &e.AdminDisplayName,
			&e.TokenID, &e.TokenSource, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.CommentID = commentID.String
		e.ReplyID = replyID.String
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const insertAuditQuery = `
	INSERT INTO comment_audit_logs (id, action, comment_id, reply_id, admin_id, admin_display_name, token_id, token_source, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertAudit(ctx context.Context, tx *sql.Tx, e *domain.AuditLogEntry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	if e.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, insertAuditQuery,
		e.ID, string(e.Action), nullString(e.CommentID), nullString(e.ReplyID), e.AdminID, e.AdminDisplayName,
		e.TokenID, e.TokenSource, string(metadata), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func scanComment(row *sql.Row) (*domain.Comment, error) {
	var (
		c                   domain.Comment
		createdAt           string
		moderatedAt         sql.NullString
		moderatorID, byName sql.NullString
	)
	err := row.Scan(&c.ID, &c.ProductID, &c.Rating, &c.Author, &c.Email, &c.Text, &c.Status,
		&createdAt, &moderatedAt, &moderatorID, &byName)
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if moderatedAt.Valid {
		t, err := parseTime(moderatedAt.String)
		if err != nil {
			return nil, err
		}
		c.ModeratedAt = &t
	}
	c.ModeratedByID = moderatorID.String
	c.ModeratedByDisplayName = byName.String
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
