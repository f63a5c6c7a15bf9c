package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/machinery-site/comments/pkg/database"
	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/services/comments/internal/domain"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Store implements repository.Store using PostgreSQL.
type Store struct {
	db     database.DBTX
	logger *slog.Logger
}

var _ repository.Store = (*Store)(nil)

// Open connects a pool using cfg. Migrations are applied separately by Migrate.
func Open(ctx context.Context, cfg database.PostgresConfig, logger *slog.Logger) (*Store, error) {
	pool, err := database.NewPostgresPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(pool, logger), nil
}

// New creates a store over db, typically a *pgxpool.Pool.
func New(db database.DBTX, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Name returns "postgres".
func (s *Store) Name() string { return "postgres" }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return database.RunMigrations(ctx, s.db, files, s.logger)
}

// Ping verifies the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return s.db.QueryRow(ctx, "SELECT 1").Scan(new(int))
}

// Close closes the pool.
func (s *Store) Close() error {
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

// PoolStats reports pgx pool occupancy.
func (s *Store) PoolStats() (database.PoolStats, bool) {
	pool, ok := s.db.(*pgxpool.Pool)
	if !ok {
		return database.PoolStats{}, false
	}
	return database.PgxPoolStats(pool), true
}

// GetApprovedComments returns approved comments with approved replies.
func (s *Store) GetApprovedComments(ctx context.Context, productID string) (_ []domain.PublicComment, err error) {
	query := `
		SELECT id, product_id, rating, author, text, status, created_at
		FROM comments
		WHERE product_id = $1 AND status = 'approved'
		ORDER BY created_at DESC, id DESC`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetApprovedComments", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("query approved comments: %w", err)
	}
	defer rows.Close()

	comments := []domain.PublicComment{}
	index := make(map[string]int)
	ids := []string{}
	for rows.Next() {
		var c domain.PublicComment
		if err := rows.Scan(&c.ID, &c.ProductID, &c.Rating, &c.Author, &c.Text, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Replies = []domain.PublicReply{}
		index[c.ID] = len(comments)
		ids = append(ids, c.ID)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	if len(comments) == 0 {
		return comments, nil
	}

	replyQuery := `
		SELECT id, comment_id, author, text, is_admin, admin_display_name, responded_at, created_at
		FROM comment_replies
		WHERE comment_id = ANY($1) AND status = 'approved'
		ORDER BY created_at ASC, id ASC`

	replyRows, err := s.db.Query(ctx, replyQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("query approved replies: %w", err)
	}
	defer replyRows.Close()

	for replyRows.Next() {
		var (
			r         domain.PublicReply
			commentID string
			adminName *string
		)
		if err := replyRows.Scan(&r.ID, &commentID, &r.Author, &r.Text, &r.IsAdmin, &adminName, &r.RespondedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		if adminName != nil {
			r.AdminDisplayName = *adminName
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
		SELECT EXISTS(
			SELECT 1 FROM comments
			WHERE product_id = $1 AND lower(email) = lower($2) AND text = $3
		)`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "HasDuplicateComment", query)
	defer func() { end(err) }()

	var exists bool
	if err = s.db.QueryRow(ctx, query, productID, email, text).Scan(&exists); err != nil {
		return false, fmt.Errorf("check duplicate comment: %w", err)
	}
	return exists, nil
}

// CreateComment inserts a new comment.
func (s *Store) CreateComment(ctx context.Context, c *domain.Comment) (err error) {
	query := `
		INSERT INTO comments (id, product_id, rating, author, email, text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "CreateComment", query)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, query,
		c.ID, c.ProductID, c.Rating, c.Author, c.Email, c.Text, string(c.Status), c.CreatedAt,
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "CreateReply", query)
	defer func() { end(err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, r.CommentID).Scan(&exists); err != nil {
		return fmt.Errorf("check parent comment: %w", err)
	}
	if !exists {
		return apperrors.NotFound("comment", r.CommentID)
	}

	_, err = tx.Exec(ctx, query,
		r.ID, r.CommentID, r.Author, r.Text, r.IsAdmin, nullable(r.AdminID), nullable(r.AdminDisplayName),
		r.RespondedAt, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	if err = insertAudit(ctx, tx, audit); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateCommentStatus sets a comment's status and records the audit entry.
func (s *Store) UpdateCommentStatus(ctx context.Context, id string, status domain.Status, m domain.Moderator, audit *domain.AuditLogEntry) (_ *domain.Comment, err error) {
	query := `
		UPDATE comments
		SET status = $1, moderated_at = $2, moderated_by_id = $3, moderated_by_display_name = $4
		WHERE id = $5
		RETURNING id, product_id, rating, author, email, text, status, created_at, moderated_at, moderated_by_id, moderated_by_display_name`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "UpdateCommentStatus", query)
	defer func() { end(err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := scanComment(tx.QueryRow(ctx, query, string(status), time.Now().UTC(), m.ID, m.DisplayName, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update comment status: %w", err)
	}
	if err = insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return c, nil
}

// DeleteComment deletes a comment; replies cascade.
func (s *Store) DeleteComment(ctx context.Context, id string, audit *domain.AuditLogEntry) (_ bool, err error) {
	query := `DELETE FROM comments WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DeleteComment", query)
	defer func() { end(err) }()

	return s.deleteAudited(ctx, audit, query, id)
}

// DeleteReply deletes a single reply belonging to commentID.
func (s *Store) DeleteReply(ctx context.Context, commentID, replyID string, audit *domain.AuditLogEntry) (_ bool, err error) {
	query := `DELETE FROM comment_replies WHERE id = $1 AND comment_id = $2`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DeleteReply", query)
	defer func() { end(err) }()

	return s.deleteAudited(ctx, audit, query, replyID, commentID)
}

func (s *Store) deleteAudited(ctx context.Context, audit *domain.AuditLogEntry, query string, args ...any) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// ListAuditLogs returns audit entries newest first.
func (s *Store) ListAuditLogs(ctx context.Context, limit, offset int) (_ []domain.AuditLogEntry, err error) {
	query := `
		SELECT id, action, comment_id, reply_id, admin_id, admin_display_name, token_id, token_source, metadata, created_at
		FROM comment_audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "ListAuditLogs", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditLogEntry{}
	for rows.Next() {
		var (
			e                  domain.AuditLogEntry
			commentID, replyID *string
			metadata           []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &commentID, &replyID, &e.AdminID, &e.AdminDisplayName,
			&e.TokenID, &e.TokenSource, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if commentID != nil {
			e.CommentID = *commentID
		}
		if replyID != nil {
			e.ReplyID = *replyID
		}
		e.Metadata = map[string]any{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}

const insertAuditQuery = `
	INSERT INTO comment_audit_logs (id, action, comment_id, reply_id, admin_id, admin_display_name, token_id, token_source, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, db execer, e *domain.AuditLogEntry) error {
	metadata := []byte("{}")
	if e.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}
	_, err := db.Exec(ctx, insertAuditQuery,
		e.ID, string(e.Action), nullable(e.CommentID), nullable(e.ReplyID), e.AdminID, e.AdminDisplayName,
		e.TokenID, e.TokenSource, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func scanComment(row pgx.Row) (*domain.Comment, error) {
	var (
		c                   domain.Comment
		moderatorID, byName *string
	)
	err := row.Scan(&c.ID, &c.ProductID, &c.Rating, &c.Author, &c.Email, &c.Text, &c.Status,
		&c.CreatedAt, &c.ModeratedAt, &moderatorID, &byName)
	if err != nil {
		return nil, err
	}
	if moderatorID != nil {
		c.ModeratedByID = *moderatorID
	}
	if byName != nil {
		c.ModeratedByDisplayName = *byName
	}
	return &c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
