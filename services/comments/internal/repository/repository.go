package repository

import (
	"context"
	"errors"

	"github.com/machinery-site/comments/pkg/database"
	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

var (
	// ErrNotConfigured is returned by an Opener whose backend lacks settings.
	ErrNotConfigured = errors.New("storage backend not configured")

	// ErrMigration marks failures raised while applying schema migrations.
	ErrMigration = errors.New("storage migration failed")
)

// DuplicateComment is the conflict for a comment whose product, email and
// text match an earlier submission.
func DuplicateComment() *apperrors.AppError {
	return apperrors.AlreadyExists("DUPLICATE_COMMENT", "This comment has already been submitted")
}

// Store is the storage contract shared by the embedded and networked backends.
type Store interface {
	// Name returns the backend name, e.g. "sqlite" or "postgres".
	Name() string

	// Migrate applies pending schema migrations. It is idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's connections.
	Close() error

	// PoolStats reports connection pool occupancy. Backends without a pool
	// return false.
	PoolStats() (database.PoolStats, bool)

	// GetApprovedComments returns approved comments for a product, newest
	// first, each carrying its approved replies oldest first.
	GetApprovedComments(ctx context.Context, productID string) ([]domain.PublicComment, error)

	// HasDuplicateComment reports whether the product already has a comment
	// with the same email (case-insensitive) and text.
	HasDuplicateComment(ctx context.Context, productID, email, text string) (bool, error)

	// CreateComment persists a new comment. A unique constraint violation is
	// returned as an ALREADY_EXISTS AppError.
	CreateComment(ctx context.Context, c *domain.Comment) error

	// CreateReply checks the parent exists, inserts the reply and writes the
	// audit entry in one transaction. A missing parent yields a NOT_FOUND AppError.
	CreateReply(ctx context.Context, r *domain.Reply, audit *domain.AuditLogEntry) error

	// UpdateCommentStatus sets the status and moderation metadata and writes
	// the audit entry in one transaction. It returns nil, nil when no comment
	// matched.
	UpdateCommentStatus(ctx context.Context, id string, status domain.Status, m domain.Moderator, audit *domain.AuditLogEntry) (*domain.Comment, error)

	// DeleteComment removes a comment and its replies. The audit entry is
	// written only when a row was removed.
	DeleteComment(ctx context.Context, id string, audit *domain.AuditLogEntry) (bool, error)

	// DeleteReply removes one reply of a comment. The audit entry is written
	// only when a row was removed.
	DeleteReply(ctx context.Context, commentID, replyID string, audit *domain.AuditLogEntry) (bool, error)

	// ListAuditLogs returns audit entries newest first.
	ListAuditLogs(ctx context.Context, limit, offset int) ([]domain.AuditLogEntry, error)
}

// Opener connects to a backend. The Manager calls it lazily and at most once
// per successful initialization.
type Opener func(ctx context.Context) (Store, error)
