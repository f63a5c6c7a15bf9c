package repository

import (
	"context"
	"sync/atomic"

	"github.com/machinery-site/comments/pkg/database"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

// fakeStore satisfies Store; only lifecycle methods are exercised here.
type fakeStore struct {
	migrateErr error
	closed     atomic.Bool
	stats      *database.PoolStats
}

func (f *fakeStore) Name() string                  { return "fake" }
func (f *fakeStore) Migrate(context.Context) error { return f.migrateErr }
func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Close() error {
	f.closed.Store(true)
	return nil
}
func (f *fakeStore) PoolStats() (database.PoolStats, bool) {
	if f.stats == nil {
		return database.PoolStats{}, false
	}
	return *f.stats, true
}
func (f *fakeStore) GetApprovedComments(context.Context, string) ([]domain.PublicComment, error) {
	return nil, nil
}
func (f *fakeStore) HasDuplicateComment(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) CreateComment(context.Context, *domain.Comment) error { return nil }
func (f *fakeStore) CreateReply(context.Context, *domain.Reply, *domain.AuditLogEntry) error {
	return nil
}
func (f *fakeStore) UpdateCommentStatus(context.Context, string, domain.Status, domain.Moderator, *domain.AuditLogEntry) (*domain.Comment, error) {
	return nil, nil
}
func (f *fakeStore) DeleteComment(context.Context, string, *domain.AuditLogEntry) (bool, error) {
	return false, nil
}
func (f *fakeStore) DeleteReply(context.Context, string, string, *domain.AuditLogEntry) (bool, error) {
	return false, nil
}
