package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/services/comments/internal/domain"
	"github.com/machinery-site/comments/services/comments/internal/event"
	"github.com/machinery-site/comments/services/comments/internal/guard"
	"github.com/machinery-site/comments/services/comments/internal/ratelimit"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

const rateLimitedMessage = "Too many comments submitted. Please try again later."

// StoreProvider hands out the ready Store. *repository.Manager implements it.
type StoreProvider interface {
	Store(ctx context.Context) (repository.Store, error)
}

// RateLimiter counts submissions per client. *ratelimit.Limiter implements it.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (ratelimit.Result, error)
}

// CaptchaChecker applies the CAPTCHA policy. *captcha.Policy implements it.
type CaptchaChecker interface {
	Check(ctx context.Context, token, remoteIP string) error
}

// CommentService implements public submission and the moderation workflow.
type CommentService struct {
	stores   StoreProvider
	limiter  RateLimiter
	captcha  CaptchaChecker
	producer *event.Producer
	logger   *slog.Logger
}

// NewCommentService creates a new comment service.
func NewCommentService(
	stores StoreProvider,
	limiter RateLimiter,
	captcha CaptchaChecker,
	producer *event.Producer,
	logger *slog.Logger,
) *CommentService {
	return &CommentService{
		stores:   stores,
		limiter:  limiter,
		captcha:  captcha,
		producer: producer,
		logger:   logger,
	}
}

// --- Public operations ---

// List returns the approved comments of a product with their approved replies.
func (s *CommentService) List(ctx context.Context, productID string) ([]domain.PublicComment, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apperrors.InvalidInput("productId is required")
	}

	store, err := s.stores.Store(ctx)
	if err != nil {
		return nil, err
	}

	comments, err := store.GetApprovedComments(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list comments for product %s: %w", productID, err)
	}
	if comments == nil {
		comments = []domain.PublicComment{}
	}
	return comments, nil
}

// Submit runs a public submission through validation, CAPTCHA, spam and
// rate-limit checks, rejects duplicates and stores the comment as pending.
// clientIP identifies the submitter for rate limiting and CAPTCHA.
func (s *CommentService) Submit(ctx context.Context, sub guard.Submission, clientIP string) (*domain.PublicComment, error) {
	pub, outcome, err := s.submit(ctx, sub, clientIP)
	submissionsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		if outcome != outcomeError {
			s.logger.InfoContext(ctx, "comment submission rejected",
				slog.String("outcome", outcome),
				slog.String("product_id", strings.TrimSpace(sub.ProductID)),
			)
		}
		return nil, err
	}
	return pub, nil
}

func (s *CommentService) submit(ctx context.Context, sub guard.Submission, clientIP string) (*domain.PublicComment, string, error) {
	input, err := guard.Validate(sub)
	if err != nil {
		return nil, outcomeInvalid, err
	}

	if err := s.captcha.Check(ctx, strings.TrimSpace(sub.CaptchaToken), clientIP); err != nil {
		if errors.Is(err, apperrors.ErrServiceUnavail) {
			return nil, outcomeUnavailable, err
		}
		return nil, outcomeCaptcha, err
	}

	if err := guard.CheckSpam(input.Text); err != nil {
		return nil, outcomeSpam, err
	}

	res, err := s.limiter.Allow(ctx, clientIP)
	if err != nil {
		return nil, outcomeError, fmt.Errorf("check rate limit: %w", err)
	}
	if res.Limited {
		return nil, outcomeRateLimited, apperrors.RateLimited(rateLimitedMessage, res.RetryAfterSeconds)
	}

	store, err := s.stores.Store(ctx)
	if err != nil {
		return nil, outcomeUnavailable, err
	}

	dup, err := store.HasDuplicateComment(ctx, input.ProductID, input.Email, input.Text)
	if err != nil {
		return nil, outcomeError, fmt.Errorf("check duplicate comment: %w", err)
	}
	if dup {
		return nil, outcomeDuplicate, repository.DuplicateComment()
	}

	comment := domain.NewComment(*input)
	if err := store.CreateComment(ctx, comment); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, outcomeDuplicate, err
		}
		return nil, outcomeError, fmt.Errorf("create comment: %w", err)
	}

	s.logger.InfoContext(ctx, "comment submitted",
		slog.String("comment_id", comment.ID),
		slog.String("product_id", comment.ProductID),
	)
	if err := s.producer.PublishCommentSubmitted(ctx, comment); err != nil {
		s.logEventFailure(ctx, comment.ID, err)
	}

	pub := comment.Public()
	return &pub, outcomeAccepted, nil
}

// --- Moderation operations ---

// UpdateStatus moves a comment to the given status on behalf of m.
func (s *CommentService) UpdateStatus(ctx context.Context, id, rawStatus string, m domain.Moderator) (*domain.Comment, error) {
	status, ok := domain.ParseStatus(strings.TrimSpace(rawStatus))
	if !ok {
		return nil, apperrors.BadRequest("INVALID_STATUS", "Status must be one of: pending, approved, rejected")
	}

	store, err := s.stores.Store(ctx)
	if err != nil {
		return nil, err
	}

	audit := m.NewAuditEntry(domain.AuditUpdateStatus, id, "", map[string]any{"status": string(status)})
	comment, err := store.UpdateCommentStatus(ctx, id, status, m, audit)
	if err != nil {
		return nil, fmt.Errorf("update comment %s status: %w", id, err)
	}
	if comment == nil {
		return nil, apperrors.NotFound("comment", id)
	}

	s.recordModeration(ctx, domain.AuditUpdateStatus, id, m)
	if err := s.producer.PublishCommentModerated(ctx, comment, m); err != nil {
		s.logEventFailure(ctx, id, err)
	}
	return comment, nil
}

// DeleteComment removes a comment and its replies on behalf of m.
func (s *CommentService) DeleteComment(ctx context.Context, id string, m domain.Moderator) error {
	store, err := s.stores.Store(ctx)
	if err != nil {
		return err
	}

	audit := m.NewAuditEntry(domain.AuditDeleteComment, id, "", nil)
	deleted, err := store.DeleteComment(ctx, id, audit)
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	if !deleted {
		return apperrors.NotFound("comment", id)
	}

	s.recordModeration(ctx, domain.AuditDeleteComment, id, m)
	if err := s.producer.PublishCommentDeleted(ctx, id, m); err != nil {
		s.logEventFailure(ctx, id, err)
	}
	return nil
}

// CreateReply attaches an approved moderator reply to a comment.
func (s *CommentService) CreateReply(ctx context.Context, commentID string, sub guard.ReplySubmission, m domain.Moderator) (*domain.Reply, error) {
	sub, err := guard.ValidateReply(sub)
	if err != nil {
		return nil, err
	}

	store, err := s.stores.Store(ctx)
	if err != nil {
		return nil, err
	}

	reply := domain.NewAdminReply(commentID, sub.Author, sub.Text, m)
	audit := m.NewAuditEntry(domain.AuditReplyComment, commentID, reply.ID, map[string]any{"author": reply.Author})
	if err := store.CreateReply(ctx, reply, audit); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("create reply for comment %s: %w", commentID, err)
	}

	s.recordModeration(ctx, domain.AuditReplyComment, commentID, m)
	if err := s.producer.PublishReplyCreated(ctx, reply, m); err != nil {
		s.logEventFailure(ctx, commentID, err)
	}
	return reply, nil
}

// DeleteReply removes one reply of a comment on behalf of m.
func (s *CommentService) DeleteReply(ctx context.Context, commentID, replyID string, m domain.Moderator) error {
	store, err := s.stores.Store(ctx)
	if err != nil {
		return err
	}

	audit := m.NewAuditEntry(domain.AuditDeleteReply, commentID, replyID, nil)
	deleted, err := store.DeleteReply(ctx, commentID, replyID, audit)
	if err != nil {
		return fmt.Errorf("delete reply %s: %w", replyID, err)
	}
	if !deleted {
		return apperrors.NotFound("reply", replyID)
	}

	s.recordModeration(ctx, domain.AuditDeleteReply, commentID, m)
	if err := s.producer.PublishReplyDeleted(ctx, commentID, replyID, m); err != nil {
		s.logEventFailure(ctx, commentID, err)
	}
	return nil
}

// ListAudits returns audit entries newest first.
func (s *CommentService) ListAudits(ctx context.Context, limit, offset int) ([]domain.AuditLogEntry, error) {
	store, err := s.stores.Store(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := store.ListAuditLogs(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	return entries, nil
}

func (s *CommentService) recordModeration(ctx context.Context, action domain.AuditAction, commentID string, m domain.Moderator) {
	moderationActionsTotal.WithLabelValues(string(action), m.TokenSource).Inc()
	s.logger.InfoContext(ctx, "moderation action completed",
		slog.String("action", string(action)),
		slog.String("comment_id", commentID),
		slog.String("moderator_id", m.ID),
		slog.String("token_source", m.TokenSource),
	)
}

func (s *CommentService) logEventFailure(ctx context.Context, commentID string, err error) {
	s.logger.WarnContext(ctx, "failed to publish comment event",
		slog.String("comment_id", commentID),
		slog.String("error", err.Error()),
	)
}
