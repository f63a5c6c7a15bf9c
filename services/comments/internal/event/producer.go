package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/machinery-site/comments/pkg/kafka"
	"github.com/machinery-site/comments/pkg/logger"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

// Kafka topics for comment domain events.
var (
	TopicCommentSubmitted = kafka.Topic("comment", "submitted")
	TopicCommentModerated = kafka.Topic("comment", "moderated")
	TopicCommentDeleted   = kafka.Topic("comment", "deleted")
	TopicReplyCreated     = kafka.Topic("comment", "reply_created")
	TopicReplyDeleted     = kafka.Topic("comment", "reply_deleted")
)

const (
	AggregateTypeComment = "comment"
	SourceCommentService = "comments-service"
)

// CommentSubmittedData is the payload of a comment.submitted event. The
// submitter's email is not published.
type CommentSubmittedData struct {
	ID        string        `json:"id"`
	ProductID string        `json:"productId"`
	Rating    int           `json:"rating"`
	Author    string        `json:"author"`
	Status    domain.Status `json:"status"`
}

// CommentModeratedData is the payload of a comment.moderated event.
type CommentModeratedData struct {
	ID          string        `json:"id"`
	ProductID   string        `json:"productId"`
	Status      domain.Status `json:"status"`
	ModeratorID string        `json:"moderatorId"`
}

// CommentDeletedData is the payload of a comment.deleted event.
type CommentDeletedData struct {
	ID          string `json:"id"`
	ModeratorID string `json:"moderatorId"`
}

// ReplyData is the payload of reply_created and reply_deleted events.
type ReplyData struct {
	ID          string `json:"id"`
	CommentID   string `json:"commentId"`
	ModeratorID string `json:"moderatorId"`
}

// Publisher writes an event to a topic. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// Producer publishes comment domain events. A Producer without a Publisher
// drops every event.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a producer. Pass a nil publisher when no brokers are configured.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// Enabled reports whether events reach a broker.
func (p *Producer) Enabled() bool {
	return p.publisher != nil
}

// PublishCommentSubmitted publishes a comment.submitted event.
func (p *Producer) PublishCommentSubmitted(ctx context.Context, c *domain.Comment) error {
	return p.publish(ctx, TopicCommentSubmitted, c.ID, CommentSubmittedData{
		ID:        c.ID,
		ProductID: c.ProductID,
		Rating:    c.Rating,
		Author:    c.Author,
		Status:    c.Status,
	}, nil)
}

// PublishCommentModerated publishes a comment.moderated event.
func (p *Producer) PublishCommentModerated(ctx context.Context, c *domain.Comment, m domain.Moderator) error {
	return p.publish(ctx, TopicCommentModerated, c.ID, CommentModeratedData{
		ID:          c.ID,
		ProductID:   c.ProductID,
		Status:      c.Status,
		ModeratorID: m.ID,
	}, &m)
}

// PublishCommentDeleted publishes a comment.deleted event.
func (p *Producer) PublishCommentDeleted(ctx context.Context, commentID string, m domain.Moderator) error {
	return p.publish(ctx, TopicCommentDeleted, commentID, CommentDeletedData{
		ID:          commentID,
		ModeratorID: m.ID,
	}, &m)
}

// PublishReplyCreated publishes a comment.reply_created event.
func (p *Producer) PublishReplyCreated(ctx context.Context, r *domain.Reply, m domain.Moderator) error {
	return p.publish(ctx, TopicReplyCreated, r.CommentID, ReplyData{
		ID:          r.ID,
		CommentID:   r.CommentID,
		ModeratorID: m.ID,
	}, &m)
}

// PublishReplyDeleted publishes a comment.reply_deleted event.
func (p *Producer) PublishReplyDeleted(ctx context.Context, commentID, replyID string, m domain.Moderator) error {
	return p.publish(ctx, TopicReplyDeleted, commentID, ReplyData{
		ID:          replyID,
		CommentID:   commentID,
		ModeratorID: m.ID,
	}, &m)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any, m *domain.Moderator) error {
	if p.publisher == nil {
		return nil
	}

	event, err := kafka.NewEvent(topic, aggregateID, AggregateTypeComment, SourceCommentService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if m != nil {
		event.WithMetadata("tokenSource", m.TokenSource)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published comment event",
		slog.String("topic", topic),
		slog.String("comment_id", aggregateID),
	)
	return nil
}
