package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the moderation state shared by comments and replies.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ValidStatuses returns every moderation status in display order.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRejected}
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range ValidStatuses() {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// Comment is a rated visitor comment on a product page.
type Comment struct {
	ID                     string     `json:"id"`
	ProductID              string     `json:"productId"`
	Rating                 int        `json:"rating"`
	Author                 string     `json:"author"`
	Email                  string     `json:"email"`
	Text                   string     `json:"text"`
	Status                 Status     `json:"status"`
	CreatedAt              time.Time  `json:"createdAt"`
	ModeratedAt            *time.Time `json:"moderatedAt,omitempty"`
	ModeratedByID          string     `json:"moderatedById,omitempty"`
	ModeratedByDisplayName string     `json:"moderatedByDisplayName,omitempty"`
}

// CommentInput is a sanitized public submission.
type CommentInput struct {
	ProductID string
	Rating    int
	Author    string
	Email     string
	Text      string
}

// NewComment creates a pending comment from a sanitized submission.
func NewComment(in CommentInput) *Comment {
	return &Comment{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		Rating:    in.Rating,
		Author:    in.Author,
		Email:     in.Email,
		Text:      in.Text,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Public strips the email and moderation internals.
func (c *Comment) Public() PublicComment {
	return PublicComment{
		ID:        c.ID,
		ProductID: c.ProductID,
		Rating:    c.Rating,
		Author:    c.Author,
		Text:      c.Text,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		Replies:   []PublicReply{},
	}
}

// PublicComment is the shape returned to unauthenticated clients.
type PublicComment struct {
	ID        string        `json:"id"`
	ProductID string        `json:"productId"`
	Rating    int           `json:"rating"`
	Author    string        `json:"author"`
	Text      string        `json:"text"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	Replies   []PublicReply `json:"replies"`
}
