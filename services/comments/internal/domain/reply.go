package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reply is a moderator response attached to a comment.
type Reply struct {
	ID               string    `json:"id"`
	CommentID        string    `json:"commentId"`
	Author           string    `json:"author"`
	Text             string    `json:"text"`
	IsAdmin          bool      `json:"isAdmin"`
	AdminID          string    `json:"adminId,omitempty"`
	AdminDisplayName string    `json:"adminDisplayName,omitempty"`
	RespondedAt      time.Time `json:"respondedAt"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NewAdminReply creates an approved reply authored by a moderator. The
// author defaults to the moderator's display name.
func NewAdminReply(commentID, author, text string, m Moderator) *Reply {
	if author == "" {
		author = m.DisplayName
	}
	now := time.Now().UTC()
	return &Reply{
		ID:               uuid.NewString(),
		CommentID:        commentID,
		Author:           author,
		Text:             text,
		IsAdmin:          true,
		AdminID:          m.ID,
		AdminDisplayName: m.DisplayName,
		RespondedAt:      now,
		Status:           StatusApproved,
		CreatedAt:        now,
	}
}

// Public returns the public projection of the reply.
func (r *Reply) Public() PublicReply {
	return PublicReply{
		ID:               r.ID,
		Author:           r.Author,
		Text:             r.Text,
		IsAdmin:          r.IsAdmin,
		AdminDisplayName: r.AdminDisplayName,
		RespondedAt:      r.RespondedAt,
		CreatedAt:        r.CreatedAt,
	}
}

// PublicReply is a reply as shown under an approved comment.
type PublicReply struct {
	ID               string    `json:"id"`
	Author           string    `json:"author"`
	Text             string    `json:"text"`
	IsAdmin          bool      `json:"isAdmin"`
	AdminDisplayName string    `json:"adminDisplayName,omitempty"`
	RespondedAt      time.Time `json:"respondedAt"`
	CreatedAt        time.Time `json:"createdAt"`
}
