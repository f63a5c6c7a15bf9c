package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names a state-changing moderation action.
type AuditAction string

const (
	AuditUpdateStatus  AuditAction = "update-status"
	AuditDeleteComment AuditAction = "delete-comment"
	AuditReplyComment  AuditAction = "reply-comment"
	AuditDeleteReply   AuditAction = "delete-reply"
)

// Token sources recorded on audit entries.
const (
	TokenSourceStatic  = "static"
	TokenSourceSession = "session"
)

// Moderator is the authenticated identity behind a moderation request.
type Moderator struct {
	ID          string `json:"adminId"`
	DisplayName string `json:"displayName"`
	TokenID     string `json:"tokenId"`
	TokenSource string `json:"tokenSource"`
}

// AuditLogEntry is an append-only record of one moderation action.
type AuditLogEntry struct {
	ID               string         `json:"id"`
	Action           AuditAction    `json:"action"`
	CommentID        string         `json:"commentId,omitempty"`
	ReplyID          string         `json:"replyId,omitempty"`
	AdminID          string         `json:"adminId"`
	AdminDisplayName string         `json:"adminDisplayName"`
	TokenID          string         `json:"tokenId"`
	TokenSource      string         `json:"tokenSource"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// NewAuditEntry stamps an audit entry for an action taken by m.
func (m Moderator) NewAuditEntry(action AuditAction, commentID, replyID string, metadata map[string]any) *AuditLogEntry {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &AuditLogEntry{
		ID:               uuid.NewString(),
		Action:           action,
		CommentID:        commentID,
		ReplyID:          replyID,
		AdminID:          m.ID,
		AdminDisplayName: m.DisplayName,
		TokenID:          m.TokenID,
		TokenSource:      m.TokenSource,
		Metadata:         metadata,
		CreatedAt:        time.Now().UTC(),
	}
}
