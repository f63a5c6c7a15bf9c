package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/httputil"
	"github.com/machinery-site/comments/pkg/middleware"
	"github.com/machinery-site/comments/pkg/pagination"
	"github.com/machinery-site/comments/services/comments/internal/auth"
	"github.com/machinery-site/comments/services/comments/internal/domain"
	"github.com/machinery-site/comments/services/comments/internal/guard"
	"github.com/machinery-site/comments/services/comments/internal/service"
)

// auditLimits bounds GET /api/comments/audit.
var auditLimits = pagination.Limits{Default: 100, Max: 500}

// CommentHandler handles the public and moderation comment endpoints.
type CommentHandler struct {
	service *service.CommentService
	logger  *slog.Logger
}

// NewCommentHandler creates a new comment HTTP handler.
func NewCommentHandler(svc *service.CommentService, logger *slog.Logger) *CommentHandler {
	return &CommentHandler{service: svc, logger: logger}
}

// --- Request / response DTOs ---

// UpdateStatusRequest is the JSON body of PATCH /api/comments/{id}.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// moderationResponse echoes who performed a moderation action.
type moderationResponse struct {
	domain.Moderator
	Action      domain.AuditAction `json:"action"`
	PerformedAt time.Time          `json:"performedAt"`
}

func newModeration(m domain.Moderator, action domain.AuditAction) moderationResponse {
	return moderationResponse{Moderator: m, Action: action, PerformedAt: time.Now().UTC()}
}

// --- Public handlers ---

// List handles GET /api/comments?productId=X
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.List(r.Context(), r.URL.Query().Get("productId"))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// Submit handles POST /api/comments
func (h *CommentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub guard.Submission
	if err := httputil.DecodeJSON(w, r, &sub); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	comment, err := h.service.Submit(r.Context(), sub, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

// --- Moderation handlers ---

// UpdateStatus handles PATCH /api/comments/{id}
func (h *CommentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.moderator(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	comment, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, m)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"comment":    comment,
		"moderation": newModeration(m, domain.AuditUpdateStatus),
	})
}

// Delete handles DELETE /api/comments/{id}
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	m, ok := h.moderator(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteComment(r.Context(), chi.URLParam(r, "id"), m); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"moderation": newModeration(m, domain.AuditDeleteComment),
	})
}

// CreateReply handles POST /api/comments/{id}/replies
func (h *CommentHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	m, ok := h.moderator(w, r)
	if !ok {
		return
	}

	var sub guard.ReplySubmission
	if err := httputil.DecodeJSON(w, r, &sub); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	reply, err := h.service.CreateReply(r.Context(), chi.URLParam(r, "id"), sub, m)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"reply":      reply,
		"moderation": newModeration(m, domain.AuditReplyComment),
	})
}

// DeleteReply handles DELETE /api/comments/{id}/replies/{replyId}
func (h *CommentHandler) DeleteReply(w http.ResponseWriter, r *http.Request) {
	m, ok := h.moderator(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteReply(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "replyId"), m)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"moderation": newModeration(m, domain.AuditDeleteReply),
	})
}

// ListAudits handles GET /api/comments/audit?limit=N&offset=M
func (h *CommentHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r, auditLimits)

	audits, err := h.service.ListAudits(r.Context(), page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"audits": audits,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (h *CommentHandler) moderator(w http.ResponseWriter, r *http.Request) (domain.Moderator, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, apperrors.Unauthorized("Unauthorized"), h.logger)
		return domain.Moderator{}, false
	}
	return auth.ModeratorFromClaims(claims), true
}
