package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
	"github.com/geocoder89/eventhub-registrations/internal/http/middlewares"
	"github.com/geocoder89/eventhub-registrations/internal/utils"
)

type InboxRepo interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]inbox.Item, error)
	MarkRead(ctx context.Context, userID, id string, now time.Time) error
}

type InboxHandler struct {
	repo InboxRepo
	now  func() time.Time
}

func NewInboxHandler(repo InboxRepo) *InboxHandler {
	return &InboxHandler{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// GET /me/notifications?limit=20
func (h *InboxHandler) List(ctx *gin.Context) {
	actor, ok := middlewares.ActorFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing identity")
		return
	}

	limit, ok := parseIntDefault(ctx.Query("limit"), inbox.DefaultListLimit)
	if !ok || limit < 1 || limit > inbox.MaxListLimit {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	items, err := h.repo.ListForUser(cctx, actor.UserID, limit)
	if err != nil {
		RespondInternal(ctx, "Could not load notifications")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// POST /me/notifications/:id/read
func (h *InboxHandler) MarkRead(ctx *gin.Context) {
	actor, ok := middlewares.ActorFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing identity")
		return
	}

	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "notification id must be a valid UUID", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.MarkRead(cctx, actor.UserID, id, h.now()); err != nil {
		if errors.Is(err, inbox.ErrNotFound) {
			RespondNotFound(ctx, "Notification not found")
			return
		}
		RespondInternal(ctx, "Could not update notification")
		return
	}

	ctx.Status(http.StatusNoContent)
}
