package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/http/middlewares"
)

type InvitationService interface {
	IssueInvitation(ctx context.Context, actor engine.Actor, eventID, email string, ttl time.Duration) (engine.IssuedInvitation, error)
	RedeemInvitation(ctx context.Context, actor engine.Actor, raw string) (registration.Registration, error)
	RevokeInvitation(ctx context.Context, actor engine.Actor, raw string) error
	ListInvitations(ctx context.Context, actor engine.Actor, eventID string) ([]invitation.Token, error)
}

type InvitationHandler struct {
	svc InvitationService
}

func NewInvitationHandler(svc InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

type issueResponse struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	InvitedEmail string    `json:"invitedEmail"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// POST /events/:id/invitations
func (h *InvitationHandler) Issue(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}

	var req invitation.IssueRequest
	if !BindJSON(ctx, &req) {
		return
	}

	var ttl time.Duration
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	out, err := h.svc.IssueInvitation(cctx, actor, eventID, req.Email, ttl)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, issueResponse{
		ID:           out.Token.ID,
		Token:        out.Raw,
		InvitedEmail: out.Token.InvitedEmail,
		ExpiresAt:    out.Token.ExpiresAt,
	})
}

// GET /events/:id/invitations
func (h *InvitationHandler) List(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	items, err := h.svc.ListInvitations(cctx, actor, eventID)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// POST /invitations/redeem
func (h *InvitationHandler) Redeem(ctx *gin.Context) {
	actor, ok := middlewares.ActorFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing identity")
		return
	}

	var req invitation.TokenRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	reg, err := h.svc.RedeemInvitation(cctx, actor, strings.TrimSpace(req.Token))
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, reg)
}

// POST /invitations/revoke
func (h *InvitationHandler) Revoke(ctx *gin.Context) {
	actor, ok := middlewares.ActorFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing identity")
		return
	}

	var req invitation.TokenRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.RevokeInvitation(cctx, actor, strings.TrimSpace(req.Token)); err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
