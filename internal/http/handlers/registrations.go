package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/http/middlewares"
	"github.com/geocoder89/eventhub-registrations/internal/utils"
)

// requestTimeout bounds one engine call including its conflict retries.
const requestTimeout = 5 * time.Second

type RegistrationService interface {
	Register(ctx context.Context, actor engine.Actor, eventID string) (registration.Registration, error)
	Cancel(ctx context.Context, actor engine.Actor, eventID, userID string) (registration.Registration, error)
	Approve(ctx context.Context, actor engine.Actor, eventID, userID string) (registration.Registration, error)
	GetRegistration(ctx context.Context, actor engine.Actor, eventID, userID string) (registration.Registration, error)
	ListRegistrations(ctx context.Context, actor engine.Actor, eventID string, status registration.Status) ([]registration.Registration, error)
}

type RegistrationHandler struct {
	svc RegistrationService
}

func NewRegistrationHandler(svc RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{svc: svc}
}

// eventAndActor validates the :id param and pulls the caller's identity.
func eventAndActor(ctx *gin.Context) (string, engine.Actor, bool) {
	eventID := ctx.Param("id")
	if !utils.IsUUID(eventID) {
		RespondBadRequest(ctx, "event id must be a valid UUID", nil)
		return "", engine.Actor{}, false
	}
	ctx.Set(middlewares.CtxEventID, eventID)

	actor, ok := middlewares.ActorFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing identity")
		return "", engine.Actor{}, false
	}

	return eventID, actor, true
}

// targetUser resolves :userId, where "me" is the caller.
func targetUser(ctx *gin.Context, actor engine.Actor) (string, bool) {
	userID := ctx.Param("userId")
	if userID == "me" {
		return actor.UserID, true
	}
	if userID == "" || len(userID) > 128 {
		RespondBadRequest(ctx, "invalid user id", nil)
		return "", false
	}
	return userID, true
}

// POST /events/:id/registrations
func (h *RegistrationHandler) Register(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	reg, err := h.svc.Register(cctx, actor, eventID)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, reg)
}

func validRegistrationStatus(s string) bool {
	switch registration.Status(s) {
	case registration.StatusPending, registration.StatusConfirmed,
		registration.StatusWaitlisted, registration.StatusCancelled:
		return true
	}
	return false
}

// GET /events/:id/registrations?status=waitlisted
func (h *RegistrationHandler) List(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}

	status := ctx.Query("status")
	if status != "" && !validRegistrationStatus(status) {
		RespondBadRequest(ctx, "unknown registration status", gin.H{"status": status})
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	regs, err := h.svc.ListRegistrations(cctx, actor, eventID, registration.Status(status))
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"count": len(regs),
		"items": regs,
	})
}

// GET /events/:id/registrations/me
func (h *RegistrationHandler) Me(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	reg, err := h.svc.GetRegistration(cctx, actor, eventID, actor.UserID)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, reg)
}

// DELETE /events/:id/registrations/:userId
func (h *RegistrationHandler) Cancel(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}
	userID, ok := targetUser(ctx, actor)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	reg, err := h.svc.Cancel(cctx, actor, eventID, userID)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, reg)
}

// POST /events/:id/registrations/:userId/approve
func (h *RegistrationHandler) Approve(ctx *gin.Context) {
	eventID, actor, ok := eventAndActor(ctx)
	if !ok {
		return
	}
	userID, ok := targetUser(ctx, actor)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	reg, err := h.svc.Approve(cctx, actor, eventID, userID)
	if err != nil {
		RespondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, reg)
}
