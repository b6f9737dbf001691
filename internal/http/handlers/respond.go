package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/http/middlewares"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if s := ctx.GetString(middlewares.CtxRequestID); s != "" {
		return s
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusUnauthorized, "unauthorized", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

type errorMapping struct {
	status  int
	message string
}

var engineErrors = map[string]errorMapping{
	"event_not_found":             {http.StatusNotFound, "Event not found"},
	"registration_not_found":      {http.StatusNotFound, "Registration not found"},
	"invitation_not_found":        {http.StatusNotFound, "Invitation not found"},
	"forbidden":                   {http.StatusForbidden, "You are not allowed to perform this action"},
	"not_invited":                 {http.StatusForbidden, "This event requires an invitation"},
	"email_mismatch":              {http.StatusForbidden, "This invitation was issued to a different email"},
	"invitation_expired":          {http.StatusGone, "Invitation has expired"},
	"invitation_revoked":          {http.StatusGone, "Invitation has been revoked"},
	"invitation_already_redeemed": {http.StatusConflict, "Invitation has already been redeemed"},
	"invitation_invalid_state":    {http.StatusConflict, "Invitation cannot be changed in its current state"},
	"capacity_exhausted":          {http.StatusConflict, "Event is full"},
	"event_closed":                {http.StatusConflict, "Event is not accepting registrations"},
	"invalid_transition":          {http.StatusConflict, "Registration cannot change from its current status"},
	"invalid_event":               {http.StatusUnprocessableEntity, "Invitations can only be issued for private events"},
	"conflict":                    {http.StatusServiceUnavailable, "The event is busy, please retry"},
	"timeout":                     {http.StatusServiceUnavailable, "The request timed out, please retry"},
}

// RespondEngineError maps an engine error onto the API envelope. Unknown
// errors are logged and answered with a generic 500.
func RespondEngineError(ctx *gin.Context, err error) {
	code := engine.Code(err)

	m, ok := engineErrors[code]
	if !ok {
		slog.Default().ErrorContext(ctx.Request.Context(), "request failed",
			"route", ctx.FullPath(), "request_id", requestIDFrom(ctx), "err", err)
		RespondInternal(ctx, "Something went wrong")
		return
	}

	if m.status == http.StatusServiceUnavailable {
		ctx.Header("Retry-After", "1")
	}
	RespondError(ctx, m.status, code, m.message, nil)
}
