package handlers_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/http/handlers"
)

func TestRespondEngineError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{event.ErrNotFound, http.StatusNotFound, "event_not_found"},
		{registration.ErrNotFound, http.StatusNotFound, "registration_not_found"},
		{invitation.ErrNotFound, http.StatusNotFound, "invitation_not_found"},
		{registration.ErrForbidden, http.StatusForbidden, "forbidden"},
		{registration.ErrNotInvited, http.StatusForbidden, "not_invited"},
		{invitation.ErrEmailMismatch, http.StatusForbidden, "email_mismatch"},
		{invitation.ErrExpired, http.StatusGone, "invitation_expired"},
		{invitation.ErrRevoked, http.StatusGone, "invitation_revoked"},
		{invitation.ErrAlreadyRedeemed, http.StatusConflict, "invitation_already_redeemed"},
		{invitation.ErrInvalidState, http.StatusConflict, "invitation_invalid_state"},
		{registration.ErrCapacityExhausted, http.StatusConflict, "capacity_exhausted"},
		{registration.ErrEventClosed, http.StatusConflict, "event_closed"},
		{registration.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{invitation.ErrInvalidEvent, http.StatusUnprocessableEntity, "invalid_event"},
		{fmt.Errorf("%w: %w", engine.ErrConflict, capacity.ErrConflict), http.StatusServiceUnavailable, "conflict"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(ctx *gin.Context) { handlers.RespondEngineError(ctx, tc.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tc.status {
				t.Fatalf("got status %d, want %d", w.Code, tc.status)
			}

			resp := decodeBindError(t, w)
			if resp.Error.Code != tc.code {
				t.Fatalf("got code %q, want %q", resp.Error.Code, tc.code)
			}

			retry := w.Header().Get("Retry-After")
			if (tc.status == http.StatusServiceUnavailable) != (retry != "") {
				t.Fatalf("Retry-After = %q for status %d", retry, tc.status)
			}
		})
	}
}

func TestRespondEngineErrorDoesNotLeakInternals(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(ctx *gin.Context) {
		handlers.RespondEngineError(ctx, errors.New(`duplicate key value violates unique constraint "registrations_pkey"`))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if body := w.Body.String(); strings.Contains(body, "registrations_pkey") || strings.Contains(body, "duplicate key") {
		t.Fatalf("internal error leaked: %s", body)
	}
}
