package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/auth"
	"github.com/geocoder89/eventhub-registrations/internal/db"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	apphttp "github.com/geocoder89/eventhub-registrations/internal/http"
	"github.com/geocoder89/eventhub-registrations/internal/repo/postgres"
	"github.com/geocoder89/eventhub-registrations/internal/security"
)

type apiErrorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func setupTestRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn, 10)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// logger that discards output during tests
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := postgres.NewStore(pool, nil, job.DefaultDedupPolicy())
	tokens, err := security.NewInviteTokens("test-invite-secret")
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(store, tokens, engine.Config{InviteBaseURL: "https://eventhub.test"}, engine.WithLogger(logger))
	jwtm := auth.NewManager("test-secret-key", time.Hour)

	router := apphttp.NewRouter(apphttp.Deps{
		Log:      logger,
		Service:  eng,
		Jobs:     store.Jobs,
		Verifier: jwtm,
		Ping:     store.Ping,
		Env:      "test",
	})

	return router, pool, jwtm
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
	TRUNCATE user_notifications, notification_deliveries, notification_jobs, invitation_tokens,
	         registrations, event_seats, events CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func seedEvent(t *testing.T, pool *pgxpool.Pool, capacity int, visibility string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
	INSERT INTO events (id, organizer_id, title, capacity, visibility, starts_at)
	VALUES ($1, 'org-1', 'Integration Event', $2, $3, NOW() + INTERVAL '2 days')
	`, id, capacity, visibility)
	if err != nil {
		t.Fatalf("failed to insert seed event: %v", err)
	}
	return id
}

func call(t *testing.T, router *gin.Engine, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func mustToken(t *testing.T, m *auth.Manager, userID, email, role string) string {
	t.Helper()
	tok, err := m.GenerateAccessToken(userID, email, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestRegisterIntegration_CapacityAndWaitlist(t *testing.T) {
	router, pool, jwtm := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	eventID := seedEvent(t, pool, 1, "public")

	w := call(t, router, http.MethodPost, "/events/"+eventID+"/registrations", mustToken(t, jwtm, "a", "a@x.com", "user"), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("[first] got status %d, body=%s", w.Code, w.Body.String())
	}

	w = call(t, router, http.MethodPost, "/events/"+eventID+"/registrations", mustToken(t, jwtm, "b", "b@x.com", "user"), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("[second] got status %d, body=%s", w.Code, w.Body.String())
	}

	var reg struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatal(err)
	}
	if reg.Status != "waitlisted" {
		t.Fatalf("second registration status = %q, want waitlisted", reg.Status)
	}

	var jobs int
	err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM notification_jobs WHERE payload->>'eventId' = $1`, eventID).Scan(&jobs)
	if err != nil {
		t.Fatal(err)
	}
	if jobs != 2 {
		t.Fatalf("expected 2 notification jobs, got %d", jobs)
	}
}

func TestRegisterIntegration_PrivateEventNeedsInvitation(t *testing.T) {
	router, pool, jwtm := setupTestRouter(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	eventID := seedEvent(t, pool, 10, "private")
	alice := mustToken(t, jwtm, "alice", "alice@x.com", "user")
	org := mustToken(t, jwtm, "org-1", "org@x.com", "user")

	w := call(t, router, http.MethodPost, "/events/"+eventID+"/registrations", alice, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403, body=%s", w.Code, w.Body.String())
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Error.Code != "not_invited" {
		t.Fatalf("unexpected code %q", apiErr.Error.Code)
	}

	w = call(t, router, http.MethodPost, "/events/"+eventID+"/invitations", org, `{"email":"alice@x.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue: got status %d, body=%s", w.Code, w.Body.String())
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}

	w = call(t, router, http.MethodPost, "/invitations/redeem", alice, `{"token":"`+issued.Token+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("redeem: got status %d, body=%s", w.Code, w.Body.String())
	}

	w = call(t, router, http.MethodGet, "/events/"+eventID+"/registrations/me", alice, "")
	if w.Code != http.StatusOK {
		t.Fatalf("me: got status %d, body=%s", w.Code, w.Body.String())
	}
}
