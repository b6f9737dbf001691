package http

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/eventhub-registrations/internal/http/handlers"
	"github.com/geocoder89/eventhub-registrations/internal/http/middlewares"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// Service is the engine surface the API exposes.
type Service interface {
	handlers.RegistrationService
	handlers.InvitationService
}

type Deps struct {
	Log      *slog.Logger
	Prom     *observability.Prom
	Service  Service
	Jobs     handlers.AdminJobsRepo
	Inbox    handlers.InboxRepo
	Verifier middlewares.TokenVerifier

	// Ping backs /readyz; nil means always ready.
	Ping    func(ctx context.Context) error
	Metrics nethttp.Handler

	Env         string
	ServiceName string
	CORSOrigins []string
	// RedeemLimit caps redemption attempts per user per minute.
	RedeemLimit  int
	MaxBodyBytes int64
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.ServiceName == "" {
		d.ServiceName = "eventhub-registrations"
	}
	if d.RedeemLimit <= 0 {
		d.RedeemLimit = 10
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(d.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))

	health := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	authMW := middlewares.NewAuthMiddleware(d.Verifier)
	redeemLimiter := middlewares.NewRateLimiter(d.RedeemLimit, time.Minute)

	regs := handlers.NewRegistrationHandler(d.Service)
	invites := handlers.NewInvitationHandler(d.Service)

	api := r.Group("/",
		middlewares.MaxBodyBytes(d.MaxBodyBytes),
		middlewares.RequireJSON(),
		authMW.RequireAuth(),
	)

	api.POST("/events/:id/registrations", regs.Register)
	api.GET("/events/:id/registrations", regs.List)
	api.GET("/events/:id/registrations/me", regs.Me)
	api.DELETE("/events/:id/registrations/:userId", regs.Cancel)
	api.POST("/events/:id/registrations/:userId/approve", regs.Approve)

	api.POST("/events/:id/invitations", invites.Issue)
	api.GET("/events/:id/invitations", invites.List)
	api.POST("/invitations/redeem",
		redeemLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP),
		invites.Redeem,
	)
	api.POST("/invitations/revoke", invites.Revoke)

	if d.Inbox != nil {
		notices := handlers.NewInboxHandler(d.Inbox)
		api.GET("/me/notifications", notices.List)
		api.POST("/me/notifications/:id/read", notices.MarkRead)
	}

	if d.Jobs != nil {
		jobs := handlers.NewAdminJobsHandler(d.Jobs)
		admin := api.Group("/admin", authMW.RequireRole("admin"))
		admin.GET("/jobs", jobs.List)
		admin.GET("/jobs/:id", jobs.GetByID)
		admin.POST("/jobs/:id/requeue", jobs.Requeue)
		admin.POST("/jobs/requeue-failed", jobs.RequeueFailed)
	}

	return r
}
