package middlewares

// gin context keys set by the middlewares in this package.
const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"
	CtxEventID   = "event_id"
	ctxActorKey  = "auth.actor"
)
