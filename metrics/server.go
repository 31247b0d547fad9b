package metrics

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/cea-hpc/lhsm-coordinator/clog"
)

// StatusProvider supplies the JSON snapshots served by the admin surface.
// Implemented by package coordinator, which alone knows the live store
// and registry state.
type StatusProvider interface {
	StatusSnapshot() any
	WorkerSnapshot() any
}

// Server is the admin HTTP surface: Prometheus scrape endpoint, JSON
// status/debug dumps, and a bearer-token-gated abort trigger.
// github.com/valyala/fasthttp is used in place of net/http, matching the
// teacher's non-stdlib posture for network-facing components.
type Server struct {
	provider  StatusProvider
	jwtSecret []byte
	onAbort   func()

	metricsHandler fasthttp.RequestHandler
}

// NewServer wraps provider for serving. jwtSecret authenticates
// /admin/abort only; an empty secret disables that endpoint entirely
// (returns 404) rather than accepting unauthenticated admin requests.
func NewServer(provider StatusProvider, jwtSecret []byte, onAbort func()) *Server {
	return &Server{
		provider:       provider,
		jwtSecret:      jwtSecret,
		onAbort:        onAbort,
		metricsHandler: fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
}

// ListenAndServe blocks serving the admin surface on addr.
func (s *Server) ListenAndServe(addr string) error {
	return fasthttp.ListenAndServe(addr, s.handle)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/metrics":
		s.metricsHandler(ctx)
	case "/status":
		s.writeJSON(ctx, s.provider.StatusSnapshot())
	case "/debug/workers":
		s.writeJSON(ctx, s.provider.WorkerSnapshot())
	case "/admin/abort":
		s.handleAbort(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(buf)
}

func (s *Server) handleAbort(ctx *fasthttp.RequestCtx) {
	if len(s.jwtSecret) == 0 {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(ctx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		return
	}
	clog.Warnf("admin abort requested")
	if s.onAbort != nil {
		s.onAbort()
	}
	ctx.SetStatusCode(fasthttp.StatusAccepted)
}

func (s *Server) authorized(ctx *fasthttp.RequestCtx) bool {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	tokenStr := auth[len(prefix):]

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	return err == nil && token.Valid
}
