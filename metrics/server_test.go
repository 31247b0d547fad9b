package metrics

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
)

type fakeProvider struct{}

func (fakeProvider) StatusSnapshot() any { return map[string]int{"pending_archive": 1} }
func (fakeProvider) WorkerSnapshot() any { return []string{"w1", "w2"} }

// callHandler drives Server.handle directly against a constructed
// RequestCtx, the documented way to unit test a fasthttp.RequestHandler
// without opening a real listener.
func callHandler(s *Server, method, path, bearer string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI(path)
	req.Header.SetMethod(method)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.handle(&ctx)
	return &ctx
}

func TestStatusEndpointReturnsJSON(t *testing.T) {
	srv := NewServer(fakeProvider{}, nil, nil)
	ctx := callHandler(srv, fasthttp.MethodGet, "/status", "")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status code = %d", ctx.Response.StatusCode())
	}
	if len(ctx.Response.Body()) == 0 {
		t.Fatalf("expected non-empty body")
	}
}

func TestWorkerSnapshotEndpoint(t *testing.T) {
	srv := NewServer(fakeProvider{}, nil, nil)
	ctx := callHandler(srv, fasthttp.MethodGet, "/debug/workers", "")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status code = %d", ctx.Response.StatusCode())
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := NewServer(fakeProvider{}, nil, nil)
	ctx := callHandler(srv, fasthttp.MethodGet, "/nope", "")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status code = %d", ctx.Response.StatusCode())
	}
}

func TestAbortDisabledWithoutSecret(t *testing.T) {
	srv := NewServer(fakeProvider{}, nil, func() {})
	ctx := callHandler(srv, fasthttp.MethodPost, "/admin/abort", "whatever")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status code = %d, want 404 when no jwt secret is configured", ctx.Response.StatusCode())
	}
}

func TestAbortRejectsWrongMethod(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(fakeProvider{}, secret, func() {})
	ctx := callHandler(srv, fasthttp.MethodGet, "/admin/abort", "")
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("status code = %d", ctx.Response.StatusCode())
	}
}

func TestAbortRejectsMissingOrBadToken(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(fakeProvider{}, secret, func() {})

	ctx := callHandler(srv, fasthttp.MethodPost, "/admin/abort", "")
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 with no bearer token", ctx.Response.StatusCode())
	}

	ctx = callHandler(srv, fasthttp.MethodPost, "/admin/abort", "garbage")
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 with a malformed token", ctx.Response.StatusCode())
	}
}

func TestAbortAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	var aborted bool
	srv := NewServer(fakeProvider{}, secret, func() { aborted = true })

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	ctx := callHandler(srv, fasthttp.MethodPost, "/admin/abort", signed)
	if ctx.Response.StatusCode() != fasthttp.StatusAccepted {
		t.Fatalf("status code = %d, want 202", ctx.Response.StatusCode())
	}
	if !aborted {
		t.Fatalf("expected onAbort callback to run")
	}
}

func TestAbortRejectsTokenSignedWithWrongSecret(t *testing.T) {
	secret := []byte("test-secret")
	srv := NewServer(fakeProvider{}, secret, func() {})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	ctx := callHandler(srv, fasthttp.MethodPost, "/admin/abort", signed)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 with a token signed by a different secret", ctx.Response.StatusCode())
	}
}
