package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Shugur-Network/publisher/internal/limiter"
	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestSecurityMiddlewareSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityMiddleware(APISecurityHeaders())(okHandler).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestValidationMiddleware(t *testing.T) {
	cases := map[string]struct {
		req  *http.Request
		code int
	}{
		"plain get": {httptest.NewRequest(http.MethodGet, "/relays", nil), http.StatusNoContent},
		"long path": {httptest.NewRequest(http.MethodGet, "/"+strings.Repeat("a", 300), nil), http.StatusBadRequest},
		"json post": {jsonPost("application/json; charset=utf-8"), http.StatusNoContent},
		"form post": {jsonPost("application/x-www-form-urlencoded"), http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ValidationMiddleware(okHandler).ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func jsonPost(contentType string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("{}"))
	r.Header.Set("Content-Type", contentType)
	return r
}

func TestRateLimitMiddlewarePerClient(t *testing.T) {
	rl := limiter.NewRateLimiter(limiter.RateLimit{PerSecond: 0.001, BurstSize: 1})
	h := RateLimitMiddleware(rl)(okHandler)

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/relays", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000"))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler, mark("a"), mark("b")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}
