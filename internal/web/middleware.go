package web

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/limiter"
	"github.com/Shugur-Network/publisher/internal/logger"
	"go.uber.org/zap"
)

// SecurityHeaders defines the security headers to be applied to responses
type SecurityHeaders struct {
	CSP                 string
	XContentTypeOptions string
	ReferrerPolicy      string
}

// APISecurityHeaders returns security headers for JSON endpoints
func APISecurityHeaders() *SecurityHeaders {
	return &SecurityHeaders{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

// Apply applies the security headers directly to a ResponseWriter
func (sh *SecurityHeaders) Apply(w http.ResponseWriter) {
	if sh.CSP != "" {
		w.Header().Set("Content-Security-Policy", sh.CSP)
	}
	if sh.XContentTypeOptions != "" {
		w.Header().Set("X-Content-Type-Options", sh.XContentTypeOptions)
	}
	if sh.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", sh.ReferrerPolicy)
	}
}

// SecurityMiddleware wraps an http.Handler with security headers
func SecurityMiddleware(headers *SecurityHeaders) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers.Apply(w)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidationError describes why a request was refused before routing.
type ValidationError struct {
	Type    string
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateRequest applies cheap structural checks to every API request.
func ValidateRequest(r *http.Request) error {
	if len(r.URL.Path) > constants.MaxPathLength {
		return &ValidationError{Type: "path_too_long", Message: "Request path too long", Field: "path"}
	}
	if !utf8.ValidString(r.URL.Path) || strings.Contains(r.URL.Path, "..") {
		return &ValidationError{Type: "invalid_path", Message: "Invalid request path", Field: "path"}
	}
	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, "application/json") {
			return &ValidationError{Type: "content_type", Message: "Content-Type must be application/json", Field: "Content-Type"}
		}
	}
	return nil
}

// ValidationMiddleware rejects requests failing ValidateRequest with 400.
func ValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ValidateRequest(r); err != nil {
			if validationErr, ok := err.(*ValidationError); ok {
				logger.Warn("Input validation failed",
					zap.String("type", validationErr.Type),
					zap.String("field", validationErr.Field),
					zap.String("client_ip", r.RemoteAddr),
					zap.String("path", r.URL.Path),
					zap.String("user_agent", r.Header.Get("User-Agent")),
				)
			}
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware throttles requests per client IP.
func RateLimitMiddleware(rl *limiter.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(ClientIP(r)) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP strips the port from RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
