package errors

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Define a custom type for context keys to avoid collisions
type contextKey string

const requestIDKey contextKey = "request_id"

var requestSeq atomic.Uint64

// HandlerFunc is an HTTP handler that reports failure by returning an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler adapts a HandlerFunc to http.Handler, writing any returned error
// with WriteHTTP.
type Handler struct {
	handlerFunc HandlerFunc
}

// NewHandler creates a new error-aware handler
func NewHandler(handlerFunc HandlerFunc) *Handler {
	return &Handler{handlerFunc: handlerFunc}
}

// ServeHTTP implements the http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()
	r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))
	w.Header().Set("X-Request-ID", requestID)

	if err := h.handlerFunc(w, r); err != nil {
		WriteHTTP(w, r, err)
	}
}

// WrapHandler wraps an error-returning handler function
func WrapHandler(handlerFunc func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return NewHandler(handlerFunc)
}

// RequestID returns the ID Handler attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func generateRequestID() string {
	return fmt.Sprintf("req_%d_%d", time.Now().UnixNano(), requestSeq.Add(1))
}
