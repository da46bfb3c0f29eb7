package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapHandlerSuccess(t *testing.T) {
	var seen string
	h := WrapHandler(func(w http.ResponseWriter, r *http.Request) error {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
		return nil
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestWrapHandlerWritesAppError(t *testing.T) {
	h := WrapHandler(func(w http.ResponseWriter, r *http.Request) error {
		return New(ErrorTypeSend, "NO_RELAY_ACCEPTED", "no relay accepted the event")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NO_RELAY_ACCEPTED", body.Error.Code)
}

func TestWrapHandlerPlainErrorIsInternal(t *testing.T) {
	h := WrapHandler(func(w http.ResponseWriter, r *http.Request) error {
		return stderrors.New("boom")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, generateRequestID(), generateRequestID())
}
