package application

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Shugur-Network/publisher/internal/batch"
	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/Shugur-Network/publisher/internal/logger"
	"github.com/Shugur-Network/publisher/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// relaysResponse is the body of GET /relays.
type relaysResponse struct {
	Defaults []string `json:"defaults"`
	Active   []string `json:"active"`
}

func (p *Publisher) newServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", p.health.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /relays", errors.WrapHandler(p.handleRelays))
	mux.Handle("POST /events", errors.WrapHandler(p.handlePublish))

	middlewares := []func(http.Handler) http.Handler{
		web.SecurityMiddleware(web.APISecurityHeaders()),
		web.ValidationMiddleware,
	}
	if p.rateLimiter != nil {
		middlewares = append(middlewares, web.RateLimitMiddleware(p.rateLimiter))
	}

	return &http.Server{
		Handler:      web.Chain(mux, middlewares...),
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.New("http")),
	}
}

func (p *Publisher) handleRelays(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, relaysResponse{
		Defaults: p.manager.DefaultRelays(),
		Active:   p.manager.ActiveRelays(),
	})
	return nil
}

// handlePublish accepts one event as JSON, signs it if needed and fans it
// out. 202 means at least one relay took it.
func (p *Publisher) handlePublish(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, batch.MaxLineSize))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "BODY_TOO_LARGE",
			"request body could not be read").WithSeverity(errors.SeverityLow)
	}

	evt, err := event.Deserialize(body)
	if err != nil {
		return err
	}

	res := p.PublishEvent(r.Context(), evt)
	if res.Err != nil {
		return res.Err
	}
	logger.Debug("Event published via API",
		zap.String("event_id", res.EventID),
		zap.Int("accepted", len(res.Accepted)),
		zap.String("request_id", errors.RequestID(r.Context())),
		zap.String("client_ip", web.ClientIP(r)))
	writeJSON(w, http.StatusAccepted, res)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
