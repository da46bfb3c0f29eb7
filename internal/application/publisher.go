package application

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Shugur-Network/publisher/internal/config"
	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/Shugur-Network/publisher/internal/health"
	"github.com/Shugur-Network/publisher/internal/identity"
	"github.com/Shugur-Network/publisher/internal/limiter"
	"github.com/Shugur-Network/publisher/internal/logger"
	"github.com/Shugur-Network/publisher/internal/metrics"
	"github.com/Shugur-Network/publisher/internal/relay"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Publisher ties the relay manager to signing, the HTTP API and the
// reconnect loop.
type Publisher struct {
	ctx    context.Context
	cancel context.CancelFunc

	config      *config.Config
	manager     *relay.Manager
	keys        *identity.Keys
	health      *health.HealthChecker
	rateLimiter *limiter.RateLimiter

	server   *http.Server
	listener net.Listener
	loops    sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
	startTime    time.Time
}

// Result is the outcome of publishing one event.
type Result struct {
	EventID  string   `json:"event_id"`
	Accepted []string `json:"accepted"`
	Targets  int      `json:"targets"`
	Err      error    `json:"-"`
}

// New creates and configures a Publisher using the Builder.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Publisher, error) {
	// 1) Construct a Builder
	builder := NewBuilder(ctx, cfg, opts...)

	// 2) Websocket transport
	builder.BuildTransport()

	// 3) Relay manager, which starts the transport
	if err := builder.BuildManager(); err != nil {
		return nil, fmt.Errorf("failed building relay manager: %w", err)
	}

	// 4) Signing identity
	if err := builder.BuildIdentity(); err != nil {
		_ = builder.manager.Close(context.Background())
		builder.cancel()
		return nil, err
	}

	// 5) Health and API limiter
	builder.BuildHealth()
	builder.BuildRateLimiter()

	// 6) Finally assemble the Publisher
	p, err := builder.Build()
	if err != nil {
		_ = builder.manager.Close(context.Background())
		builder.cancel()
		return nil, fmt.Errorf("failed to build publisher: %w", err)
	}
	return p, nil
}

// Manager exposes the relay manager.
func (p *Publisher) Manager() *relay.Manager {
	return p.manager
}

// Keys returns the signing identity, or nil when running without one.
func (p *Publisher) Keys() *identity.Keys {
	return p.keys
}

// Addr returns the HTTP listen address once Start has bound it.
func (p *Publisher) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Start connects to the default relays, starts the reconnect loop and, when
// metrics are enabled, the HTTP API. It does not block.
func (p *Publisher) Start(ctx context.Context) error {
	metrics.RegisterMetrics()

	defaults := p.manager.DefaultRelays()
	connected := p.manager.OpenRelayConnections(ctx)
	logger.Info("Connected to default relays",
		zap.Int("connected", len(connected)),
		zap.Int("configured", len(defaults)))
	if len(connected) == 0 {
		logger.Warn("No default relay reachable; will keep retrying",
			zap.Duration("interval", p.config.Relays.ReconnectInterval))
	}

	if p.server != nil {
		ln, err := net.Listen("tcp", p.config.Metrics.ListenAddr)
		if err != nil {
			return errors.NetworkError("listen", err).WithDetails(p.config.Metrics.ListenAddr)
		}
		p.listener = ln

		p.loops.Add(1)
		go func() {
			defer p.loops.Done()
			logger.Info("HTTP API listening", zap.String("address", ln.Addr().String()))
			if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	if p.config.Relays.ReconnectInterval > 0 {
		p.loops.Add(1)
		go p.maintain(p.config.Relays.ReconnectInterval)
	}

	logger.Debug("Publisher started")
	return nil
}

// maintain reopens default relays that dropped and prunes idle API clients.
func (p *Publisher) maintain(interval time.Duration) {
	defer p.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reconnectMissing()
			if p.rateLimiter != nil {
				p.rateLimiter.Cleanup(constants.APILimiterIdle)
			}
		}
	}
}

func (p *Publisher) reconnectMissing() {
	active := p.manager.ActiveRelays()
	var missing []string
	for _, uri := range p.manager.DefaultRelays() {
		if !slices.Contains(active, uri) {
			missing = append(missing, uri)
		}
	}
	if len(missing) == 0 {
		return
	}
	reopened := p.manager.OpenRelayConnections(p.ctx, missing...)
	logger.Info("Reconnect pass finished",
		zap.Int("missing", len(missing)),
		zap.Int("reopened", len(reopened)))
}

// PublishEvent signs evt when it carries no signature and hands it to the
// relay manager. Err is set when the event could not be sent anywhere.
func (p *Publisher) PublishEvent(ctx context.Context, evt event.Event) Result {
	if evt.Sig == "" {
		if p.keys == nil {
			return Result{Err: errors.New(errors.ErrorTypeValidation, "EVENT_UNSIGNED",
				"event has no signature and no signing key is loaded").WithSeverity(errors.SeverityLow)}
		}
		if err := p.keys.Sign(&evt); err != nil {
			return Result{Err: errors.Wrap(err, errors.ErrorTypeInternal, "SIGN_FAILED", "failed to sign event")}
		}
	}

	res := Result{EventID: evt.ID}
	report, err := p.manager.Publish(ctx, evt)
	if err != nil {
		res.Err = err
		return res
	}
	res.Accepted = report.Accepted
	res.Targets = len(report.Targets)
	if len(res.Accepted) == 0 {
		res.Err = errors.New(errors.ErrorTypeSend, "NO_RELAY_ACCEPTED", "no relay accepted the event").
			WithSeverity(errors.SeverityMedium)
	}
	return res
}

// PublishEvents publishes each event in order and returns one Result per
// event. It stops early only when ctx is done.
func (p *Publisher) PublishEvents(ctx context.Context, evts []event.Event) []Result {
	results := make([]Result, 0, len(evts))
	for _, evt := range evts {
		if ctx.Err() != nil {
			results = append(results, Result{EventID: evt.ID, Err: ctx.Err()})
			continue
		}
		results = append(results, p.PublishEvent(ctx, evt))
	}
	return results
}

// Shutdown stops the HTTP API, the reconnect loop and every relay
// connection. Calling it more than once returns the first result.
func (p *Publisher) Shutdown() error {
	p.shutdownOnce.Do(func() {
		logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		var err error

		// Step 1: Stop accepting API requests
		if p.server != nil && p.listener != nil {
			logger.Debug("Stopping HTTP API...")
			if serr := p.server.Shutdown(shutdownCtx); serr != nil {
				err = multierr.Append(err, fmt.Errorf("http shutdown: %w", serr))
			}
		}

		// Step 2: Stop background loops
		p.cancel()
		p.loops.Wait()

		// Step 3: Close relay connections and the transport
		logger.Debug("Closing relay connections...")
		if cerr := p.manager.Close(shutdownCtx); cerr != nil {
			err = multierr.Append(err, cerr)
		}

		if err != nil {
			logger.Warn("Publisher shutdown completed with errors",
				zap.Errors("errors", multierr.Errors(err)))
		} else {
			logger.Info("Publisher shutdown completed successfully",
				zap.Duration("uptime", time.Since(p.startTime)))
		}
		p.shutdownErr = err
	})
	return p.shutdownErr
}
