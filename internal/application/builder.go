package application

import (
	"context"
	"fmt"
	"time"

	"github.com/Shugur-Network/publisher/internal/config"
	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/domain"
	"github.com/Shugur-Network/publisher/internal/health"
	"github.com/Shugur-Network/publisher/internal/identity"
	"github.com/Shugur-Network/publisher/internal/limiter"
	"github.com/Shugur-Network/publisher/internal/logger"
	"github.com/Shugur-Network/publisher/internal/relay"
	"github.com/Shugur-Network/publisher/internal/transport"

	"go.uber.org/zap"
)

// Option adjusts how New assembles a Publisher.
type Option func(*Builder)

// WithClient replaces the websocket transport.
func WithClient(c domain.WebSocketClient) Option {
	return func(b *Builder) { b.client = c }
}

// WithKeys supplies the signing identity instead of reading the key file.
func WithKeys(k *identity.Keys) Option {
	return func(b *Builder) { b.keys = k }
}

// WithoutIdentity skips the key file; unsigned events are then rejected.
func WithoutIdentity() Option {
	return func(b *Builder) { b.skipIdentity = true }
}

// Builder is used to incrementally construct a Publisher instance.
type Builder struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config

	client       domain.WebSocketClient
	manager      *relay.Manager
	keys         *identity.Keys
	skipIdentity bool
	health       *health.HealthChecker
	rateLimiter  *limiter.RateLimiter
}

// NewBuilder creates a new Builder with its own cancelable context.
func NewBuilder(ctx context.Context, cfg *config.Config, opts ...Option) *Builder {
	c, cancel := context.WithCancel(ctx)
	b := &Builder{
		ctx:    c,
		cancel: cancel,
		config: cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildTransport sets up the websocket client unless one was supplied.
func (b *Builder) BuildTransport() {
	if b.client == nil {
		b.client = transport.NewClient(b.config.Transport)
	}
}

// BuildManager starts the client and creates the relay manager.
func (b *Builder) BuildManager() error {
	relays := b.config.Relays
	m, err := relay.NewManager(b.client, relays.Defaults,
		relay.WithConcurrency(relays.FanOutLimit),
		relay.WithHandshakeTimeout(relays.HandshakeTimeout),
		relay.WithSendTimeout(relays.SendTimeout),
		relay.WithCloseTimeout(relays.CloseTimeout),
		relay.WithLogger(logger.New("relay_manager")),
	)
	if err != nil {
		b.cancel()
		return err
	}
	b.manager = m
	return nil
}

// BuildIdentity loads or creates the signing key.
func (b *Builder) BuildIdentity() error {
	if b.keys != nil || b.skipIdentity {
		return nil
	}
	keys, created, err := identity.LoadOrCreate(b.config.Identity.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		logger.Info("Generated new publisher identity",
			zap.String("key_file", b.config.Identity.KeyFile),
			zap.String("pubkey", keys.PublicKey))
	}
	b.keys = keys
	return nil
}

// BuildHealth sets up the health checker.
func (b *Builder) BuildHealth() {
	b.health = health.NewHealthChecker(b.manager, logger.New("health"), config.Version)
}

// BuildRateLimiter sets up the per-client limiter for the HTTP API.
func (b *Builder) BuildRateLimiter() {
	b.rateLimiter = limiter.NewRateLimiter(limiter.RateLimit{
		PerSecond:    constants.APIRequestsPerSecond,
		BurstSize:    constants.APIBurstSize,
		BanThreshold: constants.APIBanThreshold,
		BanDuration:  constants.APIBanDuration,
	})
}

// Build finalizes the publisher construction.
func (b *Builder) Build() (*Publisher, error) {
	if b.client == nil {
		return nil, fmt.Errorf("transport must be built before calling Build()")
	}
	if b.manager == nil {
		return nil, fmt.Errorf("relay manager must be built before calling Build()")
	}
	if b.health == nil {
		return nil, fmt.Errorf("health checker must be built before calling Build()")
	}

	p := &Publisher{
		ctx:         b.ctx,
		cancel:      b.cancel,
		config:      b.config,
		manager:     b.manager,
		keys:        b.keys,
		health:      b.health,
		rateLimiter: b.rateLimiter,
		startTime:   time.Now(),
	}
	if b.config.Metrics.Enabled {
		p.server = p.newServer()
	}

	logger.Debug("Publisher initialized successfully via builder")
	return p, nil
}
