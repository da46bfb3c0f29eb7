package relay

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/domain"
	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/Shugur-Network/publisher/internal/logger"
	"github.com/Shugur-Network/publisher/internal/metrics"
	"github.com/Shugur-Network/publisher/internal/workers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type relayState int

const (
	stateConnecting relayState = iota
	stateConnected
	stateDisconnecting
)

func (s relayState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// relayEntry tracks one URI from the moment a worker reserves it until it is
// removed. state, handle and dropped are guarded by Manager.mu.
type relayEntry struct {
	uri     string
	gen     uint64
	state   relayState
	handle  domain.Handle
	dropped bool

	// sendMu makes a send and a close on the same relay mutually exclusive.
	sendMu sync.Mutex
}

type dropNotice struct {
	uri string
	gen uint64
	err error
}

// Manager owns the connections to a set of relays and broadcasts events to
// every connected one. All methods are safe for concurrent use.
type Manager struct {
	client   domain.WebSocketClient
	log      *zap.Logger
	defaults []string

	limit            int
	handshakeTimeout time.Duration
	sendTimeout      time.Duration
	closeTimeout     time.Duration

	mu      sync.RWMutex
	relays  map[string]*relayEntry
	nextGen uint64
	shut    bool

	drops    chan dropNotice
	stop     chan struct{}
	loopDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithConcurrency bounds how many relay workers one call runs at once.
func WithConcurrency(n int) Option { return func(m *Manager) { m.limit = n } }

// WithHandshakeTimeout bounds each relay's handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// WithSendTimeout bounds each relay's send.
func WithSendTimeout(d time.Duration) Option { return func(m *Manager) { m.sendTimeout = d } }

// WithCloseTimeout bounds each relay's graceful close.
func WithCloseTimeout(d time.Duration) Option { return func(m *Manager) { m.closeTimeout = d } }

// WithLogger replaces the component logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// NewManager starts client and returns a Manager with no active relays.
// defaults is the relay set used when open is called without targets.
func NewManager(client domain.WebSocketClient, defaults []string, opts ...Option) (*Manager, error) {
	m := &Manager{
		client:           client,
		log:              logger.New("relay_manager"),
		defaults:         dedupe(defaults),
		limit:            constants.DefaultFanOutLimit,
		handshakeTimeout: constants.DefaultHandshakeTimeout,
		sendTimeout:      constants.DefaultSendTimeout,
		closeTimeout:     constants.DefaultCloseTimeout,
		relays:           make(map[string]*relayEntry),
		drops:            make(chan dropNotice, constants.DropQueueSize),
		stop:             make(chan struct{}),
		loopDone:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.log.Info("Starting WebSocket client")
	if err := client.Start(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "CLIENT_START_FAILED", "failed to start websocket client").
			WithSeverity(errors.SeverityCritical)
	}

	go m.dropLoop()
	return m, nil
}

// DefaultRelays returns the relays used when no targets are given.
func (m *Manager) DefaultRelays() []string {
	return slices.Clone(m.defaults)
}

// ActiveRelays returns a sorted snapshot of the connected relays.
func (m *Manager) ActiveRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() []string {
	active := make([]string, 0, len(m.relays))
	for uri, e := range m.relays {
		if e.state == stateConnected {
			active = append(active, uri)
		}
	}
	slices.Sort(active)
	return active
}

// connectionHandles returns the handle of every connected relay.
func (m *Manager) connectionHandles() map[string]domain.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handles := make(map[string]domain.Handle, len(m.relays))
	for uri, e := range m.relays {
		if e.state == stateConnected {
			handles[uri] = e.handle
		}
	}
	return handles
}

/* ------------------------------------------------------------------ *
|  Open                                                               |
* -------------------------------------------------------------------*/

// OpenRelayConnections connects to every target that is not already
// connected or connecting, in parallel, and waits for all attempts. With no
// targets the default relays are used. It returns the resulting active set;
// relays that failed are simply absent from it.
func (m *Manager) OpenRelayConnections(ctx context.Context, targets ...string) []string {
	if len(targets) == 0 {
		targets = m.defaults
	}
	defer metrics.TimeFanOut("open")()

	m.log.Info("Attempting to connect to Nostr relays", zap.Int("targets", len(targets)))
	candidates := m.reserve(targets)

	g := workers.NewGroup(ctx, m.limit)
	for _, e := range candidates {
		g.Go("open:"+e.uri, func(ctx context.Context) { m.openOne(ctx, e) })
	}
	g.Wait()

	active := m.ActiveRelays()
	metrics.SetActiveRelays(len(active))
	m.log.Info("Connected to target relays",
		zap.Int("connected", countIn(active, targets)),
		zap.Int("targets", len(dedupe(targets))),
		zap.Int("active", len(active)))
	return active
}

// reserve puts every unknown target into the connecting state so that
// concurrent opens of the same URI skip it.
func (m *Manager) reserve(targets []string) []*relayEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shut {
		return nil
	}

	var candidates []*relayEntry
	for _, uri := range dedupe(targets) {
		if _, known := m.relays[uri]; known {
			continue
		}
		m.nextGen++
		e := &relayEntry{uri: uri, gen: m.nextGen, state: stateConnecting}
		m.relays[uri] = e
		candidates = append(candidates, e)
	}
	return candidates
}

func (m *Manager) openOne(ctx context.Context, e *relayEntry) {
	hctx, cancel := withTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	h, err := m.client.OpenConnection(hctx, e.uri, m.dropFunc(e.gen))
	if err != nil {
		m.forget(e)
		metrics.ObserveConnect("failure")
		m.log.Warn("Error connecting to relay", logger.Relay(e.uri),
			zap.Error(errors.ConnectError(e.uri, err)))
		return
	}

	if !m.promote(e, h) {
		// A drop or shutdown overtook the handshake; the fresh socket must not leak.
		cctx, cancel := withTimeout(context.Background(), m.closeTimeout)
		defer cancel()
		if err := m.client.CloseConnection(cctx, e.uri, h); err != nil {
			m.log.Debug("Failed to close discarded connection", logger.Relay(e.uri), zap.Error(err))
		}
		metrics.ObserveConnect("discarded")
		m.log.Warn("Discarded relay connection that failed during setup", logger.Relay(e.uri))
		return
	}

	metrics.ObserveConnect("success")
	m.log.Debug("Connected to relay", logger.Relay(e.uri))
}

func (m *Manager) promote(e *relayEntry, h domain.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[e.uri] != e {
		return false
	}
	if e.dropped || m.shut || e.state != stateConnecting {
		delete(m.relays, e.uri)
		return false
	}
	e.state = stateConnected
	e.handle = h
	return true
}

func (m *Manager) forget(e *relayEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[e.uri] == e {
		delete(m.relays, e.uri)
	}
}

/* ------------------------------------------------------------------ *
|  Close                                                              |
* -------------------------------------------------------------------*/

// CloseRelayConnections closes every target that is currently connected, in
// parallel, and waits for all of them. With no targets every active relay is
// closed. Targets that are not connected are ignored. It returns the relays
// it closed.
func (m *Manager) CloseRelayConnections(ctx context.Context, targets ...string) []string {
	defer metrics.TimeFanOut("close")()

	type closing struct {
		e *relayEntry
		h domain.Handle
	}

	m.mu.Lock()
	if len(targets) == 0 {
		targets = m.activeLocked()
	}
	var candidates []closing
	for _, uri := range dedupe(targets) {
		e, ok := m.relays[uri]
		if !ok || e.state != stateConnected {
			continue
		}
		e.state = stateDisconnecting
		candidates = append(candidates, closing{e: e, h: e.handle})
	}
	m.mu.Unlock()

	if len(candidates) == 0 {
		return []string{}
	}
	m.log.Info("Disconnecting from Nostr relays", zap.Int("relays", len(candidates)))

	g := workers.NewGroup(ctx, m.limit)
	for _, c := range candidates {
		g.Go("close:"+c.e.uri, func(ctx context.Context) { m.closeOne(ctx, c.e, c.h) })
	}
	g.Wait()

	closed := make([]string, 0, len(candidates))
	for _, c := range candidates {
		closed = append(closed, c.e.uri)
	}
	slices.Sort(closed)
	metrics.SetActiveRelays(len(m.ActiveRelays()))
	return closed
}

func (m *Manager) closeOne(ctx context.Context, e *relayEntry, h domain.Handle) {
	cctx, cancel := withTimeout(ctx, m.closeTimeout)
	defer cancel()

	e.sendMu.Lock()
	err := m.client.CloseConnection(cctx, e.uri, h)
	e.sendMu.Unlock()

	m.forget(e)
	if err != nil {
		m.log.Warn("Relay did not close cleanly", logger.Relay(e.uri), zap.Error(err))
		return
	}
	m.log.Debug("Disconnected from relay", logger.Relay(e.uri))
}

/* ------------------------------------------------------------------ *
|  Publish                                                            |
* -------------------------------------------------------------------*/

// Report is the outcome of one publish: the relays the event was sent to
// and those whose transport accepted it. Both are sorted.
type Report struct {
	Targets  []string
	Accepted []string
}

// PublishEvent serialises evt once and sends it to every connected relay in
// parallel. It returns the relays whose transport accepted the frame. A
// failed send leaves the relay connected. The only error is a serialisation
// failure.
func (m *Manager) PublishEvent(ctx context.Context, evt event.Event) ([]string, error) {
	report, err := m.Publish(ctx, evt)
	if err != nil {
		return nil, err
	}
	return report.Accepted, nil
}

// Publish is PublishEvent that also reports which relays were targeted.
func (m *Manager) Publish(ctx context.Context, evt event.Event) (Report, error) {
	payload, err := evt.Serialize()
	if err != nil {
		return Report{}, err
	}

	type target struct {
		e *relayEntry
		h domain.Handle
	}
	m.mu.RLock()
	targets := make([]target, 0, len(m.relays))
	for _, e := range m.relays {
		if e.state == stateConnected {
			targets = append(targets, target{e: e, h: e.handle})
		}
	}
	m.mu.RUnlock()

	report := Report{Targets: make([]string, 0, len(targets))}
	for _, t := range targets {
		report.Targets = append(report.Targets, t.e.uri)
	}
	slices.Sort(report.Targets)

	if len(targets) == 0 {
		m.log.Warn("No active relays to publish to", zap.String("event_id", evt.ID))
		report.Accepted = []string{}
		return report, nil
	}

	defer metrics.TimeFanOut("publish")()
	metrics.ObservePublish(len(payload))
	m.log.Info("Attempting to publish event to Nostr relays",
		zap.String("event_id", evt.ID), zap.Int("relays", len(targets)))

	var (
		resMu    sync.Mutex
		accepted = make([]string, 0, len(targets))
	)
	g := workers.NewGroup(ctx, m.limit)
	for _, t := range targets {
		g.Go("publish:"+t.e.uri, func(ctx context.Context) {
			if m.sendOne(ctx, t.e, t.h, payload) {
				resMu.Lock()
				accepted = append(accepted, t.e.uri)
				resMu.Unlock()
			}
		})
	}
	g.Wait()

	slices.Sort(accepted)
	m.log.Info("Published event to target relays",
		zap.String("event_id", evt.ID),
		zap.Int("accepted", len(accepted)),
		zap.Int("targets", len(targets)))
	report.Accepted = accepted
	return report, nil
}

func (m *Manager) sendOne(ctx context.Context, e *relayEntry, h domain.Handle, payload []byte) bool {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	m.mu.RLock()
	live := m.relays[e.uri] == e && e.state == stateConnected
	m.mu.RUnlock()
	if !live {
		metrics.ObserveSend(false)
		m.log.Debug("Skipping relay closed during publish", logger.Relay(e.uri))
		return false
	}

	sctx, cancel := withTimeout(ctx, m.sendTimeout)
	defer cancel()
	_, ok := m.client.Send(sctx, e.uri, h, payload)
	metrics.ObserveSend(ok)
	if !ok {
		m.log.Warn("Error publishing event to relay", logger.Relay(e.uri),
			zap.Error(errors.SendError(e.uri, sctx.Err())))
	}
	return ok
}

/* ------------------------------------------------------------------ *
|  Asynchronous failures                                              |
* -------------------------------------------------------------------*/

// dropFunc returns the notification hook for one connection attempt. It only
// enqueues; the drop loop is the single place that applies the change.
func (m *Manager) dropFunc(gen uint64) domain.DropFunc {
	return func(uri string, _ domain.Handle, err error) {
		select {
		case m.drops <- dropNotice{uri: uri, gen: gen, err: err}:
		case <-m.stop:
		}
	}
}

func (m *Manager) dropLoop() {
	defer close(m.loopDone)
	for {
		select {
		case n := <-m.drops:
			m.applyDrop(n)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) applyDrop(n dropNotice) {
	m.mu.Lock()
	e, ok := m.relays[n.uri]
	if !ok || e.gen != n.gen {
		m.mu.Unlock()
		return
	}
	state := e.state
	switch state {
	case stateConnecting:
		e.dropped = true
	case stateConnected:
		delete(m.relays, n.uri)
	}
	active := len(m.activeLocked())
	m.mu.Unlock()

	if state == stateDisconnecting {
		return
	}
	metrics.RelayDrops.Inc()
	metrics.SetActiveRelays(active)
	m.log.Warn("Lost connection to relay", logger.Relay(n.uri),
		zap.String("state", state.String()),
		zap.Error(errors.ConnectError(n.uri, n.err)))
}

/* ------------------------------------------------------------------ *
|  Teardown                                                           |
* -------------------------------------------------------------------*/

// Close disconnects every remaining relay and stops the client. Further
// opens are ignored. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.shut = true
		m.mu.Unlock()

		m.CloseRelayConnections(ctx)

		close(m.stop)
		<-m.loopDone

		m.log.Info("Stopping WebSocket client")
		var err error
		if stopErr := m.client.Stop(); stopErr != nil {
			err = multierr.Append(err, errors.Wrap(stopErr, errors.ErrorTypeInternal, "CLIENT_STOP_FAILED", "failed to stop websocket client"))
		}
		m.mu.Lock()
		if n := len(m.relays); n > 0 {
			// Only connecting entries can remain; their workers discard the handle.
			m.log.Debug("Relays still connecting at shutdown", zap.Int("count", n))
		}
		m.mu.Unlock()
		metrics.SetActiveRelays(0)
		m.closeErr = err
	})
	return m.closeErr
}

/* ------------------------------------------------------------------ *
|  Helpers                                                            |
* -------------------------------------------------------------------*/

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// dedupe keeps the first occurrence of each URI, preserving order.
func dedupe(uris []string) []string {
	seen := make(map[string]struct{}, len(uris))
	out := make([]string, 0, len(uris))
	for _, u := range uris {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func countIn(set []string, targets []string) int {
	n := 0
	for _, t := range dedupe(targets) {
		if _, found := slices.BinarySearch(set, t); found {
			n++
		}
	}
	return n
}
