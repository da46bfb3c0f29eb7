// Package transport is the gorilla/websocket implementation of
// domain.WebSocketClient. One Client serves every relay; each open
// connection gets its own read loop, ping loop and send limiter.
package transport

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shugur-Network/publisher/internal/config"
	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/domain"
	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNotStarted  = stderrors.New("websocket client not started")
	ErrStopped     = stderrors.New("websocket client stopped")
	ErrStaleHandle = stderrors.New("connection handle is not current")
)

// Client dials and owns relay connections, keyed by URI.
type Client struct {
	cfg    config.TransportConfig
	dialer *websocket.Dialer
	log    *zap.Logger

	mu      sync.Mutex
	conns   map[string]*relayConn
	started bool
	stopped bool

	loops sync.WaitGroup
}

// relayConn is the handle returned by OpenConnection.
type relayConn struct {
	uri     string
	conn    *websocket.Conn
	limiter *rate.Limiter
	onDrop  domain.DropFunc

	writeMu sync.Mutex

	// closing is set before a requested close so loop errors are not reported as drops.
	closing  atomic.Bool
	dropOnce sync.Once
	shutOnce sync.Once
	done     chan struct{}
}

// NewClient returns a Client configured from cfg. Start must be called
// before any connection is opened.
func NewClient(cfg config.TransportConfig) *Client {
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  constants.DefaultHandshakeTimeout,
			EnableCompression: cfg.Compression,
		},
		log:   logger.New("transport"),
		conns: make(map[string]*relayConn),
	}
}

// Start enables the client. A stopped client cannot be restarted.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.started = true
	return nil
}

// Stop closes every connection and waits for their loops to exit.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	conns := make([]*relayConn, 0, len(c.conns))
	for _, rc := range c.conns {
		conns = append(conns, rc)
	}
	c.conns = make(map[string]*relayConn)
	c.mu.Unlock()

	for _, rc := range conns {
		rc.closing.Store(true)
		_ = c.writeClose(rc, time.Now().Add(constants.DefaultCloseTimeout))
		rc.shutdown()
	}
	c.loops.Wait()
	if len(conns) > 0 {
		c.log.Info("Closed remaining relay connections", zap.Int("count", len(conns)))
	}
	return nil
}

// OpenConnection dials uri and starts its loops. onDrop fires at most once,
// from a loop goroutine, if the connection later fails on its own.
func (c *Client) OpenConnection(ctx context.Context, uri string, onDrop domain.DropFunc) (domain.Handle, error) {
	c.mu.Lock()
	ready, stopped := c.started, c.stopped
	c.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}
	if !ready {
		return nil, ErrNotStarted
	}

	header := http.Header{}
	header.Set("User-Agent", c.userAgent())

	conn, resp, err := c.dialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnect, "BAD_HANDSHAKE", "relay refused the websocket upgrade").
				WithRelay(uri).
				WithDetails(resp.Status)
		}
		return nil, errors.NetworkError("dial", err).WithRelay(uri)
	}

	if tcpConn, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}
	conn.EnableWriteCompression(c.cfg.Compression)

	rc := &relayConn{
		uri:    uri,
		conn:   conn,
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	if c.cfg.RateLimit > 0 {
		rc.limiter = rate.NewLimiter(rate.Limit(c.cfg.RateLimit), c.cfg.Burst)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		rc.closing.Store(true)
		rc.shutdown()
		return nil, ErrStopped
	}
	previous := c.conns[uri]
	c.conns[uri] = rc
	c.loops.Add(2)
	c.mu.Unlock()

	if previous != nil {
		// The caller no longer tracks the old handle; retire it quietly.
		previous.closing.Store(true)
		previous.shutdown()
	}

	pongWait := c.pongWait()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop(rc, pongWait)
	go c.pingLoop(rc)

	c.log.Debug("Connected to relay", logger.Relay(uri))
	return rc, nil
}

// IsConnected reports whether uri has a live connection.
func (c *Client) IsConnected(uri string) bool {
	c.mu.Lock()
	rc, ok := c.conns[uri]
	c.mu.Unlock()
	return ok && !rc.isDone()
}

// Send writes message as one text frame. It returns uri and whether the
// frame was written; a relay's response is never awaited.
func (c *Client) Send(ctx context.Context, uri string, h domain.Handle, message []byte) (string, bool) {
	rc, err := c.current(uri, h)
	if err != nil {
		c.log.Debug("Refusing send on stale handle", logger.Relay(uri), zap.Error(err))
		return uri, false
	}

	if rc.limiter != nil {
		if err := rc.limiter.Wait(ctx); err != nil {
			c.log.Debug("Send rate budget exhausted", logger.Relay(uri), zap.Error(err))
			return uri, false
		}
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if rc.isDone() {
		return uri, false
	}
	_ = rc.conn.SetWriteDeadline(c.writeDeadline(ctx))
	err = rc.conn.WriteMessage(websocket.TextMessage, message)
	_ = rc.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		c.log.Debug("Failed to write frame", logger.Relay(uri), zap.Error(err))
		return uri, false
	}
	return uri, true
}

// CloseConnection sends a going-away close frame and closes the socket.
// The handle must be the current one for uri.
func (c *Client) CloseConnection(ctx context.Context, uri string, h domain.Handle) error {
	rc, err := c.current(uri, h)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnect, "STALE_HANDLE", "cannot close connection").WithRelay(uri)
	}

	rc.closing.Store(true)
	c.mu.Lock()
	if c.conns[uri] == rc {
		delete(c.conns, uri)
	}
	c.mu.Unlock()

	deadline := time.Now().Add(constants.DefaultCloseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	writeErr := c.writeClose(rc, deadline)
	rc.shutdown()

	if writeErr != nil && !stderrors.Is(writeErr, websocket.ErrCloseSent) {
		return errors.NetworkError("close", writeErr).WithRelay(uri)
	}
	c.log.Debug("Closed relay connection", logger.Relay(uri))
	return nil
}

/* ------------------------------------------------------------------ *
|  Loops                                                              |
* -------------------------------------------------------------------*/

// readLoop drains inbound frames. Relay responses are not interpreted.
func (c *Client) readLoop(rc *relayConn, pongWait time.Duration) {
	defer c.loops.Done()
	for {
		if _, _, err := rc.conn.ReadMessage(); err != nil {
			c.drop(rc, err)
			return
		}
		_ = rc.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) pingLoop(rc *relayConn) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-rc.done:
			return
		case <-ticker.C:
			rc.writeMu.Lock()
			err := rc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout()))
			rc.writeMu.Unlock()
			if err != nil {
				c.drop(rc, err)
				return
			}
		}
	}
}

// drop tears rc down and, unless a close was requested, reports it once.
func (c *Client) drop(rc *relayConn, cause error) {
	c.mu.Lock()
	if c.conns[rc.uri] == rc {
		delete(c.conns, rc.uri)
	}
	c.mu.Unlock()
	rc.shutdown()

	if rc.closing.Load() {
		return
	}
	rc.dropOnce.Do(func() {
		c.log.Debug("Relay connection dropped", logger.Relay(rc.uri), zap.Error(cause))
		if rc.onDrop != nil {
			rc.onDrop(rc.uri, rc, cause)
		}
	})
}

/* ------------------------------------------------------------------ *
|  Helpers                                                            |
* -------------------------------------------------------------------*/

func (c *Client) current(uri string, h domain.Handle) (*relayConn, error) {
	rc, ok := h.(*relayConn)
	if !ok || rc == nil {
		return nil, ErrStaleHandle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[uri] != rc {
		return nil, ErrStaleHandle
	}
	return rc, nil
}

func (c *Client) writeClose(rc *relayConn, deadline time.Time) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	return rc.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func (c *Client) writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func (c *Client) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return constants.DefaultSendTimeout
}

func (c *Client) userAgent() string {
	if c.cfg.UserAgent != "" {
		return c.cfg.UserAgent
	}
	return constants.UserAgent
}

func (c *Client) pingInterval() time.Duration {
	if c.cfg.PingInterval > 0 {
		return c.cfg.PingInterval
	}
	return constants.DefaultPingInterval
}

// pongWait is how long a silent connection survives: two missed pings.
func (c *Client) pongWait() time.Duration {
	return 2*c.pingInterval() + c.writeTimeout()
}

func (rc *relayConn) shutdown() {
	rc.shutOnce.Do(func() {
		close(rc.done)
		_ = rc.conn.Close()
	})
}

func (rc *relayConn) isDone() bool {
	select {
	case <-rc.done:
		return true
	default:
		return false
	}
}
