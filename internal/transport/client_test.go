package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shugur-Network/publisher/internal/config"
	"github.com/Shugur-Network/publisher/internal/domain"
	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayServer is a minimal relay that records what clients send.
type relayServer struct {
	*httptest.Server
	frames chan []byte
	closes chan int
	conns  chan *websocket.Conn
	agents chan string
	pings  atomic.Int32
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{
		frames: make(chan []byte, 16),
		closes: make(chan int, 4),
		conns:  make(chan *websocket.Conn, 4),
		agents: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.agents <- r.Header.Get("User-Agent")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetPingHandler(func(data string) error {
			rs.pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		rs.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if stderrors.As(err, &ce) {
					rs.closes <- ce.Code
				}
				return
			}
			rs.frames <- data
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

func testConfig() config.TransportConfig {
	return config.TransportConfig{
		UserAgent:    "publisher-test",
		WriteTimeout: time.Second,
		PingInterval: time.Minute,
	}
}

func startedClient(t *testing.T, cfg config.TransportConfig) *Client {
	t.Helper()
	c := NewClient(cfg)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// dropRecorder counts drop notifications.
type dropRecorder struct {
	mu     sync.Mutex
	calls  int
	handle domain.Handle
	fired  chan struct{}
}

func newDropRecorder() *dropRecorder { return &dropRecorder{fired: make(chan struct{}, 4)} }

func (d *dropRecorder) hook(_ string, h domain.Handle, _ error) {
	d.mu.Lock()
	d.calls++
	d.handle = h
	d.mu.Unlock()
	d.fired <- struct{}{}
}

func (d *dropRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestOpenRequiresStart(t *testing.T) {
	rs := newRelayServer(t)
	c := NewClient(testConfig())
	_, err := c.OpenConnection(context.Background(), rs.wsURL(), nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestOpenAndSend(t *testing.T) {
	rs := newRelayServer(t)
	c := startedClient(t, testConfig())

	h, err := c.OpenConnection(context.Background(), rs.wsURL(), nil)
	require.NoError(t, err)
	assert.Equal(t, "publisher-test", <-rs.agents)
	assert.True(t, c.IsConnected(rs.wsURL()))

	payload := []byte(`{"id":"a","content":"<hi>"}`)
	uri, ok := c.Send(context.Background(), rs.wsURL(), h, payload)
	assert.True(t, ok)
	assert.Equal(t, rs.wsURL(), uri)

	select {
	case got := <-rs.frames:
		assert.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the frame")
	}
}

func TestHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()
	c := startedClient(t, testConfig())

	_, err := c.OpenConnection(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "BAD_HANDSHAKE", appErr.Code)
	assert.Contains(t, appErr.Details, "403")
}

func TestDialFailure(t *testing.T) {
	c := startedClient(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := c.OpenConnection(ctx, "ws://127.0.0.1:1", nil)
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeNetwork))
}

func TestStaleHandleRejected(t *testing.T) {
	rs := newRelayServer(t)
	c := startedClient(t, testConfig())

	first, err := c.OpenConnection(context.Background(), rs.wsURL(), nil)
	require.NoError(t, err)
	second, err := c.OpenConnection(context.Background(), rs.wsURL(), nil)
	require.NoError(t, err)

	_, ok := c.Send(context.Background(), rs.wsURL(), first, []byte("{}"))
	assert.False(t, ok)
	assert.Error(t, c.CloseConnection(context.Background(), rs.wsURL(), first))

	_, ok = c.Send(context.Background(), rs.wsURL(), "not a handle", []byte("{}"))
	assert.False(t, ok)

	_, ok = c.Send(context.Background(), rs.wsURL(), second, []byte("{}"))
	assert.True(t, ok)
}

func TestCloseSendsGoingAway(t *testing.T) {
	rs := newRelayServer(t)
	c := startedClient(t, testConfig())
	drops := newDropRecorder()

	h, err := c.OpenConnection(context.Background(), rs.wsURL(), drops.hook)
	require.NoError(t, err)
	require.NoError(t, c.CloseConnection(context.Background(), rs.wsURL(), h))

	select {
	case code := <-rs.closes:
		assert.Equal(t, websocket.CloseGoingAway, code)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw a close frame")
	}
	assert.False(t, c.IsConnected(rs.wsURL()))

	_, ok := c.Send(context.Background(), rs.wsURL(), h, []byte("{}"))
	assert.False(t, ok)

	// A requested close is not a drop.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, drops.count())
}

func TestRelayDisconnectFiresDropOnce(t *testing.T) {
	rs := newRelayServer(t)
	c := startedClient(t, testConfig())
	drops := newDropRecorder()

	h, err := c.OpenConnection(context.Background(), rs.wsURL(), drops.hook)
	require.NoError(t, err)

	serverSide := <-rs.conns
	require.NoError(t, serverSide.Close())

	select {
	case <-drops.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("drop was never reported")
	}
	assert.Equal(t, h, drops.handle)
	assert.False(t, c.IsConnected(rs.wsURL()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, drops.count())

	_, ok := c.Send(context.Background(), rs.wsURL(), h, []byte("{}"))
	assert.False(t, ok)
}

func TestPingKeepsConnectionAlive(t *testing.T) {
	rs := newRelayServer(t)
	cfg := testConfig()
	cfg.PingInterval = 20 * time.Millisecond
	c := startedClient(t, cfg)
	drops := newDropRecorder()

	_, err := c.OpenConnection(context.Background(), rs.wsURL(), drops.hook)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rs.pings.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.IsConnected(rs.wsURL()))
	assert.Zero(t, drops.count())
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	rs := newRelayServer(t)
	cfg := testConfig()
	cfg.RateLimit = 0.1
	cfg.Burst = 1
	c := startedClient(t, cfg)

	h, err := c.OpenConnection(context.Background(), rs.wsURL(), nil)
	require.NoError(t, err)

	_, ok := c.Send(context.Background(), rs.wsURL(), h, []byte("{}"))
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok = c.Send(ctx, rs.wsURL(), h, []byte("{}"))
	assert.False(t, ok)
}

func TestStopClosesEverything(t *testing.T) {
	rs := newRelayServer(t)
	c := NewClient(testConfig())
	require.NoError(t, c.Start())
	drops := newDropRecorder()

	_, err := c.OpenConnection(context.Background(), rs.wsURL(), drops.hook)
	require.NoError(t, err)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.False(t, c.IsConnected(rs.wsURL()))
	assert.Zero(t, drops.count())

	_, err = c.OpenConnection(context.Background(), rs.wsURL(), nil)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, c.Start(), ErrStopped)
}
