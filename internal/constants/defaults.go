package constants

import "time"

// Client identity
const (
	ClientName    = "shugur-publisher"
	ClientVersion = "1.0.0"
	UserAgent     = ClientName + "/" + ClientVersion
)

// Fan-out limits
const (
	// DefaultFanOutLimit bounds the workers one open/close/publish call runs at once.
	DefaultFanOutLimit = 32
	// DropQueueSize is the buffer for asynchronous connection-failure notices.
	DropQueueSize = 256
)

// Per-relay timeouts
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSendTimeout      = 10 * time.Second
	DefaultCloseTimeout     = 2 * time.Second
	DefaultPingInterval     = 30 * time.Second
	ShutdownTimeout         = 30 * time.Second
	HealthCheckTimeout      = 5 * time.Second
)

// Events built by the CLI
const (
	KindTextNote   = 1
	MaxContentSize = 64 * 1024
)

// HTTP API limits
const (
	HTTPReadTimeout      = 15 * time.Second
	HTTPWriteTimeout     = 30 * time.Second
	HTTPIdleTimeout      = 60 * time.Second
	APIRequestsPerSecond = 10
	APIBurstSize         = 20
	APIBanThreshold      = 50
	APIBanDuration       = 5 * time.Minute
	APILimiterIdle       = 30 * time.Minute
	MaxPathLength        = 256
)
