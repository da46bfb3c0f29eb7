package domain

import (
	"context"
)

// Handle is an opaque reference to an established relay connection. Only the
// WebSocketClient that issued it knows its shape.
type Handle interface{}

// DropFunc is invoked by the WebSocketClient, at most once per successful
// OpenConnection and from one of its own goroutines, when that connection
// fails after it was established. It may fire before or after the
// OpenConnection call has returned to its caller.
type DropFunc func(uri string, h Handle, err error)

// WebSocketClient is the single shared transport that serves every relay.
// Connections are addressed by URI; at most one logical connection per URI
// exists at a time. Implementations must tolerate concurrent calls for
// distinct URIs.
type WebSocketClient interface {
	// Start must be called once before any other method.
	Start() error

	// Stop releases every transport resource, closing remaining connections.
	Stop() error

	// OpenConnection performs the handshake with uri, bounded by ctx.
	OpenConnection(ctx context.Context, uri string, onDrop DropFunc) (Handle, error)

	// IsConnected is a point-in-time liveness probe.
	IsConnected(uri string) bool

	// Send writes message as one text frame. It reports transport-level
	// acceptance only, never a relay acknowledgement.
	Send(ctx context.Context, uri string, h Handle, message []byte) (string, bool)

	// CloseConnection requests a graceful close of the connection h.
	CloseConnection(ctx context.Context, uri string, h Handle) error
}
