package errors

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

// Relay-specific error constructors

// ConnectError reports a handshake that never completed or a connection that
// failed after it was established.
func ConnectError(uri string, cause error) *AppError {
	code := "CONNECT_FAILED"
	switch {
	case isTimeout(cause):
		code = "CONNECT_TIMEOUT"
	case cause == websocket.ErrBadHandshake:
		code = "BAD_HANDSHAKE"
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		code = "CLOSED_BY_RELAY"
	case websocket.IsUnexpectedCloseError(cause):
		code = "UNEXPECTED_CLOSE"
	}
	return Wrap(cause, ErrorTypeConnect, code, "relay connection failed").
		WithRelay(uri).
		WithSeverity(SeverityLow)
}

// SendError reports a frame the transport did not accept.
func SendError(uri string, cause error) *AppError {
	code := "SEND_FAILED"
	if isTimeout(cause) {
		code = "SEND_TIMEOUT"
	}
	return Wrap(cause, ErrorTypeSend, code, "relay send failed").
		WithRelay(uri).
		WithSeverity(SeverityLow)
}

// DecodeError reports malformed or incomplete event JSON.
func DecodeError(field string, cause error) *AppError {
	msg := "malformed event"
	if field != "" {
		msg = fmt.Sprintf("malformed event field %q", field)
	}
	return Wrap(cause, ErrorTypeDecode, "EVENT_DECODE_FAILED", msg).
		WithSeverity(SeverityHigh)
}

// ConfigurationError creates an error for configuration issues
func ConfigurationError(field, reason string) *AppError {
	return New(ErrorTypeConfig, "CONFIGURATION_ERROR", fmt.Sprintf("Configuration error in %s: %s", field, reason)).
		WithSeverity(SeverityCritical)
}

// NetworkError creates an error for network-related issues
func NetworkError(operation string, cause error) *AppError {
	var code string
	severity := SeverityMedium

	if netErr, ok := cause.(net.Error); ok && netErr.Timeout() {
		code = "NETWORK_TIMEOUT"
	} else if opErr, ok := cause.(*net.OpError); ok {
		switch opErr.Op {
		case "dial":
			code = "NETWORK_DIAL_FAILED"
			severity = SeverityHigh
		case "read":
			code = "NETWORK_READ_FAILED"
		case "write":
			code = "NETWORK_WRITE_FAILED"
		default:
			code = "NETWORK_OP_FAILED"
		}
	} else if errno, ok := cause.(syscall.Errno); ok {
		switch errno {
		case syscall.ECONNREFUSED:
			code = "CONNECTION_REFUSED"
			severity = SeverityHigh
		case syscall.ECONNRESET:
			code = "CONNECTION_RESET"
		case syscall.ETIMEDOUT:
			code = "CONNECTION_TIMEOUT"
		default:
			code = "SYSTEM_ERROR"
		}
	} else if isTemporaryNetError(cause) {
		code = "NETWORK_TEMPORARY"
		severity = SeverityLow
	} else {
		code = "NETWORK_UNKNOWN"
	}

	return Wrap(cause, ErrorTypeNetwork, code, fmt.Sprintf("Network %s failed", operation)).
		WithSeverity(severity)
}

// IsRecoverable determines if an error is recoverable (can be retried)
func IsRecoverable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Type {
	case ErrorTypeTimeout, ErrorTypeNetwork, ErrorTypeConnect, ErrorTypeSend:
		return appErr.Severity != SeverityCritical
	case ErrorTypeValidation, ErrorTypeDecode, ErrorTypeConfig:
		return false
	case ErrorTypeInternal:
		return appErr.Severity == SeverityLow || appErr.Severity == SeverityMedium
	}
	return false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, context.DeadlineExceeded) {
		return true
	}
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

// isTemporaryNetError checks if a network error is temporary
// This replaces the deprecated netErr.Temporary() method
func isTemporaryNetError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	temporaryPatterns := []string{
		"connection refused",
		"no route to host",
		"network is unreachable",
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
	}

	for _, pattern := range temporaryPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
