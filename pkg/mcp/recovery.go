package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how a failed MCP call is handled.
type RecoveryAction int

const (
	// NoRetry — the error is not recoverable (bad request, timeout,
	// protocol error).
	NoRetry RecoveryAction = iota
	// RetryTransient — upstream pushback, retry once on the same
	// session after a jittered backoff.
	RetryTransient
	// ConnectionLost — the transport died. The server is marked
	// unreachable and the call fails; reconnecting is an operator
	// action, never automatic.
	ConnectionLost
)

const (
	// initTimeout bounds the transport setup plus MCP handshake.
	initTimeout = 30 * time.Second

	// operationTimeout is the per-call deadline for CallTool and
	// ListTools. Conservative: some market-data tools are
	// legitimately slow.
	operationTimeout = 90 * time.Second

	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond

	healthPingTimeout     = 5 * time.Second
	defaultHealthInterval = 30 * time.Second

	// restartBudget caps manual restarts per server inside
	// restartWindow.
	restartBudget = 3
	restartWindow = 5 * time.Minute

	// errorTextLimit caps tool error text carried back to the agent.
	errorTextLimit = 2000
)

// ClassifyError determines the recovery action for a failed MCP call.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	// Context errors: the caller gave up or the deadline passed.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// A timed-out server may just be slow; retrying piles on.
			return NoRetry
		}
		return ConnectionLost
	}

	if isConnectionError(err) {
		return ConnectionLost
	}
	if isTransientError(err) {
		return RetryTransient
	}

	// Unknown errors are not safe to retry.
	return NoRetry
}

// isConnectionError detects transport-level failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

// isTransientError detects upstream pushback worth one retry.
func isTransientError(err error) bool {
	msg := strings.ToLower(err.Error())
	transientErrors := []string{
		"rate limit",
		"too many requests",
		"service unavailable",
		"overloaded",
		"try again",
	}
	for _, e := range transientErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
