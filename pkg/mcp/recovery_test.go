package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "operation timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"context canceled", context.Canceled, NoRetry},
		{"deadline exceeded", context.DeadlineExceeded, NoRetry},
		{"net timeout", timeoutError{}, NoRetry},
		{"net op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset by peer")}, ConnectionLost},
		{"eof", io.EOF, ConnectionLost},
		{"unexpected eof", io.ErrUnexpectedEOF, ConnectionLost},
		{"wrapped eof", fmt.Errorf("call failed: %w", io.EOF), ConnectionLost},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8080: connection refused"), ConnectionLost},
		{"broken pipe", errors.New("write: broken pipe"), ConnectionLost},
		{"no such host", errors.New("lookup mcp.example.com: no such host"), ConnectionLost},
		{"rate limit", errors.New("upstream rate limit exceeded"), RetryTransient},
		{"too many requests", errors.New("429 Too Many Requests"), RetryTransient},
		{"service unavailable", errors.New("503 Service Unavailable"), RetryTransient},
		{"overloaded", errors.New("provider is overloaded, try again later"), RetryTransient},
		{"protocol error", errors.New("invalid params"), NoRetry},
		{"unknown error", errors.New("something odd happened"), NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestRetryBackoff_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := retryBackoff()
		assert.GreaterOrEqual(t, d, retryBackoffMin)
		assert.Less(t, d, retryBackoffMax)
	}
}
