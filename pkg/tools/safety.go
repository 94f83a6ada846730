package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// safeCall runs the tool body on its own goroutine, captures panics and
// honors the caller's deadline. Provider SDK work never runs on the
// caller's path: a hung provider leaves a goroutine behind but returns
// control at the context deadline.
func safeCall(ctx context.Context, toolName string, fn func(context.Context) (string, error)) (string, error) {
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Tool panicked",
					"tool", toolName, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		text, err := fn(ctx)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case out := <-done:
		return out.text, out.err
	}
}
