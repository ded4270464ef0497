package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// PanicHandler receives a recovered panic value together with the goroutine name and stack
type PanicHandler func(name string, recovered any, stack []byte)

// Go starts a named goroutine labelled for pprof.
// Example usage:
//
//	groutine.Go(ctx, "scan-cycle", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	GoSafe(parentCtx, name, fn, nil)
}

// GoSafe is like Go but recovers panics and hands them to onPanic instead of crashing
// the process. A nil onPanic re-panics.
func GoSafe(parentCtx context.Context, name string, fn func(ctx context.Context), onPanic PanicHandler) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				if onPanic == nil {
					panic(r)
				}
				onPanic(name, r, debug.Stack())
			}
		}()

		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PanicError converts a recovered panic value into an error
func PanicError(name string, recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("goroutine %q panicked: %w", name, err)
	}
	return fmt.Errorf("goroutine %q panicked: %v", name, recovered)
}
