package async

import (
	"runtime/debug"

	"conductor/internal/logging"
)

// Go starts fn on its own goroutine. A panic in fn is logged with its stack
// instead of taking down the process; task runs and sweep loops depend on
// that containment.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover is the deferred half of Go, for callers that own the goroutine
// themselves (timer callbacks, pool workers).
func Recover(logger logging.Logger, name string) {
	r := recover()
	if r == nil {
		return
	}
	if name == "" {
		name = "goroutine"
	}
	logging.OrNop(logger).Error("panic in %s: %v\n%s", name, r, debug.Stack())
}
