package segdex

import (
	"runtime/debug"
)

// GoSafe runs fn in a goroutine and recovers from panics. A panic is logged
// with its stack trace instead of crashing the process.
func GoSafe(logger *Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					logger = NewLogger(nil)
				}
				logger.Error("panic recovered in background task",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
