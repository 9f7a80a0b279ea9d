// Package util holds small concurrency helpers shared by the node and the
// client.
package util

import (
	"runtime/debug"

	"github.com/modlnet/modl/internal/logging"
)

// SafeGo runs fn on a new goroutine. A panic is logged with its stack
// instead of taking the process down.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to the panic log.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer recoverPanic(name)
		fn()
	}()
}

func recoverPanic(name string) {
	r := recover()
	if r == nil {
		return
	}
	args := []any{"panic", r, "stack", string(debug.Stack())}
	if name != "" {
		args = append(args, "goroutine", name)
	}
	logging.Error("goroutine panic recovered", args...)
}
