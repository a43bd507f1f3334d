package concurrency

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError carries a recovered panic out of its goroutine.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(*PanicError)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p := &PanicError{Value: r, Stack: string(debug.Stack())}
				slog.Error("Panic recovered", "panic", r, "stack", p.Stack)
				if onPanic != nil {
					onPanic(p)
				}
			}
		}()
		fn()
	}()
}
