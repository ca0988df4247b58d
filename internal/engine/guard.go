package engine

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
)

// ErrorHook receives an unhandled error together with its stack trace.
type ErrorHook func(err error, stack []byte)

// ErrorSource is the host capability LogBuffer registers with to receive
// uncaught errors. Go runs a routine inside the same protected scope.
type ErrorSource interface {
	OnError(hook ErrorHook)
	Go(fn func())
}

// Guard is a panic-recovery scope. Panics raised inside Run, Go or a
// deferred Recover are converted to errors and handed to the installed hook.
type Guard struct {
	mu   sync.RWMutex
	hook ErrorHook
}

// NewGuard returns a Guard with no hook installed.
func NewGuard() *Guard {
	return &Guard{}
}

// OnError installs the hook, replacing any previous one.
func (g *Guard) OnError(hook ErrorHook) {
	g.mu.Lock()
	g.hook = hook
	g.mu.Unlock()
}

// Run calls fn and captures any panic it raises.
func (g *Guard) Run(fn func()) {
	defer g.Recover()
	fn()
}

// Go runs fn in a new goroutine under the guard.
func (g *Guard) Go(fn func()) {
	go g.Run(fn)
}

// Recover must be deferred directly by the goroutine it protects.
func (g *Guard) Recover() {
	if r := recover(); r != nil {
		g.dispatch(panicError(r), debug.Stack())
	}
}

// Report hands an error the host caught itself to the hook.
func (g *Guard) Report(err error) {
	if err == nil {
		return
	}
	g.dispatch(err, debug.Stack())
}

func (g *Guard) dispatch(err error, stack []byte) {
	g.mu.RLock()
	hook := g.hook
	g.mu.RUnlock()

	if hook == nil {
		fmt.Fprintf(os.Stderr, "Unhandled error (no hook installed): %v\n%s\n", err, stack)
		return
	}
	hook(err, stack)
}

// ErrPanic marks errors recovered from a panic.
var ErrPanic = errors.New("panic")

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}

var _ ErrorSource = (*Guard)(nil)
