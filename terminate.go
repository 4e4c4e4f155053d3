//go:build linux

package sigtrace

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// TerminateHandler observes a panic value that no recover along the
// goroutine's stack claimed. Handlers registered before this library's
// are chained to after the report spills.
type TerminateHandler func(v any)

var (
	terminateMu      sync.Mutex
	terminateActive  bool
	currentTerminate TerminateHandler
	exceptionBuf     []byte
)

// abortFn kills the process after the terminate chain returns; a
// variable so tests can observe the abort without dying.
var abortFn = func() {
	_ = unix.Kill(os.Getpid(), syscall.SIGABRT)
}

// SetTerminateHandler registers a handler to run when an unrecovered
// panic reaches a protected boundary, returning the handler previously
// registered. Passing nil restores the default behavior of re-raising
// the panic.
func SetTerminateHandler(h TerminateHandler) TerminateHandler {
	terminateMu.Lock()
	defer terminateMu.Unlock()
	prev := currentTerminate
	currentTerminate = h
	return prev
}

// terminateHandlerInitialize installs the library's terminate handling
// on top of whatever the host registered.
func terminateHandlerInitialize() bool {
	terminateMu.Lock()
	defer terminateMu.Unlock()
	if terminateActive {
		return true
	}
	terminateActive = true
	exceptionBuf = make([]byte, backtraceSizeMax)
	return true
}

func terminateHandlerShutdown() {
	terminateMu.Lock()
	defer terminateMu.Unlock()
	terminateActive = false
	exceptionBuf = nil
}

// handleTerminate reports an unrecovered panic: log the value's type,
// build a report with no machine context and no signal state, spill it,
// chain to the previously registered handler, and abort if control
// returns. Nothing here may panic further up.
func handleTerminate(v any) {
	logger.Info().Str("type", fmt.Sprintf("%T", v)).Msg("caught unhandled panic")

	terminateMu.Lock()
	buf := exceptionBuf
	active := terminateActive
	prev := currentTerminate
	terminateMu.Unlock()

	if active && buf != nil {
		buildAndSpill(ReportException, buf, nil, nil)
	}

	if prev != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// A second panic out of the chained handler gets
					// its own report.
					if active && buf != nil {
						buildAndSpill(ReportException, buf, nil, nil)
					}
				}
			}()
			prev(v)
		}()
	} else {
		// No handler to chain to: re-panic the value and recover it
		// here, so the process ends through the abort below.
		func() {
			defer func() { recover() }()
			panic(v)
		}()
	}

	// Kill the process if the chained handler did not.
	abortFn()
}

// Protect runs fn and reports any panic that escapes it. The panic is
// terminal: after the report spills and the terminate chain runs, the
// process aborts. Use Go to spawn protected goroutines.
func Protect(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			handleTerminate(v)
		}
	}()
	fn()
}

// Go spawns fn on its own goroutine under Protect, so a panic in fn
// produces an exception report instead of an unobserved runtime crash.
func Go(fn func()) {
	go Protect(fn)
}
