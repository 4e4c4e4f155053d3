//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package sigtrace

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// observedSignal tracks one entry of the fatal-signal set: identity, the
// disposition recorded at install time, and the per-signal intercepting
// counter.
type observedSignal struct {
	signo        int
	name         string
	description  string
	previous     sigDisposition
	intercepting atomic.Int32
}

var observedSignals = [...]observedSignal{
	{signo: int(unix.SIGILL), name: "SIGILL", description: "Illegal instruction"},
	{signo: int(unix.SIGTRAP), name: "SIGTRAP", description: "Trap (invalid memory reference)"},
	{signo: int(unix.SIGABRT), name: "SIGABRT", description: "Abnormal termination"},
	{signo: int(unix.SIGFPE), name: "SIGFPE", description: "Floating-point exception"},
	{signo: int(unix.SIGBUS), name: "SIGBUS", description: "Bus error (bad memory access)"},
	{signo: int(unix.SIGSEGV), name: "SIGSEGV", description: "Segmentation violation (invalid memory reference)"},
}

// sigStkSz is the classic SIGSTKSZ; the alternate stack is allocated at
// twice this.
const sigStkSz = 8 * 1024

var (
	// handlerMu serializes init and shutdown, and invocation of a
	// previous sigaction. It is never taken on the capture fast path
	// and never destroyed.
	handlerMu sync.Mutex

	handlerInitialized atomic.Int32
	intercepting       atomic.Int32

	handlerStack *sigStack
	crashBuf     []byte
)

// interceptor handles one delivery of an observed fatal signal. The
// nested counters guarantee at most one report build at a time; any
// reentrant or concurrent delivery short-circuits straight to the
// previous disposition.
func interceptor(signo int, info *SignalInfo, mc *MachineContext) {
	sig := observedSignalGet(signo)
	if sig == nil {
		logger.Error().Int("signo", signo).Msg("no observed_signal entry for signal")
		return
	}

	if intercepting.Add(1) == 1 {
		logger.Debug().Int("signo", signo).Str("description", sig.description).Msg("signal intercepted")

		if sig.intercepting.Add(1) == 1 && crashBuf != nil {
			buildAndSpill(ReportCrash, crashBuf, info, mc)
		}

		// Uninstall before chaining so the previous handler cannot
		// recurse into us.
		uninstallHandler(sig.signo, &sig.previous)
		invokePreviousSigaction(signo, info, mc)

		sig.intercepting.Add(-1)
		intercepting.Add(-1)
	} else {
		intercepting.Add(-1)
		logger.Error().Int("signo", signo).Msg("already intercepting, delegating to previous sigaction")
		invokePreviousSigaction(signo, info, mc)
	}
}

// installSignalObservers runs on the short-lived installer worker named
// NR-Sig-Handler, which inherits the caller's mask with SIGQUIT blocked.
func installSignalObservers(done chan<- struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := setThreadName("NR-Sig-Handler"); err != nil {
		logger.Error().Err(err).Msg("could not name signal handler thread")
		return
	}

	for i := range observedSignals {
		sig := &observedSignals[i]
		if installHandler(sig.signo, interceptor, &sig.previous, saOnstack) {
			logger.Info().Int("signo", sig.signo).Str("description", sig.description).Msg("signal handler installed")
		} else {
			logger.Error().Int("signo", sig.signo).Msg("unable to install signal handler")
		}
	}

	intercepting.Store(0)
	logger.Info().Msg("signal handler initialized")
}

// signalHandlerInitialize allocates the alternate stack and spawns the
// installer worker. SIGQUIT is blocked on the calling thread for the
// duration so the worker inherits the blocking mask and ANR delivery is
// not confused with fatal-signal delivery.
func signalHandlerInitialize() bool {
	handlerMu.Lock()
	defer handlerMu.Unlock()

	if handlerInitialized.Add(1) != 1 {
		handlerInitialized.Add(-1)
		return true
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stack, err := setSigstack(sigStkSz * 2)
	if err != nil {
		handlerInitialized.Add(-1)
		logger.Error().Err(err).Msg("signal handlers are disabled: could not set the handler signal stack")
		return false
	}
	handlerStack = stack
	crashBuf = make([]byte, backtraceSizeMax)

	if blockSignal(int(unix.SIGQUIT)) {
		done := make(chan struct{})
		go installSignalObservers(done)
		<-done
		unblockSignal(int(unix.SIGQUIT))
	}

	return true
}

// signalHandlerShutdown restores every previous disposition and releases
// the alternate stack and scratch buffer.
func signalHandlerShutdown() {
	logger.Info().Msg("shutting down signal handler")

	handlerMu.Lock()
	defer handlerMu.Unlock()

	if handlerInitialized.Load() <= 0 {
		return
	}

	for i := range observedSignals {
		sig := &observedSignals[i]
		if !uninstallHandler(sig.signo, &sig.previous) {
			logger.Error().Str("signal", sig.name).Msg("could not restore previous disposition")
		}
	}
	handlerInitialized.Add(-1)

	handlerStack.release()
	handlerStack = nil
	crashBuf = nil

	logger.Info().Msg("the signal handler has shutdown")
}

// invokePreviousSigaction chains to the disposition that was installed
// before ours. The process may die inside this call and never return.
func invokePreviousSigaction(signo int, info *SignalInfo, mc *MachineContext) {
	handlerMu.Lock()
	defer handlerMu.Unlock()

	for i := range observedSignals {
		sig := &observedSignals[i]
		if sig.signo == signo {
			logger.Info().Int("signo", signo).Msg("invoking previous handler")
			invokeSigaction(signo, &sig.previous, info, mc)
		}
	}
}

func observedSignalGet(signo int) *observedSignal {
	for i := range observedSignals {
		if observedSignals[i].signo == signo {
			return &observedSignals[i]
		}
	}
	return nil
}
