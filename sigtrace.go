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

// Package sigtrace captures fatal signals, unrecovered panics and
// host-runtime ANR notifications, synthesizes a structured report of the
// faulting stack and per-thread state, and spills it to disk for pickup
// on the next process start. Reports chain to whatever signal handling
// was installed before the library's own, so the process still dies the
// way it would have.
package sigtrace

import (
	"errors"
	"os"
	"sync/atomic"
)

var initialized atomic.Bool

// Start installs the fatal-signal interceptors, the terminate handling
// and, when the context asks for it, the ANR coordinator. It returns
// false when the signal handlers could not be installed; partial
// failures inside the ANR path are logged and recovered.
func Start(ctx Context) bool {
	nameBuf := make([]byte, 1024)
	logger.Debug().
		Str("process", string(processName(os.Getpid(), nameBuf))).
		Int("pid", os.Getpid()).
		Int("ppid", os.Getppid()).
		Str("arch", Arch()).
		Msg("native reporter starting")

	nativeContext.set(ctx)

	if !signalHandlerInitialize() {
		logger.Error().Msg("failed to initialize signal handlers")
		return false
	}

	if ctx.ANRMonitorEnabled {
		if !anrHandlerInitialize() {
			logger.Error().Msg("failed to initialize ANR detection")
		} else {
			logger.Debug().Msg("ANR handler installed")
		}
	}

	if !terminateHandlerInitialize() {
		logger.Error().Msg("failed to initialize exception handling")
	}

	initialized.Store(true)
	return true
}

// Stop restores every previous signal disposition, joins the ANR
// watchdog, and releases the alternate stack and scratch buffers.
func Stop() {
	if !initialized.Swap(false) {
		return
	}

	signalHandlerShutdown()
	if nativeContext.get().ANRMonitorEnabled {
		anrHandlerShutdown()
	}
	terminateHandlerShutdown()
}

// SetContext replaces the hosting runtime's context after Start.
func SetContext(ctx Context) {
	nativeContext.set(ctx)
}

// DumpStack builds a report for the calling goroutine with a synthetic
// machine context and returns the serialized document without spilling
// it.
func DumpStack() string {
	buf := make([]byte, backtraceSizeMax)
	siginfo := &SignalInfo{}
	mc := captureContext(1)
	mc.Regs = zeroRegisters()
	n, _ := collectBacktrace(buf, siginfo, mc)
	return string(buf[:n])
}

// CrashNow is the failure-injection hook used by the hosting runtime's
// self-tests: it panics with the given cause through the terminate
// handling, producing an exception report before the process dies.
func CrashNow(cause string) {
	Protect(func() {
		panic(errors.New(cause))
	})
}

// ProcessStat returns the process's single-line statistics record.
func ProcessStat() string {
	buf := make([]byte, 1024)
	return string(processStat(os.Getpid(), buf))
}

// Arch returns the report architecture tag for this build.
func Arch() string {
	return archTag()
}
