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
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// The hosting runtime produces its own ANR report from a SIGQUIT handler
// running on a well-known thread ("Signal Catcher") with a known SigBlk
// bit. The coordinator observes SIGQUIT first, emits its own report, and
// forwards the signal to that thread so the runtime's machinery still
// runs.

const (
	anrThreadName   = "Signal Catcher"
	anrSigblkLabel  = "SigBlk:\t"
	anrThreadSigblk = 0x1000

	anrPollSleep = 100 * time.Millisecond
)

var (
	anrMonitorTID atomic.Int64

	anrEnabled        atomic.Bool
	watchdogTriggered atomic.Bool
	watchdogMustPoll  atomic.Bool

	watchdogSem  chan struct{}
	watchdogDone chan struct{}

	anrBuf      []byte
	anrPrevious sigDisposition
)

func init() {
	anrMonitorTID.Store(-1)
}

// tgkillFn delivers a signal to one thread of the process; a variable so
// tests can observe the forwarded SIGQUIT.
var tgkillFn = func(tgid, tid, signo int) error {
	return unix.Tgkill(tgid, tid, syscall.Signal(signo))
}

// anrMonitorThread is the watchdog worker. It waits for the interceptor
// to post, forwards SIGQUIT to the detected runtime thread, unblocks
// SIGQUIT on itself, and waits again.
func anrMonitorThread() {
	defer close(watchdogDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := setThreadName("NR-ANR-Handler"); err != nil {
		logger.Error().Err(err).Msg("could not name ANR watchdog thread")
	}

	logger.Debug().Bool("enabled", anrEnabled.Load()).Msg("anr watchdog started")

	for anrEnabled.Load() {
		watchdogTriggered.Store(false)

		if watchdogMustPoll.Load() {
			for anrEnabled.Load() && !watchdogTriggered.Load() {
				time.Sleep(anrPollSleep)
			}
		} else {
			<-watchdogSem
		}

		if anrEnabled.Load() {
			// Forward SIGQUIT so the runtime's ANR processing runs.
			pid := os.Getpid()
			tid := int(anrMonitorTID.Load())
			if pid >= 0 && tid >= 0 {
				logger.Debug().Int("pid", pid).Int("tid", tid).Msg("raising ANR signal")
				if err := tgkillFn(pid, tid, int(unix.SIGQUIT)); err != nil {
					logger.Error().Err(err).Msg("could not forward SIGQUIT")
				}
			}
		}

		// Unblock SIGQUIT again so the interceptor will run again.
		unblockSignal(int(unix.SIGQUIT))
	}

	logger.Debug().Msg("anr watchdog stopped")
}

// anrInterceptor handles one SIGQUIT delivery. It never chains to the
// previous disposition: the watchdog forwards the signal instead.
func anrInterceptor(signo int, info *SignalInfo, mc *MachineContext) {
	// Block SIGQUIT on this thread so the runtime's handler cannot
	// re-enter while the report builds.
	blockSignal(int(unix.SIGQUIT))

	if anrEnabled.Load() {
		logger.Info().Msg("ANR interceptor invoked")
		if anrBuf != nil {
			buildAndSpill(ReportAnr, anrBuf, info, mc)
		} else {
			logger.Error().Msg("buffer not allocated for ANR report")
		}
	}

	// Set the trigger for the poll loop in case the semaphore post is
	// lost.
	watchdogTriggered.Store(true)

	if !watchdogMustPoll.Load() {
		select {
		case watchdogSem <- struct{}{}:
		default:
			logger.Error().Msg("could not post ANR handler semaphore")
			watchdogMustPoll.Store(true)
		}
	}
}

// detectANRMonitor scans the task directory for a thread named "Signal
// Catcher" whose status SigBlk mask has bit 0x1000 set, and records its
// id as the tgkill target. Detection failure is non-fatal:
// ANR forwarding simply never fires.
func detectANRMonitor() bool {
	pid := os.Getpid()
	entries, err := os.ReadDir(taskPath(pid))
	if err != nil {
		logger.Warn().Err(err).Msg("could not scan task directory")
		return false
	}

	nameBuf := make([]byte, 64)
	for _, entry := range entries {
		name := entry.Name()
		if len(name) == 0 || name[0] < '0' || name[0] > '9' {
			continue
		}
		tid, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		if !strings.HasPrefix(string(threadName(pid, tid, nameBuf)), anrThreadName) {
			continue
		}

		if sigblk := readSigblk(threadStatusPath(pid, tid)); sigblk&anrThreadSigblk == anrThreadSigblk {
			anrMonitorTID.Store(int64(tid))
			logger.Debug().Int("tid", tid).Msg("runtime ANR monitor found")
			return true
		}
		logger.Error().Int("tid", tid).Msg("cannot access runtime ANR monitor while debugging")
	}

	return false
}

func readSigblk(statusPath string) uint64 {
	f, err := os.Open(statusPath)
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, anrSigblkLabel) {
			sigblk, _ := strconv.ParseUint(strings.TrimPrefix(line, anrSigblkLabel), 16, 64)
			return sigblk
		}
	}
	return 0
}

// anrHandlerInitialize detects and co-opts the existing runtime ANR
// monitor. Returns false only when the watchdog could not be started.
func anrHandlerInitialize() bool {
	if !detectANRMonitor() {
		logger.Error().Msg("failed to detect the runtime ANR monitor thread, native ANR reports will not be forwarded")
	}

	watchdogSem = make(chan struct{}, 1)
	watchdogDone = make(chan struct{})
	watchdogMustPoll.Store(false)
	anrBuf = make([]byte, backtraceSizeMax)
	anrEnabled.Store(true)

	go anrMonitorThread()

	// Install the SIGQUIT interceptor. It never calls the previous
	// disposition.
	if !installHandler(int(unix.SIGQUIT), anrInterceptor, &anrPrevious, 0) {
		logger.Error().Msg("could not install SIGQUIT handler, ANR reports will not be collected")
	}

	// Unblock SIGQUIT so the interceptor can run.
	unblockSignal(int(unix.SIGQUIT))

	return true
}

// anrHandlerShutdown disables ANR handling, wakes and joins the
// watchdog, and resets the detected thread.
func anrHandlerShutdown() {
	anrEnabled.Store(false)

	if !watchdogMustPoll.Load() {
		select {
		case watchdogSem <- struct{}{}:
		default:
		}
	}

	if watchdogDone != nil {
		<-watchdogDone
		watchdogDone = nil
	}

	uninstallHandler(int(unix.SIGQUIT), &anrPrevious)

	watchdogTriggered.Store(false)
	anrMonitorTID.Store(-1)
	anrBuf = nil
	watchdogSem = nil
}
