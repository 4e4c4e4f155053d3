//go:build linux

package sigtrace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportKind tags a capture: the filename prefix and the availability of
// a machine context are the only differences between the three paths.
type ReportKind int

const (
	ReportCrash ReportKind = iota
	ReportException
	ReportAnr
)

func (k ReportKind) prefix() string {
	switch k {
	case ReportException:
		return "ex-"
	case ReportAnr:
		return "anr-"
	}
	return "crash-"
}

// collectBacktrace synthesizes the full report into buf: unwind the
// faulting context, inventory every thread, attach the faulting state to
// the crashed thread, serialize. The siginfo and machine context may be
// nil (terminate path); the report still serializes. Returns the
// document length and whether it was truncated to fit.
func collectBacktrace(buf []byte, siginfo *SignalInfo, mc *MachineContext) (int, bool) {
	bt := &Backtrace{
		Arch:      archTag(),
		Timestamp: time.Now().Unix(),
		PID:       os.Getpid(),
		PPID:      os.Getppid(),
		UID:       os.Getuid(),
	}
	bt.State.context = mc
	bt.State.siginfo = siginfo

	if siginfo != nil {
		bt.Description = describe(siginfo.Signo, siginfo.Code)
	}

	sessionID, buildID := nativeContext.identity()
	bt.SessionID = sessionID
	bt.BuildID = buildID

	unwind(&bt.State)

	bt.Threads = collectThreadInventory(bt.PID, gettid())
	for i := range bt.Threads {
		if bt.Threads[i].Crashed {
			bt.Threads[i].Backtrace = &bt.State
		}
	}

	return emitBacktrace(bt, buf)
}

// spill writes a serialized report to durable storage under a
// timestamped filename for pickup on next process start.
func spill(kind ReportKind, payload []byte) bool {
	dir := nativeContext.reportsDir()
	if dir == "" {
		logger.Error().Msg("no reports directory configured, dropping report")
		return false
	}

	now := time.Now()
	nameAt := func(t time.Time) string {
		return fmt.Sprintf("%s%s%03d", kind.prefix(), t.Format("20060102150405"), t.Nanosecond()/1e6)
	}
	path := filepath.Join(dir, nameAt(now))

	// A report spilled in the same millisecond as an earlier one takes
	// the next free millisecond instead of overwriting it.
	for _, err := os.Lstat(path); err == nil; _, err = os.Lstat(path) {
		now = now.Add(time.Millisecond)
		path = filepath.Join(dir, nameAt(now))
	}

	if err := os.WriteFile(path, payload, 0o600); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("could not spill report")
		return false
	}

	logger.Debug().Str("path", path).Int("bytes", len(payload)).Msg("native report written")
	return true
}

// buildAndSpill runs one full capture into the given scratch buffer and
// persists the result. Truncation is reported but does not block the
// spill.
func buildAndSpill(kind ReportKind, buf []byte, siginfo *SignalInfo, mc *MachineContext) bool {
	n, truncated := collectBacktrace(buf, siginfo, mc)
	if truncated {
		logger.Warn().Int("bytes", n).Msg("report truncated at buffer boundary")
	}
	return spill(kind, buf[:n])
}
