//go:build linux

package sigtrace

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// threadStateToken maps a /proc stat state character to the report's
// state token.
func threadStateToken(c byte) string {
	switch c | 0x20 { // tolower
	case 'r':
		return "RUNNING"
	case 's', 'd':
		return "SLEEPING"
	case 'z':
		return "ZOMBIE"
	case 't':
		return "STOPPED"
	case 'x':
		return "DEAD"
	case 'w':
		return "WAKING"
	case 'k':
		return "WAKE KILL"
	case 'p':
		return "PARKED"
	}
	return "unknown"
}

// parseThreadStat extracts the fields the report needs from a stat line:
// the name between the parentheses of field 2, the state character of
// field 3, the priority of field 18 and the stack base of field 28.
func parseThreadStat(tid int, stat string) ThreadInfo {
	info := ThreadInfo{
		TID:   tid,
		State: "unknown",
	}

	open := strings.IndexByte(stat, '(')
	end := strings.LastIndexByte(stat, ')')
	if open < 0 || end < open {
		return info
	}

	name := stat[open+1 : end]
	if len(name) > 31 {
		name = name[:31]
	}
	info.Name = name

	// Fields after the comm, so field n sits at index n-3.
	fields := strings.Fields(stat[end+1:])
	if len(fields) > 0 && len(fields[0]) > 0 {
		info.State = threadStateToken(fields[0][0])
	}
	if len(fields) > 15 {
		if prio, err := strconv.Atoi(fields[15]); err == nil {
			info.Priority = prio
		}
	}
	if len(fields) > 25 {
		if stack, err := strconv.ParseUint(fields[25], 10, 64); err == nil {
			info.StackBase = uintptr(stack)
		}
	}

	return info
}

// collectThreadInventory enumerates the process's threads by scanning
// the task directory, bounded to backtraceThreadsMax. The crashed flag
// is set on the thread whose id equals callerTID.
func collectThreadInventory(pid, callerTID int) []ThreadInfo {
	entries, err := os.ReadDir(taskPath(pid))
	if err != nil {
		logger.Warn().Err(err).Msg("could not enumerate threads")
		return nil
	}

	statBuf := make([]byte, 1024)
	threads := make([]ThreadInfo, 0, len(entries))

	for _, entry := range entries {
		if len(threads) >= backtraceThreadsMax {
			break
		}
		name := entry.Name()
		if len(name) == 0 || name[0] < '0' || name[0] > '9' {
			continue
		}
		tid, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		info := parseThreadStat(tid, string(threadStat(pid, tid, statBuf)))
		info.Crashed = tid == callerTID
		threads = append(threads, info)
	}

	return threads
}

// gettid returns the caller's kernel thread id.
func gettid() int {
	return unix.Gettid()
}
