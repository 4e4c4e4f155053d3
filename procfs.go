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

package sigtrace

import (
	"fmt"
	"os"
)

// Read-only queries over /proc. Each reader takes a caller-owned buffer,
// fills it, and returns the populated slice so the capture path performs
// no allocation beyond the formatting below. On failure the buffer holds
// the literal "<unknown>" and a warning is logged.
//
// https://www.kernel.org/doc/Documentation/filesystems/proc.txt

const procUnknown = "<unknown>"

// trimTrailingWS strips trailing space, tab, CR and LF.
func trimTrailingWS(b []byte) []byte {
	n := len(b)
	for n > 0 {
		switch b[n-1] {
		case ' ', '\t', '\r', '\n':
			n--
		default:
			return b[:n]
		}
	}
	return b[:0]
}

// firstLine returns the buffer truncated at the first NUL or newline.
func firstLine(b []byte) []byte {
	for i, c := range b {
		if c == 0 || c == '\n' {
			return b[:i]
		}
	}
	return b
}

func readProcFile(path string, buf []byte) ([]byte, bool) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("procfs read failed")
		return append(buf[:0], procUnknown...), false
	}
	defer f.Close()

	n, err := f.Read(buf[:cap(buf)])
	if n <= 0 {
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("procfs read failed")
		}
		return append(buf[:0], procUnknown...), false
	}
	return trimTrailingWS(firstLine(buf[:n])), true
}

// processName returns the nul/newline-trimmed command line of the process.
func processName(pid int, buf []byte) []byte {
	name, _ := readProcFile(fmt.Sprintf("/proc/%d/cmdline", pid), buf)
	return name
}

// threadName returns the nul/newline-trimmed comm of the thread.
func threadName(pid, tid int, buf []byte) []byte {
	name, _ := readProcFile(fmt.Sprintf("/proc/%d/task/%d/comm", pid, tid), buf)
	return name
}

// threadStatusPath returns the path a caller opens to read the thread's
// status lines.
func threadStatusPath(pid, tid int) string {
	return fmt.Sprintf("/proc/%d/task/%d/status", pid, tid)
}

// taskPath returns the path a caller opens to enumerate the process's
// threads.
func taskPath(pid int) string {
	return fmt.Sprintf("/proc/%d/task", pid)
}

// threadStat returns the full single-line statistics record of the thread.
func threadStat(pid, tid int, buf []byte) []byte {
	stat, _ := readProcFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid), buf)
	return stat
}

// processStat returns the full single-line statistics record of the
// process.
func processStat(pid int, buf []byte) []byte {
	stat, _ := readProcFile(fmt.Sprintf("/proc/%d/stat", pid), buf)
	return stat
}
