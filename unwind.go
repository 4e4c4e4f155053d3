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
	"runtime"
	"strings"
)

const modulePathPrefix = "github.com/stealthrocket/sigtrace"

// recordFrame is the bounded insertion into the scratch ring. It returns
// false when the ring is full, which terminates the walk. Null frames
// after the first and duplicates of the previous frame are accepted but
// not stored; both increment the skipped counter.
func recordFrame(ip uintptr, state *BacktraceState) bool {
	if state.frameCnt >= backtraceFramesMax {
		logger.Error().Int("frame", state.frameCnt).Msg("record_frame: stack is full")
		return false
	}

	if state.frameCnt > 0 {
		if ip == 0 {
			state.skippedFrames++
			return true
		}
		if ip == state.frames[state.frameCnt-1] {
			state.skippedFrames++
			return true
		}
	}

	state.frames[state.frameCnt] = ip
	state.frameCnt++
	return true
}

// unwind walks the frames of the interrupted machine context until the
// platform unwinder terminates or the ring fills. A frame matching the
// crash instruction pointer marks the true top of the user stack: the
// walk resets the ring and accounts the trampoline frames above it as
// skipped. Returns false, with zero frames recorded, when the state has
// no machine context.
func unwind(state *BacktraceState) bool {
	if state.context == nil {
		logger.Error().Msg("unwind: machine context is nil")
		return false
	}

	state.skippedFrames = 0
	state.frameCnt = 0
	state.crashIP = state.context.PC

	pcs := state.context.PCs
	if len(pcs) == 0 {
		var buf [backtraceFramesMax]uintptr
		pcs = buf[:runtime.Callers(2, buf[:])]
	}

	for _, ip := range pcs {
		if ip == state.crashIP {
			state.skippedFrames = state.frameCnt
			state.frameCnt = 0
		} else if ip > 0 {
			ip = adjustIP(ip)
		}
		if !recordFrame(ip, state) {
			break
		}
	}

	logger.Debug().
		Str("arch", archTag()).
		Int("frames", state.frameCnt).
		Int("skipped", state.skippedFrames).
		Msg("unwind complete")

	return true
}

// captureContext synthesizes a machine context from the calling
// goroutine. The crash instruction pointer is the first frame outside
// this package, so the walk trims the handler's own frames the way the
// signal trampoline is trimmed on a real delivery. skip counts calling
// frames to exclude, not including captureContext itself.
func captureContext(skip int) *MachineContext {
	var buf [backtraceFramesMax]uintptr
	n := runtime.Callers(skip+2, buf[:])

	mc := &MachineContext{PCs: make([]uintptr, n)}
	copy(mc.PCs, buf[:n])

	for _, pc := range mc.PCs {
		fn := runtime.FuncForPC(pc)
		if fn == nil || strings.HasPrefix(fn.Name(), modulePathPrefix) {
			continue
		}
		mc.PC = pc
		break
	}
	if mc.PC == 0 && n > 0 {
		mc.PC = mc.PCs[0]
	}

	return mc
}
