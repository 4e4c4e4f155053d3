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
	"strings"
)

// The emitter composes the report document from nested element and array
// fragments. Fragments are built with the apostrophe as the working
// quote; emitBacktrace translates every apostrophe to a double quote as
// its final pass, which yields machine-parseable JSON without having to
// escape quotes while formatting.

// emitF appends a formatted string to the fragment.
func emitF(sb *strings.Builder, format string, args ...any) {
	fmt.Fprintf(sb, format, args...)
}

// emitElement appends 'name':{...} to the fragment, joining the
// non-empty parts with commas. An empty name emits a bare object.
func emitElement(sb *strings.Builder, name string, parts ...string) {
	if name != "" {
		emitF(sb, "'%s':", name)
	}
	sb.WriteByte('{')
	first := true
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		sb.WriteString(part)
		first = false
	}
	sb.WriteByte('}')
}

// emitArray appends 'name':[...] to the fragment, joining the non-empty
// items with commas.
func emitArray(sb *strings.Builder, name string, items ...string) {
	if name != "" {
		emitF(sb, "'%s':", name)
	}
	sb.WriteByte('[')
	first := true
	for _, item := range items {
		if item == "" {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		sb.WriteString(item)
		first = false
	}
	sb.WriteByte(']')
}

// frameToString renders the one-line form of a frame:
// "#NN pc HEXPC MODULE (SYMBOL+OFFSET)".
func frameToString(frame *StackFrame) string {
	var sb strings.Builder
	emitF(&sb, "#%02d pc %016x %s", frame.Index, frame.PC, frame.ModulePath)
	if frame.SymbolName != "" {
		emitF(&sb, " (%s+%d)", frame.SymbolName, frame.SymbolOffset)
	}
	return sb.String()
}

func emitStackFrame(frame *StackFrame) string {
	var body strings.Builder
	emitF(&body, "'cstr':'%s',", frameToString(frame))
	emitF(&body, "'index':%d,", frame.Index)
	emitF(&body, "'address':%d,", frame.Address)
	emitF(&body, "'pc':%d,", frame.PC)
	emitF(&body, "'so_base':%d,", frame.ModuleBase)
	emitF(&body, "'sym_addr':%d,", frame.SymbolAddr)
	emitF(&body, "'sym_addr_offset':%d", frame.SymbolOffset)
	if frame.ModulePath != "" {
		emitF(&body, ",'so_path':'%s'", frame.ModulePath)
	}
	if frame.SymbolName != "" {
		emitF(&body, ",'sym_name':'%s'", frame.SymbolName)
	}

	var sb strings.Builder
	emitElement(&sb, "", body.String())
	return sb.String()
}

// emitSignalContext renders the exception object. The signalInfo
// sub-object is only present when the capture carried signal state.
func emitSignalContext(siginfo *SignalInfo) string {
	var exc strings.Builder
	emitF(&exc, "'name':'%s',", "Native exception")
	if siginfo != nil {
		emitF(&exc, "'cause':'%s',", describe(siginfo.Signo, siginfo.Code))

		var info strings.Builder
		emitF(&info, "'signalName':'%s',", describe(siginfo.Signo, codeUnknown))
		emitF(&info, "'signalCode':%d,", siginfo.Code)
		emitF(&info, "'faultAddress':%d", siginfo.FaultAddr)

		emitElement(&exc, "signalInfo", info.String())
	}

	var sb strings.Builder
	emitElement(&sb, "exception", strings.TrimSuffix(exc.String(), ","))
	return sb.String()
}

// emitRegisters renders the architecture-appropriate register file, or
// nothing when the context carries no registers.
func emitRegisters(mc *MachineContext) string {
	if mc == nil || mc.Regs == nil {
		return ""
	}

	var regs strings.Builder
	for i, reg := range mc.Regs.regs {
		if i > 0 {
			regs.WriteByte(',')
		}
		if reg.numeric {
			emitF(&regs, "'%s':%d", reg.name, reg.value)
		} else {
			emitF(&regs, "'%s':'%0*x'", reg.name, reg.width, reg.value)
		}
	}

	var sb strings.Builder
	emitElement(&sb, "registers", regs.String())
	return sb.String()
}

// emitIdentity renders the process identity scalars.
func emitIdentity(bt *Backtrace) string {
	nameBuf := make([]byte, 1024)

	var sb strings.Builder
	emitF(&sb, "'name':'%s',", processName(bt.PID, nameBuf))
	emitF(&sb, "'description':'%s',", bt.Description)
	emitF(&sb, "'timestamp':%d,", bt.Timestamp)
	emitF(&sb, "'abi':'%s',", bt.Arch)
	emitF(&sb, "'pid':%d,", bt.PID)
	emitF(&sb, "'ppid':%d,", bt.PPID)
	emitF(&sb, "'uid':%d,", bt.UID)
	emitF(&sb, "'buildid':'%s',", bt.BuildID)
	emitF(&sb, "'sessionid':'%s',", bt.SessionID)
	emitF(&sb, "'platform':'%s'", "linux")
	return sb.String()
}

// emitCallstack renders the stack array for one thread, resolving each
// recorded address as it goes. A nil state emits an empty array.
func emitCallstack(state *BacktraceState) string {
	var frames []string
	if state != nil {
		frames = make([]string, 0, state.frameCnt)
		for i := 0; i < state.frameCnt; i++ {
			frame := resolve(i, state.frames[i])
			frames = append(frames, emitStackFrame(&frame))
		}
	}

	var sb strings.Builder
	emitArray(&sb, "stack", frames...)
	return sb.String()
}

func emitThreadInfo(thread *ThreadInfo) string {
	var body strings.Builder
	emitF(&body, "'threadNumber':%d,", thread.TID)
	emitF(&body, "'threadId':'%s',", thread.Name)
	emitF(&body, "'state':'%s',", thread.State)
	emitF(&body, "'priority':%d,", thread.Priority)
	emitF(&body, "'crashed':%t,", thread.Crashed)
	body.WriteString(emitCallstack(thread.Backtrace))

	var sb strings.Builder
	emitElement(&sb, "", body.String())
	return sb.String()
}

func emitThreadState(bt *Backtrace) string {
	threads := make([]string, 0, len(bt.Threads))
	for i := range bt.Threads {
		threads = append(threads, emitThreadInfo(&bt.Threads[i]))
	}

	var sb strings.Builder
	emitArray(&sb, "threads", threads...)
	return sb.String()
}

// emitBacktrace serializes the full report into buf, truncating at
// len(buf)-1 and NUL-terminating. It returns the document length and
// whether the document was truncated to fit.
func emitBacktrace(bt *Backtrace, buf []byte) (n int, truncated bool) {
	var sb strings.Builder
	sb.WriteByte('{')
	emitElement(&sb, "backtrace",
		emitIdentity(bt),
		emitSignalContext(bt.State.siginfo),
		emitRegisters(bt.State.context),
		emitThreadState(bt),
	)
	sb.WriteByte('}')

	doc := sb.String()
	n = len(doc)
	if max := len(buf) - 1; n > max {
		n = max
		truncated = true
	}
	copy(buf, doc[:n])
	buf[n] = 0

	// Translate the working quotes so the document parses as JSON.
	for i := 0; i < n; i++ {
		if buf[i] == '\'' {
			buf[i] = '"'
		}
	}

	return n, truncated
}
