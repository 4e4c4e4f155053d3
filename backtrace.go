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

const (
	// backtraceFramesMax bounds the number of instruction pointers
	// recorded for a single capture.
	backtraceFramesMax = 100

	// backtraceThreadsMax bounds the number of threads enumerated from
	// the task directory for a single capture.
	backtraceThreadsMax = 100

	// backtraceSizeMax bounds the serialized report document.
	backtraceSizeMax = 0x100000
)

// SignalInfo describes the delivered signal: number, kernel code, and the
// faulting address when the kernel reported one. A Code of codeUnknown
// means the origin of the signal could not be determined.
type SignalInfo struct {
	Signo     int
	Code      int
	FaultAddr uintptr
}

// codeUnknown is the sentinel signal code used when no siginfo was
// available for a delivery; describe maps it to the plain signal name.
const codeUnknown = -1

// MachineContext is the captured state of the interrupted thread. PCs
// holds the frames observed by the platform unwinder, innermost first.
// Regs is nil when the register file was not captured; the emitter omits
// the registers section in that case.
type MachineContext struct {
	PC   uintptr
	PCs  []uintptr
	Regs *Registers
}

// BacktraceState is the per-capture scratch holding unwound instruction
// pointers and their accounting. It is a fixed-size value embedded in
// the Backtrace built for each capture; nothing on the capture path
// grows it.
type BacktraceState struct {
	frames        [backtraceFramesMax]uintptr
	frameCnt      int
	skippedFrames int
	crashIP       uintptr

	context *MachineContext // borrowed; nil on the terminate path
	siginfo *SignalInfo     // borrowed; nil on the terminate path
}

// Frames returns the recorded instruction pointers, innermost first.
func (s *BacktraceState) Frames() []uintptr {
	return s.frames[:s.frameCnt]
}

// Skipped returns the count of frames the walk observed but did not
// store: nulls, duplicates, and trampoline frames above the crash IP.
func (s *BacktraceState) Skipped() int {
	return s.skippedFrames
}

// StackFrame is the resolved address data for a single calling frame.
type StackFrame struct {
	Index        int     // 0-based index of this frame in the stack, top down
	Address      uintptr // instruction pointer value
	PC           uintptr // program counter relative to the module base
	ModulePath   string  // path of the object containing Address
	SymbolName   string  // name of the symbol whose definition overlaps Address
	ModuleBase   uintptr // base address of the containing object
	SymbolAddr   uintptr // address of the nearest symbol
	SymbolOffset uintptr // offset from the nearest symbol
}

// ThreadInfo is the state of one thread in the process at capture time,
// as reported by the task directory.
type ThreadInfo struct {
	TID       int
	Name      string // at most 31 bytes, as reported by procfs
	State     string // RUNNING, SLEEPING, ZOMBIE, STOPPED, DEAD, WAKING, WAKE KILL, PARKED, unknown
	Priority  int
	StackBase uintptr
	Crashed   bool // true iff TID is the handler's calling thread

	Backtrace *BacktraceState // nil for non-faulting threads
}

// Backtrace is the top-level captured document: the faulting thread's
// state plus process identity and the per-thread inventory.
type Backtrace struct {
	State BacktraceState

	Description string
	Timestamp   int64
	Arch        string
	PID         int
	PPID        int
	UID         int
	SessionID   string
	BuildID     string

	Threads []ThreadInfo
}
