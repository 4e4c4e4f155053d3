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
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigAction is the handler form invoked on delivery of an observed
// signal. info and mc are nil when the chained-from disposition did not
// request them.
type sigAction func(signo int, info *SignalInfo, mc *MachineContext)

// sigDisposition is the library's rendition of the sigaction triple: the
// installed action, whether it wants siginfo/context, and whether the
// signal is ignored. The zero value is the default disposition.
type sigDisposition struct {
	action  sigAction
	siginfo bool
	ignore  bool
	flags   int
}

const (
	// saOnstack requests delivery on the alternate signal stack.
	saOnstack = 0x08000000

	// sigmask manipulation selectors, fixed by the Linux ABI.
	sigBlock   = 0
	sigUnblock = 1
)

func (d *sigDisposition) isDefault() bool {
	return d.action == nil && !d.ignore
}

// sigStack owns the alternate signal stack memory until shutdown.
type sigStack struct {
	mem []byte
}

// stackT mirrors the kernel's stack_t for the sigaltstack syscall. The
// compiler's natural alignment of ssSize reproduces the ABI padding on
// both 32- and 64-bit targets.
type stackT struct {
	ssSp    unsafe.Pointer
	ssFlags int32
	ssSize  uintptr
}

// setSigstack allocates a zero-initialized alternate signal stack of the
// given size and installs it for the current thread. The returned
// descriptor keeps the mapping alive so shutdown can release it.
func setSigstack(size int) (*sigStack, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocating %d-byte signal stack: %w", size, err)
	}

	ss := stackT{
		ssSp:   unsafe.Pointer(&mem[0]),
		ssSize: uintptr(size),
	}
	if _, _, errno := unix.Syscall(unix.SYS_SIGALTSTACK, uintptr(unsafe.Pointer(&ss)), 0, 0); errno != 0 {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("installing signal stack: %w", errno)
	}

	return &sigStack{mem: mem}, nil
}

// release unmaps the alternate stack memory.
func (s *sigStack) release() {
	if s == nil || s.mem == nil {
		return
	}
	size := len(s.mem)
	if err := unix.Munmap(s.mem); err != nil {
		logger.Error().Err(err).Msg("releasing signal stack")
		return
	}
	s.mem = nil
	logger.Info().Int("bytes", size).Msg("handler signal stack freed")
}

func sigmaskFor(signo int) *unix.Sigset_t {
	var set unix.Sigset_t
	set.Val[(signo-1)/64] |= 1 << (uint(signo-1) % 64)
	return &set
}

// blockSignal adds signo to the current thread's signal mask. The caller
// is expected to hold its OS thread.
func blockSignal(signo int) bool {
	if err := unix.PthreadSigmask(sigBlock, sigmaskFor(signo), nil); err != nil {
		logger.Error().Err(err).Int("signo", signo).Msg("could not block signal")
		return false
	}
	return true
}

// unblockSignal removes signo from the current thread's signal mask.
func unblockSignal(signo int) bool {
	if err := unix.PthreadSigmask(sigUnblock, sigmaskFor(signo), nil); err != nil {
		logger.Error().Err(err).Int("signo", signo).Msg("could not unblock signal")
		return false
	}
	return true
}

// setThreadName names the calling OS thread; the kernel truncates to 15
// bytes plus the terminating NUL.
func setThreadName(name string) error {
	b := make([]byte, 16)
	copy(b, name)
	b[15] = 0
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}

// dispatch owns signal delivery for every installed disposition. A
// single goroutine drains the notify channel and routes each signal to
// the action installed at that moment.
var dispatch = struct {
	mu        sync.Mutex
	ch        chan os.Signal
	installed map[int]*sigDisposition
	started   bool
}{
	installed: make(map[int]*sigDisposition),
}

func dispatchLoop(ch chan os.Signal) {
	for sig := range ch {
		signo, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}

		dispatch.mu.Lock()
		d := dispatch.installed[int(signo)]
		dispatch.mu.Unlock()

		if d == nil || d.action == nil {
			continue
		}
		d.action(int(signo), &SignalInfo{Signo: int(signo), Code: codeUnknown}, captureContext(1))
	}
}

// installHandler installs action for signo with SA_SIGINFO|flags
// semantics, saving the previous disposition into prev. Returns false
// when installation failed.
func installHandler(signo int, action sigAction, prev *sigDisposition, flags int) bool {
	if action == nil || prev == nil {
		return false
	}

	dispatch.mu.Lock()
	defer dispatch.mu.Unlock()

	if cur := dispatch.installed[signo]; cur != nil {
		*prev = *cur
	} else {
		*prev = sigDisposition{}
	}

	dispatch.installed[signo] = &sigDisposition{
		action:  action,
		siginfo: true,
		flags:   flags,
	}

	if !dispatch.started {
		dispatch.ch = make(chan os.Signal, 16)
		go dispatchLoop(dispatch.ch)
		dispatch.started = true
	}
	signal.Notify(dispatch.ch, syscall.Signal(signo))

	return true
}

// uninstallHandler restores the previously captured disposition for
// signo. The previous slot is left intact so a later shutdown can
// restore it again.
func uninstallHandler(signo int, prev *sigDisposition) bool {
	if prev == nil {
		return false
	}

	dispatch.mu.Lock()
	defer dispatch.mu.Unlock()

	switch {
	case prev.action != nil:
		restored := *prev
		dispatch.installed[signo] = &restored
	case prev.ignore:
		delete(dispatch.installed, signo)
		signal.Ignore(syscall.Signal(signo))
	default:
		delete(dispatch.installed, signo)
		signal.Reset(syscall.Signal(signo))
	}

	return true
}

// raiseFn delivers a signal to the whole process; a variable so tests
// can observe re-raises without dying.
var raiseFn = func(signo int) {
	_ = unix.Kill(os.Getpid(), syscall.Signal(signo))
}

// invokeSigaction applies a previously recorded disposition: call the
// action when it wants siginfo, re-raise for the default disposition,
// call through for a custom non-ignoring handler, else do nothing. The
// process is expected to die inside the default path for fatal signals.
func invokeSigaction(signo int, d *sigDisposition, info *SignalInfo, mc *MachineContext) {
	switch {
	case d.siginfo && d.action != nil:
		logger.Debug().Int("signo", signo).Msg("calling previous sigaction with siginfo")
		d.action(signo, info, mc)
	case d.isDefault():
		logger.Debug().Int("signo", signo).Msg("calling default handler")
		dispatch.mu.Lock()
		delete(dispatch.installed, signo)
		dispatch.mu.Unlock()
		signal.Reset(syscall.Signal(signo))
		raiseFn(signo)
	case !d.ignore && d.action != nil:
		logger.Debug().Int("signo", signo).Msg("calling previous handler")
		d.action(signo, nil, nil)
	}
}
