//go:build linux

package sigtrace

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func testBacktrace(t *testing.T) *Backtrace {
	t.Helper()

	bt := &Backtrace{
		Description: describe(int(unix.SIGSEGV), SEGV_MAPERR),
		Timestamp:   1700000000,
		Arch:        archTag(),
		PID:         os.Getpid(),
		PPID:        os.Getppid(),
		UID:         os.Getuid(),
		SessionID:   "session-1",
		BuildID:     "build-1",
	}
	bt.State.siginfo = &SignalInfo{
		Signo:     int(unix.SIGSEGV),
		Code:      SEGV_MAPERR,
		FaultAddr: 0xdeadbeef,
	}

	regs := &Registers{}
	regs.quoted("pc", 0x7f00deadbeef, 16)
	regs.quoted("sp", 0x7ffc00001000, 16)
	regs.numeric("trapno", 14)
	bt.State.context = &MachineContext{PC: 0x1000, Regs: regs}

	for _, ip := range []uintptr{0x1000, 0x2000, 0x3000} {
		recordFrame(ip, &bt.State)
	}

	bt.Threads = []ThreadInfo{
		{TID: 100, Name: "main", State: "RUNNING", Priority: 20, Crashed: true, Backtrace: &bt.State},
		{TID: 101, Name: "worker", State: "SLEEPING", Priority: 20},
	}
	return bt
}

func TestEmitBacktraceIsValidJSON(t *testing.T) {
	bt := testBacktrace(t)
	buf := make([]byte, backtraceSizeMax)

	n, truncated := emitBacktrace(bt, buf)
	require.False(t, truncated)
	require.Greater(t, n, 0)
	require.Equal(t, byte(0), buf[n])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf[:n], &doc), "document does not parse: %s", buf[:n])
	require.Contains(t, doc, "backtrace")
}

func TestEmitBacktraceRoundTrip(t *testing.T) {
	bt := testBacktrace(t)
	buf := make([]byte, backtraceSizeMax)
	n, _ := emitBacktrace(bt, buf)

	report, err := ParseReport(bytes.NewReader(buf[:n]))
	require.NoError(t, err)

	assert.Equal(t, bt.PID, report.Backtrace.Pid)
	assert.Equal(t, bt.PPID, report.Backtrace.Ppid)
	assert.Equal(t, bt.UID, report.Backtrace.Uid)
	assert.Equal(t, "session-1", report.Backtrace.SessionID)
	assert.Equal(t, "build-1", report.Backtrace.BuildID)
	assert.Equal(t, archTag(), report.Backtrace.Abi)
	assert.Equal(t, int64(1700000000), report.Backtrace.Timestamp)

	assert.Equal(t, "Native exception", report.Backtrace.Exception.Name)
	assert.Equal(t, "Address not mapped to object", report.Backtrace.Exception.Cause)
	assert.Equal(t, "SIGSEGV", report.Backtrace.Exception.SignalInfo.SignalName)
	assert.Equal(t, SEGV_MAPERR, report.Backtrace.Exception.SignalInfo.SignalCode)
	assert.Equal(t, uint64(0xdeadbeef), report.Backtrace.Exception.SignalInfo.FaultAddress)

	require.Len(t, report.Backtrace.Threads, 2)

	crashed := 0
	for _, thread := range report.Backtrace.Threads {
		if thread.Crashed {
			crashed++
			require.Len(t, thread.Stack, 3)
			assert.Equal(t, uint64(0x1000), thread.Stack[0].Address)
			assert.Equal(t, uint64(0x2000), thread.Stack[1].Address)
			assert.Equal(t, uint64(0x3000), thread.Stack[2].Address)
			for i, frame := range thread.Stack {
				assert.Equal(t, i, frame.Index)
			}
		} else {
			assert.Empty(t, thread.Stack)
		}
	}
	assert.Equal(t, 1, crashed, "exactly one thread must be crashed")
}

func TestEmitBacktraceRegisterKeys(t *testing.T) {
	bt := testBacktrace(t)
	buf := make([]byte, backtraceSizeMax)
	n, _ := emitBacktrace(bt, buf)

	report, err := ParseReport(bytes.NewReader(buf[:n]))
	require.NoError(t, err)

	require.Contains(t, report.Backtrace.Registers, "pc")
	require.Contains(t, report.Backtrace.Registers, "sp")
	require.Contains(t, report.Backtrace.Registers, "trapno")
	assert.Equal(t, `"00007f00deadbeef"`, string(report.Backtrace.Registers["pc"]))
	assert.Equal(t, `14`, string(report.Backtrace.Registers["trapno"]))
}

func TestEmitBacktraceWithoutContext(t *testing.T) {
	// The terminate path has neither machine context nor signal state;
	// the document must still serialize.
	bt := &Backtrace{
		Timestamp: 1700000000,
		Arch:      archTag(),
		PID:       os.Getpid(),
	}
	bt.Threads = []ThreadInfo{{TID: 1, Name: "main", State: "RUNNING", Crashed: true}}

	buf := make([]byte, backtraceSizeMax)
	n, truncated := emitBacktrace(bt, buf)
	require.False(t, truncated)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf[:n], &doc))

	inner := doc["backtrace"].(map[string]any)
	assert.NotContains(t, inner, "registers")

	exception := inner["exception"].(map[string]any)
	assert.Equal(t, "Native exception", exception["name"])
	assert.NotContains(t, exception, "signalInfo")

	threads := inner["threads"].([]any)
	require.Len(t, threads, 1)
	stack, ok := threads[0].(map[string]any)["stack"]
	require.True(t, ok, "stack key must be present even with no frames")
	assert.Empty(t, stack)
}

func TestEmitBacktraceTruncates(t *testing.T) {
	bt := testBacktrace(t)
	buf := make([]byte, 128)

	n, truncated := emitBacktrace(bt, buf)
	assert.True(t, truncated)
	assert.Equal(t, len(buf)-1, n)
	assert.Equal(t, byte(0), buf[n])
}

func TestFrameToString(t *testing.T) {
	frame := &StackFrame{
		Index:        3,
		PC:           0xbeef,
		ModulePath:   "/usr/lib/libapp.so",
		SymbolName:   "handleRequest",
		SymbolOffset: 64,
	}
	got := frameToString(frame)
	want := "#03 pc 000000000000beef /usr/lib/libapp.so (handleRequest+64)"
	assert.Equal(t, want, got)

	frame.SymbolName = ""
	got = frameToString(frame)
	assert.False(t, strings.Contains(got, "("), "symbol suffix must be omitted: %q", got)
}
