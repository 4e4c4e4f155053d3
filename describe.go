package sigtrace

import "golang.org/x/sys/unix"

// Kernel si_code values for the observed signal set. The runtime keeps
// its own private copies of these; they are fixed by the Linux ABI.
const (
	ILL_ILLOPC = 1
	ILL_ILLOPN = 2
	ILL_ILLADR = 3
	ILL_ILLTRP = 4
	ILL_PRVOPC = 5
	ILL_PRVREG = 6
	ILL_COPROC = 7
	ILL_BADSTK = 8

	TRAP_BRKPT = 1
	TRAP_TRACE = 2

	SEGV_MAPERR = 1
	SEGV_ACCERR = 2

	FPE_INTDIV = 1
	FPE_INTOVF = 2
	FPE_FLTDIV = 3
	FPE_FLTOVF = 4
	FPE_FLTUND = 5
	FPE_FLTRES = 6
	FPE_FLTINV = 7
	FPE_FLTSUB = 8

	BUS_ADRALN = 1
	BUS_ADRERR = 2
	BUS_OBJERR = 3

	// SI_TKILL is reported as the code of any signal raised through
	// tkill/tgkill, e.g. the watchdog forwarding SIGQUIT.
	SI_TKILL = -6
)

func subcodeDescription(code int, defaultDescription string) string {
	if code == SI_TKILL {
		return "SIG_TKILL"
	}
	return defaultDescription
}

// describe translates a (signal, code) pair into a human-readable
// description. A code of codeUnknown returns the plain signal name.
//
// Signal descriptions:
// http://pubs.opengroup.org/onlinepubs/009696699/basedefs/signal.h.html
func describe(signo, code int) string {
	switch signo {
	case int(unix.SIGILL):
		switch code {
		case codeUnknown:
			return "SIGILL"
		case ILL_ILLOPC:
			return "Illegal opcode"
		case ILL_ILLOPN:
			return "Illegal operand"
		case ILL_ILLADR:
			return "Illegal addressing mode"
		case ILL_ILLTRP:
			return "Illegal trap"
		case ILL_PRVOPC:
			return "Privileged opcode"
		case ILL_PRVREG:
			return "Privileged register"
		case ILL_COPROC:
			return "Coprocessor error"
		case ILL_BADSTK:
			return "Internal stack error"
		default:
			return subcodeDescription(code, "Illegal operation")
		}
	case int(unix.SIGTRAP):
		switch code {
		case codeUnknown:
			return "SIGTRAP"
		case TRAP_BRKPT:
			return "Process breakpoint"
		case TRAP_TRACE:
			return "Process trace trap"
		default:
			return subcodeDescription(code, "Trap")
		}
	case int(unix.SIGABRT):
		switch code {
		case codeUnknown:
			return "SIGABRT"
		default:
			return subcodeDescription(code, "Process abort signal")
		}
	case int(unix.SIGSEGV):
		switch code {
		case codeUnknown:
			return "SIGSEGV"
		case SEGV_MAPERR:
			return "Address not mapped to object"
		case SEGV_ACCERR:
			return "Invalid permissions for mapped object"
		default:
			return subcodeDescription(code, "Segmentation violation")
		}
	case int(unix.SIGFPE):
		switch code {
		case codeUnknown:
			return "SIGFPE"
		case FPE_INTDIV:
			return "Integer divide by zero"
		case FPE_INTOVF:
			return "Integer overflow"
		case FPE_FLTDIV:
			return "Floating-point divide by zero"
		case FPE_FLTOVF:
			return "Floating-point overflow"
		case FPE_FLTUND:
			return "Floating-point underflow"
		case FPE_FLTRES:
			return "Floating-point inexact result"
		case FPE_FLTINV:
			return "Invalid floating-point operation"
		case FPE_FLTSUB:
			return "Subscript out of range"
		default:
			return subcodeDescription(code, "Floating-point")
		}
	case int(unix.SIGBUS):
		switch code {
		case codeUnknown:
			return "SIGBUS"
		case BUS_ADRALN:
			return "Invalid address alignment"
		case BUS_ADRERR:
			return "Nonexistent physical address"
		case BUS_OBJERR:
			return "Object-specific hardware error"
		default:
			return subcodeDescription(code, "Bus error")
		}
	case int(unix.SIGINT):
		switch code {
		case codeUnknown:
			return "SIGINT"
		default:
			return subcodeDescription(code, "Terminal interrupt signal")
		}
	case int(unix.SIGKILL):
		switch code {
		case codeUnknown:
			return "SIGKILL"
		default:
			return subcodeDescription(code, "Killed")
		}
	case int(unix.SIGQUIT):
		switch code {
		case codeUnknown:
			return "SIGQUIT"
		default:
			return subcodeDescription(code, "Terminal quit signal (ANR)")
		}
	default:
		return "UNKNOWN"
	}
}
