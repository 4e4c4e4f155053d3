//go:build 386

package sigtrace

func archTag() string { return "x86" }

func adjustIP(ip uintptr) uintptr { return ip }

// newRegisters builds the x86 register file in emission order.
func newRegisters(eax, ebx, ecx, edx, edi, esi, ebp, esp, eip, trapno, errorCode uint64) *Registers {
	r := &Registers{}
	r.quoted("eax", eax, 8)
	r.quoted("ebx", ebx, 8)
	r.quoted("ecx", ecx, 8)
	r.quoted("edx", edx, 8)
	r.quoted("edi", edi, 8)
	r.quoted("esi", esi, 8)
	r.quoted("ebp", ebp, 8)
	r.quoted("esp", esp, 8)
	r.quoted("eip", eip, 8)
	r.numeric("trapno", trapno)
	r.numeric("error_code", errorCode)
	return r
}

// zeroRegisters is the zeroed register file used by on-demand dumps,
// where no thread was actually interrupted.
func zeroRegisters() *Registers {
	return newRegisters(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
}
