//go:build arm

package sigtrace

import "fmt"

func archTag() string { return "armabi-v7a" }

// adjustIP clears the Thumb bit so recorded addresses align with module
// offsets.
func adjustIP(ip uintptr) uintptr { return ip &^ 1 }

// newRegisters builds the 32-bit ARM register file in emission order:
// r0..r10, fp, ip, sp, lr, pc, cpsr, then the trap metadata.
func newRegisters(r0to10 [11]uint64, fp, ip, sp, lr, pc, cpsr, trapno, errorCode, faultAddress uint64) *Registers {
	r := &Registers{}
	for i := 0; i < 11; i++ {
		r.quoted(fmt.Sprintf("r%d", i), r0to10[i], 8)
	}
	r.quoted("fp", fp, 8)
	r.quoted("ip", ip, 8)
	r.quoted("sp", sp, 8)
	r.quoted("lr", lr, 8)
	r.quoted("pc", pc, 8)
	r.quoted("cpsr", cpsr, 8)
	r.numeric("trapno", trapno)
	r.numeric("error_code", errorCode)
	r.quoted("fault_address", faultAddress, 8)
	return r
}

// zeroRegisters is the zeroed register file used by on-demand dumps,
// where no thread was actually interrupted.
func zeroRegisters() *Registers {
	return newRegisters([11]uint64{}, 0, 0, 0, 0, 0, 0, 0, 0, 0)
}
