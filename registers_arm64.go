//go:build arm64

package sigtrace

import "fmt"

func archTag() string { return "arm64-v8a" }

// adjustIP steps a walked return address back by one instruction so the
// recorded addresses match module-relative offsets observed by other
// tools.
func adjustIP(ip uintptr) uintptr { return ip - 4 }

// newRegisters builds the AArch64 register file in emission order:
// x0..x29, then lr (x30), sp, pc, pst and the fault address.
func newRegisters(x [30]uint64, lr, sp, pc, pstate, faultAddress uint64) *Registers {
	r := &Registers{}
	for i := 0; i < 30; i++ {
		r.quoted(fmt.Sprintf("x%d", i), x[i], 16)
	}
	r.quoted("lr", lr, 16)
	r.quoted("sp", sp, 16)
	r.quoted("pc", pc, 16)
	r.quoted("pst", pstate, 16)
	r.quoted("fault_address", faultAddress, 16)
	return r
}

// zeroRegisters is the zeroed register file used by on-demand dumps,
// where no thread was actually interrupted.
func zeroRegisters() *Registers {
	return newRegisters([30]uint64{}, 0, 0, 0, 0, 0)
}
