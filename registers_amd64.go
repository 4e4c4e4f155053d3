//go:build amd64

package sigtrace

import "fmt"

// ngreg is the size of the general-register array in the x86_64 machine
// context.
const ngreg = 23

func archTag() string { return "x86_64" }

func adjustIP(ip uintptr) uintptr { return ip }

// newRegisters builds the x86_64 register file in emission order:
// the raw general-register array, then rip, rsp, trapno and error_code.
func newRegisters(gregs [ngreg]uint64, rip, rsp, trapno, errorCode uint64) *Registers {
	r := &Registers{}
	for i := 0; i < ngreg; i++ {
		r.quoted(fmt.Sprintf("r%d", i), gregs[i], 16)
	}
	r.quoted("rip", rip, 16)
	r.quoted("rsp", rsp, 16)
	r.numeric("trapno", trapno)
	r.numeric("error_code", errorCode)
	return r
}

// zeroRegisters is the zeroed register file used by on-demand dumps,
// where no thread was actually interrupted.
func zeroRegisters() *Registers {
	return newRegisters([ngreg]uint64{}, 0, 0, 0, 0)
}
