//go:build amd64

package sigtrace

import (
	"testing"
)

func TestRegisterFileKeys(t *testing.T) {
	regs := zeroRegisters()
	names := regs.Names()

	want := []string{"r0", "r22", "rip", "rsp", "trapno", "error_code"}
	for _, name := range want {
		found := false
		for _, got := range names {
			if got == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("register file is missing %q", name)
		}
	}
	if len(names) != ngreg+4 {
		t.Errorf("register count: want=%d got=%d", ngreg+4, len(names))
	}
}

func TestAdjustIPIsIdentity(t *testing.T) {
	if got := adjustIP(0x1234); got != 0x1234 {
		t.Errorf("adjustIP changed the address on x86_64: got=%#x", got)
	}
}

func TestArchTag(t *testing.T) {
	if Arch() != "x86_64" {
		t.Errorf("arch tag: got=%q", Arch())
	}
}
