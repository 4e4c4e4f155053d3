//go:build arm64

package sigtrace

import (
	"testing"
)

func TestRegisterFileKeys(t *testing.T) {
	regs := zeroRegisters()
	names := regs.Names()

	want := []string{"x0", "x29", "lr", "sp", "pc", "pst", "fault_address"}
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
	if len(names) != 35 {
		t.Errorf("register count: want=35 got=%d", len(names))
	}
}

func TestAdjustIPStepsBackOneInstruction(t *testing.T) {
	if got := adjustIP(0x1234); got != 0x1230 {
		t.Errorf("adjustIP: want=%#x got=%#x", 0x1230, got)
	}
}

func TestArchTag(t *testing.T) {
	if Arch() != "arm64-v8a" {
		t.Errorf("arch tag: got=%q", Arch())
	}
}
