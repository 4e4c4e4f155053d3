//go:build linux

package sigtrace

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseMapsLine(t *testing.T) {
	m, ok := parseMapsLine("55f7e9a00000-55f7e9c00000 r-xp 00000000 103:05 2752617 /usr/bin/app")
	if !ok {
		t.Fatal("executable file mapping not parsed")
	}
	if m.path != "/usr/bin/app" {
		t.Errorf("path: got=%q", m.path)
	}
	if m.start != 0x55f7e9a00000 || m.end != 0x55f7e9c00000 {
		t.Errorf("range: got=%#x-%#x", m.start, m.end)
	}

	for _, line := range []string{
		"55f7e9a00000-55f7e9c00000 rw-p 00000000 103:05 2752617 /usr/bin/app", // not executable
		"7ffc0000-7ffd0000 rw-p 00000000 00:00 0 [stack]",                     // not a file
		"7ffc0000-7ffd0000 rw-p 00000000 00:00 0",                            // anonymous
		"garbage",
	} {
		if _, ok := parseMapsLine(line); ok {
			t.Errorf("line parsed as executable module: %q", line)
		}
	}
}

func TestResolveOwnFunction(t *testing.T) {
	pc := reflect.ValueOf(TestResolveOwnFunction).Pointer()
	frame := resolve(0, pc)

	if frame.Address != pc {
		t.Fatalf("address: want=%#x got=%#x", pc, frame.Address)
	}
	if !strings.Contains(frame.SymbolName, "TestResolveOwnFunction") {
		t.Errorf("symbol: got=%q", frame.SymbolName)
	}
	if frame.SymbolAddr == 0 {
		t.Fatal("nearest-symbol address not resolved")
	}
	if frame.SymbolAddr > pc {
		t.Errorf("symbol address beyond target: sym=%#x addr=%#x", frame.SymbolAddr, pc)
	}
	if frame.SymbolOffset != pc-frame.SymbolAddr {
		t.Errorf("symbol offset: want=%d got=%d", pc-frame.SymbolAddr, frame.SymbolOffset)
	}

	// With a resolved module, the base never exceeds the address and
	// the program counter is module-relative.
	if frame.ModulePath != "" {
		if frame.ModuleBase > frame.Address {
			t.Errorf("module base beyond address: base=%#x addr=%#x", frame.ModuleBase, frame.Address)
		}
		if frame.PC != frame.Address-frame.ModuleBase {
			t.Errorf("pc: want=%#x got=%#x", frame.Address-frame.ModuleBase, frame.PC)
		}
	}
}

func TestResolveUnmappedAddress(t *testing.T) {
	frame := resolve(7, 0x1)
	if frame.Index != 7 {
		t.Errorf("index: want=7 got=%d", frame.Index)
	}
	if frame.ModulePath != "" || frame.SymbolName != "" {
		t.Errorf("unmapped address resolved: module=%q symbol=%q", frame.ModulePath, frame.SymbolName)
	}
}
