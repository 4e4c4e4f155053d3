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

package sigtrace

import (
	"runtime"
)

// resolve transforms one walked address into a StackFrame: the owning
// module path and base from the loaded-module table, the nearest symbol
// name and entry from the runtime symbol table. PC is the address minus
// the module base for any resolved mapping, and stays zero when the
// address resolves to no mapping.
func resolve(index int, address uintptr) StackFrame {
	frame := StackFrame{
		Index:   index,
		Address: address,
	}

	if fn := runtime.FuncForPC(address); fn != nil {
		// Symbol names in the runtime table are already in their
		// readable form; nothing to demangle.
		frame.SymbolName = fn.Name()
		frame.SymbolAddr = fn.Entry()
		if frame.SymbolAddr != 0 {
			frame.SymbolOffset = address - frame.SymbolAddr
		}
	}

	if m, ok := modules.lookup(address); ok {
		frame.ModulePath = m.path
		frame.ModuleBase = m.base
		frame.PC = address - m.base
	}

	return frame
}
