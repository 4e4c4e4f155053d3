package sigtrace

// Registers is an ordered, architecture-tagged register file. Values
// carry their own formatting so the emitter stays architecture-blind:
// quoted registers render as fixed-width hex strings, numeric ones as
// plain integers.
type Registers struct {
	regs []register
}

type register struct {
	name    string
	value   uint64
	numeric bool
	width   int
}

func (r *Registers) quoted(name string, value uint64, width int) *Registers {
	r.regs = append(r.regs, register{name: name, value: value, width: width})
	return r
}

func (r *Registers) numeric(name string, value uint64) *Registers {
	r.regs = append(r.regs, register{name: name, value: value, numeric: true})
	return r
}

// Names returns the register names in emission order.
func (r *Registers) Names() []string {
	names := make([]string, len(r.regs))
	for i, reg := range r.regs {
		names[i] = reg.name
	}
	return names
}
