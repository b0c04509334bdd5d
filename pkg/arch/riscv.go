package arch

import (
	"encoding/binary"
	"fmt"
)

const (
	RISCVSP      = 2
	RISCVPC      = 32
	RISCVMSTATUS = 0x41 + 0x300
	RISCVMTVEC   = 0x41 + 0x305
	RISCVMEPC    = 0x41 + 0x341
	RISCVMCAUSE  = 0x41 + 0x342
)

func riscvCore() []RegisterDescriptor {
	r := make([]RegisterDescriptor, 0, 33)
	for i := uint32(0); i < 32; i++ {
		d := RegisterDescriptor{Index: i, Name: fmt.Sprintf("x%d", i), BitSize: 32, Group: "general"}
		switch i {
		case 1:
			d.Type = CodePointer
		case RISCVSP:
			d.Type = DataPointer
		}
		r = append(r, d)
	}
	return append(r, RegisterDescriptor{Index: RISCVPC, Name: "pc", BitSize: 32, Type: CodePointer, Group: "general"})
}

// RISCV32 is a 32bit RISC-V core. The CSR indices follow the gdb
// convention of numbering CSRs from 65 (the csr number plus 0x41).
var RISCV32 = &Architecture{
	Name:            "riscv32",
	GDBArchitecture: "riscv:rv32",
	ByteOrder:       binary.LittleEndian,
	CoreRegisters:   riscvCore(),
	Features: []FeatureSet{
		{Name: "org.gnu.gdb.riscv.cpu", Registers: riscvCore()},
		{Name: "org.gnu.gdb.riscv.csr", Registers: []RegisterDescriptor{
			{Index: RISCVMSTATUS, Name: "mstatus", BitSize: 32, Group: "csr"},
			{Index: RISCVMTVEC, Name: "mtvec", BitSize: 32, Type: CodePointer, Group: "csr"},
			{Index: RISCVMEPC, Name: "mepc", BitSize: 32, Type: CodePointer, Group: "csr"},
			{Index: RISCVMCAUSE, Name: "mcause", BitSize: 32, Group: "csr"},
		}},
	},
	PC:              RISCVPC,
	SP:              RISCVSP,
	InstructionSize: 4,
}

func init() {
	register(RISCV32, "riscv", "rv32")
}
