package arch

import "encoding/binary"

const (
	PowerPCPC  = 64
	PowerPCMSR = 65
	PowerPCCR  = 66
	PowerPCLR  = 67
	PowerPCCTR = 68
	PowerPCXER = 69
)

// PowerPC is a 32bit big endian PowerPC core. No feature sets are
// advertised, gdb falls back to the builtin powerpc:common layout where
// the floating point registers occupy indices 32 to 63.
var PowerPC = &Architecture{
	Name:            "powerpc",
	GDBArchitecture: "powerpc:common",
	ByteOrder:       binary.BigEndian,
	CoreRegisters: append(gprs("r", 0, 31, 32, "general"),
		RegisterDescriptor{Index: PowerPCPC, Name: "pc", BitSize: 32, Type: CodePointer, Group: "general"},
		RegisterDescriptor{Index: PowerPCMSR, Name: "msr", BitSize: 32, Group: "system"},
		RegisterDescriptor{Index: PowerPCCR, Name: "cr", BitSize: 32, Group: "general"},
		RegisterDescriptor{Index: PowerPCLR, Name: "lr", BitSize: 32, Type: CodePointer, Group: "general"},
		RegisterDescriptor{Index: PowerPCCTR, Name: "ctr", BitSize: 32, Group: "general"},
		RegisterDescriptor{Index: PowerPCXER, Name: "xer", BitSize: 32, Group: "general"},
	),
	PC:              PowerPCPC,
	SP:              1,
	InstructionSize: 4,
}

func init() {
	register(PowerPC, "ppc", "ppc32")
}
