package arch

import "encoding/binary"

const (
	CortexMSP        = 13
	CortexMLR        = 14
	CortexMPC        = 15
	CortexMXPSR      = 25
	CortexMMSP       = 26
	CortexMPSP       = 27
	CortexMPRIMASK   = 28
	CortexMBASEPRI   = 29
	CortexMFAULTMASK = 20
	CortexMCONTROL   = 32
)

func cortexMCore() []RegisterDescriptor {
	r := gprs("r", 0, 12, 32, "general")
	return append(r,
		RegisterDescriptor{Index: CortexMSP, Name: "sp", BitSize: 32, Type: DataPointer, Group: "general"},
		RegisterDescriptor{Index: CortexMLR, Name: "lr", BitSize: 32, Group: "general"},
		RegisterDescriptor{Index: CortexMPC, Name: "pc", BitSize: 32, Type: CodePointer, Group: "general"},
		RegisterDescriptor{Index: CortexMXPSR, Name: "xpsr", BitSize: 32, Group: "general"},
	)
}

// CortexM is the ARMv6-M/ARMv7-M profile. Its system registers are only
// described by the m-system feature, faultmask is numbered below the
// other system registers.
var CortexM = &Architecture{
	Name:            "cortex-m",
	GDBArchitecture: "arm",
	ByteOrder:       binary.LittleEndian,
	CoreRegisters:   cortexMCore(),
	Features: []FeatureSet{
		{Name: "org.gnu.gdb.arm.m-profile", Registers: cortexMCore()},
		{Name: "org.gnu.gdb.arm.m-system", Registers: []RegisterDescriptor{
			{Index: CortexMMSP, Name: "msp", BitSize: 32, Type: DataPointer, Group: "system"},
			{Index: CortexMPSP, Name: "psp", BitSize: 32, Type: DataPointer, Group: "system"},
			{Index: CortexMPRIMASK, Name: "primask", BitSize: 32, Group: "system"},
			{Index: CortexMBASEPRI, Name: "basepri", BitSize: 32, Group: "system"},
			{Index: CortexMFAULTMASK, Name: "faultmask", BitSize: 32, Group: "system"},
			{Index: CortexMCONTROL, Name: "control", BitSize: 32, Group: "system"},
		}},
	},
	PC:              CortexMPC,
	SP:              CortexMSP,
	InstructionSize: 2,
}

func init() {
	register(CortexM, "arm-m", "cortexm", "armv7m")
}
