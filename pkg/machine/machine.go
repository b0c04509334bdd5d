// Package machine defines the contracts between the debug stub and the
// emulated machine. The stub never owns a core, it borrows access to it
// through these interfaces.
package machine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hwemu/gdbstub/pkg/arch"
)

// Machine is an emulated machine with one or more cores.
type Machine interface {
	// Cores returns the cores of the machine, in a stable order.
	Cores() []Core
}

// Core is a single emulated processor.
//
// Every method except Guard, Halt and SetHaltListener touches state that
// is also modified by the execution thread of the core and must only be
// called while holding the lock returned by Guard.
type Core interface {
	Name() string
	Architecture() *arch.Architecture

	// ReadRegister returns the value of a register, least significant
	// byte first.
	ReadRegister(index uint32) ([]byte, error)
	WriteRegister(index uint32, value []byte) error

	// ReadMemory and WriteMemory return a *MemoryFault for addresses
	// that are not mapped on the bus of the core.
	ReadMemory(addr uint64, length int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error

	// Halt requests the core to stop at the next instruction boundary.
	// The halt listener is notified once the core has stopped.
	Halt()
	// Resume lets a halted core run freely.
	Resume()
	// Step executes count instructions of a halted core, it returns the
	// number of instructions actually executed. No halt event is
	// generated for the end of a step.
	Step(count int) (int, error)
	Halted() bool

	// SetHaltListener registers the function called by the execution
	// thread every time the core stops by itself or because of Halt.
	// The listener is called without holding the guard and must not
	// block.
	SetHaltListener(func(HaltEvent))

	// Guard returns the exclusion lock the execution thread holds while
	// advancing an instruction.
	Guard() sync.Locker
}

// Breakpointer is implemented by cores that support execution breakpoints.
type Breakpointer interface {
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
}

// HaltReason describes why a core stopped.
type HaltReason uint8

const (
	// HaltRequest means the core was stopped by a call to Halt.
	HaltRequest HaltReason = iota
	// Breakpoint means the core reached an execution breakpoint.
	Breakpoint
	// StepComplete means the core finished a step.
	StepComplete
)

func (r HaltReason) String() string {
	switch r {
	case HaltRequest:
		return "halt request"
	case Breakpoint:
		return "breakpoint"
	case StepComplete:
		return "step complete"
	}
	return fmt.Sprintf("HaltReason(%d)", uint8(r))
}

// HaltEvent is delivered to the halt listener of a core.
type HaltEvent struct {
	Reason HaltReason
	PC     uint64
}

// MemoryFault is returned for accesses outside of any mapped region, or
// writes to read only regions.
type MemoryFault struct {
	Addr   uint64
	Length int
	Write  bool
}

func (err *MemoryFault) Error() string {
	op := "read"
	if err.Write {
		op = "write"
	}
	return fmt.Sprintf("memory fault: %s of %d bytes at %#x", op, err.Length, err.Addr)
}

// ErrRunning is returned by operations that require a halted core.
var ErrRunning = errors.New("core is running")
