// Package proc coordinates debugger requests with the execution threads of
// the cores of a machine.
//
// Every access to a core goes through Controller.Access, which holds the
// exclusion guard of the core for the duration of the access. The
// execution thread of each core takes the same guard around every
// instruction, so debugger accesses always observe a core between two
// instructions.
package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/machine"
)

// CoreID identifies a core the way the debugger sees it: as a thread id.
// Core i of the machine has id i+1.
type CoreID int

const (
	// AnyCore lets the stub pick a core, the first one is used.
	AnyCore CoreID = 0
	// AllCores designates every core of the machine.
	AllCores CoreID = -1
)

// State is the run state of a core.
type State uint8

const (
	Running State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "halted"
	}
	return "running"
}

// Event reports that a core stopped on its own execution thread.
type Event struct {
	Core   CoreID
	Reason machine.HaltReason
	PC     uint64
}

// ErrUnknownCore is returned for ids that do not name a core.
type ErrUnknownCore struct {
	ID CoreID
}

func (err *ErrUnknownCore) Error() string {
	return fmt.Sprintf("unknown core %d", err.ID)
}

// ErrNotSupported is returned when a core lacks the capability needed by an
// operation.
var ErrNotSupported = errors.New("operation not supported by core")

// Controller owns the run state bookkeeping of every core of a machine.
type Controller struct {
	cores []machine.Core

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	log logflags.Logger
}

// New creates a controller for m and installs itself as the halt listener
// of every core.
func New(m machine.Machine) *Controller {
	c := &Controller{
		cores: m.Cores(),
		subs:  make(map[*Subscription]struct{}),
		log:   logflags.ExecLogger(),
	}
	for i, core := range c.cores {
		id := CoreID(i + 1)
		core.SetHaltListener(func(ev machine.HaltEvent) {
			c.publish(Event{Core: id, Reason: ev.Reason, PC: ev.PC})
		})
	}
	return c
}

// Detach removes the halt listeners installed by New.
func (c *Controller) Detach() {
	for _, core := range c.cores {
		core.SetHaltListener(nil)
	}
}

// IDs returns the ids of every core, in machine order.
func (c *Controller) IDs() []CoreID {
	r := make([]CoreID, len(c.cores))
	for i := range c.cores {
		r[i] = CoreID(i + 1)
	}
	return r
}

// Resolve expands AnyCore and AllCores into concrete ids and checks that
// every other id names an existing core.
func (c *Controller) Resolve(id CoreID) ([]CoreID, error) {
	switch id {
	case AllCores:
		return c.IDs(), nil
	case AnyCore:
		return []CoreID{1}, nil
	}
	if _, err := c.core(id); err != nil {
		return nil, err
	}
	return []CoreID{id}, nil
}

// Valid returns true if id names a core, AnyCore included.
func (c *Controller) Valid(id CoreID) bool {
	_, err := c.core(id)
	return err == nil
}

func (c *Controller) core(id CoreID) (machine.Core, error) {
	if id == AnyCore {
		id = 1
	}
	if id < 1 || int(id) > len(c.cores) {
		return nil, &ErrUnknownCore{ID: id}
	}
	return c.cores[id-1], nil
}

// Access calls fn with the guard of core id held.
// The guard must not be held across I/O, fn is expected to return quickly.
func (c *Controller) Access(id CoreID, fn func(machine.Core) error) error {
	core, err := c.core(id)
	if err != nil {
		return err
	}
	g := core.Guard()
	g.Lock()
	defer g.Unlock()
	return fn(core)
}

// State returns the run state of core id.
func (c *Controller) State(id CoreID) (State, error) {
	var st State
	err := c.Access(id, func(core machine.Core) error {
		if core.Halted() {
			st = Halted
		}
		return nil
	})
	return st, err
}

// Resume lets core id run. Resuming a running core does nothing.
func (c *Controller) Resume(id CoreID) error {
	return c.Access(id, func(core machine.Core) error {
		if !core.Halted() {
			return nil
		}
		c.log.Debugf("resuming core %d", id)
		core.Resume()
		return nil
	})
}

// Halt asks core id to stop. It returns false if the core was already
// halted, in that case no event will be published for it.
func (c *Controller) Halt(id CoreID) (bool, error) {
	var requested bool
	err := c.Access(id, func(core machine.Core) error {
		if core.Halted() {
			return nil
		}
		c.log.Debugf("halting core %d", id)
		core.Halt()
		requested = true
		return nil
	})
	return requested, err
}

// Step executes count instructions on the halted core id and returns the
// resulting stop. No event is published for a step.
func (c *Controller) Step(id CoreID, count int) (Event, error) {
	ev := Event{Core: id, Reason: machine.StepComplete}
	err := c.Access(id, func(core machine.Core) error {
		if !core.Halted() {
			return machine.ErrRunning
		}
		n, err := core.Step(count)
		if err != nil {
			return err
		}
		c.log.Debugf("stepped core %d by %d instructions", id, n)
		ev.PC, err = readPC(core)
		return err
	})
	return ev, err
}

// SetPC moves the program counter of the halted core id.
func (c *Controller) SetPC(id CoreID, pc uint64) error {
	return c.Access(id, func(core machine.Core) error {
		a := core.Architecture()
		d, ok := a.Lookup(a.PC)
		if !ok {
			return ErrNotSupported
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, pc)
		return core.WriteRegister(a.PC, buf[:d.Size()])
	})
}

// SetBreakpoint installs an execution breakpoint at addr on core id.
func (c *Controller) SetBreakpoint(id CoreID, addr uint64) error {
	return c.Access(id, func(core machine.Core) error {
		bp, ok := core.(machine.Breakpointer)
		if !ok {
			return ErrNotSupported
		}
		return bp.SetBreakpoint(addr)
	})
}

// ClearBreakpoint removes the breakpoint at addr from core id.
func (c *Controller) ClearBreakpoint(id CoreID, addr uint64) error {
	return c.Access(id, func(core machine.Core) error {
		bp, ok := core.(machine.Breakpointer)
		if !ok {
			return ErrNotSupported
		}
		return bp.ClearBreakpoint(addr)
	})
}

func readPC(core machine.Core) (uint64, error) {
	v, err := core.ReadRegister(core.Architecture().PC)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], v)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (c *Controller) publish(ev Event) {
	c.log.Debugf("core %d stopped at %#x: %v", ev.Core, ev.PC, ev.Reason)
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		sub.push(ev)
	}
}
