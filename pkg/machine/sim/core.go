package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwemu/gdbstub/pkg/arch"
	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/machine"
)

// Core is a reference core. It executes fixed size instructions that do
// nothing but advance the program counter, which is enough to exercise
// breakpoints, stepping and halting.
type Core struct {
	name string
	arch *arch.Architecture
	bus  *Bus

	mu   sync.Mutex // guard, held by the execution thread for every instruction
	wake *sync.Cond

	regs        map[uint32][]byte
	breakpoints map[uint64]struct{}
	halted      bool
	closed      bool
	executed    uint64

	haltRequested atomic.Bool

	listenerMu sync.Mutex
	listener   func(machine.HaltEvent)

	delay time.Duration
	done  chan struct{}
	log   logflags.Logger
}

var (
	_ machine.Core         = (*Core)(nil)
	_ machine.Breakpointer = (*Core)(nil)
)

func newCore(cfg CoreConfig, a *arch.Architecture, bus *Bus, delay time.Duration) *Core {
	c := &Core{
		name:        cfg.Name,
		arch:        a,
		bus:         bus,
		regs:        make(map[uint32][]byte),
		breakpoints: make(map[uint64]struct{}),
		halted:      true,
		delay:       delay,
		done:        make(chan struct{}),
		log:         logflags.MachineLogger().WithField("core", cfg.Name),
	}
	c.wake = sync.NewCond(&c.mu)
	alloc := func(d arch.RegisterDescriptor) {
		if _, ok := c.regs[d.Index]; !ok {
			c.regs[d.Index] = make([]byte, d.Size())
		}
	}
	for _, d := range a.CoreRegisters {
		alloc(d)
	}
	for _, f := range a.Features {
		for _, d := range f.Registers {
			alloc(d)
		}
	}
	c.setUint(a.PC, cfg.PC)
	c.setUint(a.SP, cfg.SP)
	for _, addr := range cfg.Breakpoints {
		c.breakpoints[addr] = struct{}{}
	}
	go c.run()
	return c
}

func (c *Core) Name() string                     { return c.name }
func (c *Core) Architecture() *arch.Architecture { return c.arch }
func (c *Core) Guard() sync.Locker               { return &c.mu }

func (c *Core) ReadRegister(index uint32) ([]byte, error) {
	v, ok := c.regs[index]
	if !ok {
		return nil, &arch.ErrUnknownRegister{Arch: c.arch.Name, Index: index}
	}
	return append([]byte(nil), v...), nil
}

func (c *Core) WriteRegister(index uint32, value []byte) error {
	v, ok := c.regs[index]
	if !ok {
		return &arch.ErrUnknownRegister{Arch: c.arch.Name, Index: index}
	}
	if len(value) != len(v) {
		return fmt.Errorf("register %d is %d bytes, got %d", index, len(v), len(value))
	}
	copy(v, value)
	return nil
}

func (c *Core) ReadMemory(addr uint64, length int) ([]byte, error) {
	return c.bus.Read(addr, length)
}

func (c *Core) WriteMemory(addr uint64, data []byte) error {
	return c.bus.Write(addr, data)
}

func (c *Core) SetBreakpoint(addr uint64) error {
	c.breakpoints[addr] = struct{}{}
	return nil
}

func (c *Core) ClearBreakpoint(addr uint64) error {
	delete(c.breakpoints, addr)
	return nil
}

// Halt can be called without holding the guard.
func (c *Core) Halt() {
	c.haltRequested.Store(true)
}

func (c *Core) Resume() {
	if c.closed {
		return
	}
	c.haltRequested.Store(false)
	c.halted = false
	c.wake.Broadcast()
}

func (c *Core) Step(count int) (int, error) {
	if !c.halted {
		return 0, machine.ErrRunning
	}
	for i := 0; i < count; i++ {
		c.advance()
	}
	return count, nil
}

func (c *Core) Halted() bool {
	return c.halted
}

func (c *Core) SetHaltListener(fn func(machine.HaltEvent)) {
	c.listenerMu.Lock()
	c.listener = fn
	c.listenerMu.Unlock()
}

// PC returns the current program counter, it must be called while
// holding the guard.
func (c *Core) PC() uint64 {
	return c.getUint(c.arch.PC)
}

// Executed returns the number of instructions executed so far, it must be
// called while holding the guard.
func (c *Core) Executed() uint64 {
	return c.executed
}

func (c *Core) close() {
	c.mu.Lock()
	c.closed = true
	c.wake.Broadcast()
	c.mu.Unlock()
	<-c.done
}

func (c *Core) run() {
	defer close(c.done)
	for {
		ev, ok := c.tick()
		if !ok {
			return
		}
		if ev != nil {
			c.log.Debugf("halted at %#x (%v)", ev.PC, ev.Reason)
			c.notify(*ev)
		}
		if c.delay > 0 {
			time.Sleep(c.delay)
		}
	}
}

// tick executes one instruction while holding the guard, blocking while
// the core is halted.
func (c *Core) tick() (*machine.HaltEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.halted && !c.closed {
		c.wake.Wait()
	}
	if c.closed {
		return nil, false
	}
	if c.haltRequested.Swap(false) {
		c.halted = true
		return &machine.HaltEvent{Reason: machine.HaltRequest, PC: c.PC()}, true
	}
	pc := c.advance()
	if _, ok := c.breakpoints[pc]; ok {
		c.halted = true
		return &machine.HaltEvent{Reason: machine.Breakpoint, PC: pc}, true
	}
	return nil, true
}

func (c *Core) notify(ev machine.HaltEvent) {
	c.listenerMu.Lock()
	fn := c.listener
	c.listenerMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Core) advance() uint64 {
	pc := c.PC() + uint64(c.arch.InstructionSize)
	c.setUint(c.arch.PC, pc)
	c.executed++
	return pc
}

func (c *Core) getUint(index uint32) uint64 {
	var buf [8]byte
	copy(buf[:], c.regs[index])
	return binary.LittleEndian.Uint64(buf[:])
}

func (c *Core) setUint(index uint32, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(c.regs[index], buf[:])
}
