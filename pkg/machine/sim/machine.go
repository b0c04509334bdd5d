// Package sim implements a reference machine: cores that run on their own
// execution goroutines over a shared memory bus, without any instruction
// semantics. It is what the gdbstub command serves when no other machine
// is plugged in, and what the tests of the debug layers run against.
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/hwemu/gdbstub/pkg/arch"
	"github.com/hwemu/gdbstub/pkg/machine"
)

// CoreConfig describes one core of the machine.
type CoreConfig struct {
	Name        string   `yaml:"name"`
	Arch        string   `yaml:"arch"`
	PC          uint64   `yaml:"pc"`
	SP          uint64   `yaml:"sp"`
	Breakpoints []uint64 `yaml:"breakpoints"`
}

// Config describes a machine.
type Config struct {
	Cores  []CoreConfig `yaml:"cores"`
	Memory []Region     `yaml:"memory"`
	// InstructionsPerSecond throttles every core, zero means as fast as
	// possible.
	InstructionsPerSecond int `yaml:"instructions-per-second"`
}

// DefaultConfig is a single Cortex-M core with flash and ram.
func DefaultConfig() Config {
	return Config{
		Cores: []CoreConfig{
			{Name: "cpu0", Arch: "cortex-m", PC: 0x00000100, SP: 0x20001000},
		},
		Memory: []Region{
			{Name: "flash", Start: 0x00000000, Size: 0x40000, ReadOnly: true},
			{Name: "ram", Start: 0x20000000, Size: 0x10000},
		},
		InstructionsPerSecond: 1000000,
	}
}

// Machine is a set of reference cores sharing a bus.
type Machine struct {
	cores []*Core
	bus   *Bus
}

var _ machine.Machine = (*Machine)(nil)

// New creates a machine. Every core starts halted.
func New(cfg Config) (*Machine, error) {
	if len(cfg.Cores) == 0 {
		return nil, errors.New("machine has no cores")
	}
	bus, err := NewBus(cfg.Memory)
	if err != nil {
		return nil, err
	}
	var delay time.Duration
	if cfg.InstructionsPerSecond > 0 {
		delay = time.Second / time.Duration(cfg.InstructionsPerSecond)
	}
	m := &Machine{bus: bus}
	names := map[string]bool{}
	for i, cc := range cfg.Cores {
		if cc.Name == "" {
			cc.Name = fmt.Sprintf("cpu%d", i)
		}
		if names[cc.Name] {
			m.Close()
			return nil, fmt.Errorf("duplicate core name %q", cc.Name)
		}
		names[cc.Name] = true
		a, ok := arch.ByName(cc.Arch)
		if !ok {
			m.Close()
			return nil, fmt.Errorf("core %s: unknown architecture %q", cc.Name, cc.Arch)
		}
		m.cores = append(m.cores, newCore(cc, a, bus, delay))
	}
	return m, nil
}

func (m *Machine) Cores() []machine.Core {
	r := make([]machine.Core, len(m.cores))
	for i := range m.cores {
		r[i] = m.cores[i]
	}
	return r
}

// Core returns the i-th core.
func (m *Machine) Core(i int) *Core {
	return m.cores[i]
}

// Bus returns the memory bus of the machine.
func (m *Machine) Bus() *Bus {
	return m.bus
}

// Start resumes every core.
func (m *Machine) Start() {
	for _, c := range m.cores {
		c.mu.Lock()
		c.Resume()
		c.mu.Unlock()
	}
}

// Close stops the execution goroutines of every core.
func (m *Machine) Close() {
	for _, c := range m.cores {
		c.close()
	}
}
