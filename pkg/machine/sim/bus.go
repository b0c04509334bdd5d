package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hwemu/gdbstub/pkg/machine"
)

// Region is a block of memory mapped on the bus.
type Region struct {
	Name     string `yaml:"name"`
	Start    uint64 `yaml:"start"`
	Size     uint64 `yaml:"size"`
	ReadOnly bool   `yaml:"readonly"`
}

type mappedRegion struct {
	Region
	data []byte
}

func (r *mappedRegion) contains(addr uint64, length int) bool {
	return addr >= r.Start && addr-r.Start+uint64(length) <= r.Size
}

// Bus is the memory shared by every core of a machine.
type Bus struct {
	mu      sync.RWMutex
	regions []*mappedRegion
}

// NewBus maps the given regions, which must not overlap.
func NewBus(regions []Region) (*Bus, error) {
	bus := &Bus{}
	for _, r := range regions {
		if r.Size == 0 {
			return nil, fmt.Errorf("region %s: zero size", r.Name)
		}
		if r.Start+r.Size < r.Start {
			return nil, fmt.Errorf("region %s: wraps around the address space", r.Name)
		}
		for _, other := range bus.regions {
			if r.Start < other.Start+other.Size && other.Start < r.Start+r.Size {
				return nil, fmt.Errorf("region %s overlaps region %s", r.Name, other.Name)
			}
		}
		bus.regions = append(bus.regions, &mappedRegion{Region: r, data: make([]byte, r.Size)})
	}
	sort.Slice(bus.regions, func(i, j int) bool { return bus.regions[i].Start < bus.regions[j].Start })
	return bus, nil
}

func (bus *Bus) find(addr uint64, length int) *mappedRegion {
	i := sort.Search(len(bus.regions), func(i int) bool {
		return bus.regions[i].Start+bus.regions[i].Size > addr
	})
	if i < len(bus.regions) && bus.regions[i].contains(addr, length) {
		return bus.regions[i]
	}
	return nil
}

// Read returns a copy of length bytes at addr.
func (bus *Bus) Read(addr uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, &machine.MemoryFault{Addr: addr, Length: length}
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	r := bus.find(addr, length)
	if r == nil {
		return nil, &machine.MemoryFault{Addr: addr, Length: length}
	}
	off := addr - r.Start
	return append([]byte(nil), r.data[off:off+uint64(length)]...), nil
}

// Write stores data at addr.
func (bus *Bus) Write(addr uint64, data []byte) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	r := bus.find(addr, len(data))
	if r == nil || r.ReadOnly {
		return &machine.MemoryFault{Addr: addr, Length: len(data), Write: true}
	}
	copy(r.data[addr-r.Start:], data)
	return nil
}

// Load writes data at addr ignoring the read only flag of the region, it
// is used to initialize the machine.
func (bus *Bus) Load(addr uint64, data []byte) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	r := bus.find(addr, len(data))
	if r == nil {
		return &machine.MemoryFault{Addr: addr, Length: len(data), Write: true}
	}
	copy(r.data[addr-r.Start:], data)
	return nil
}

// Regions returns the mapped regions, sorted by address.
func (bus *Bus) Regions() []Region {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	r := make([]Region, len(bus.regions))
	for i := range bus.regions {
		r[i] = bus.regions[i].Region
	}
	return r
}
