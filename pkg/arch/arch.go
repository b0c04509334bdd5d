// Package arch describes the register sets of the architectures the stub
// can debug and how register values are rendered on the wire.
package arch

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// RegisterType is the semantic type of a register as advertised to the
// debugger.
type RegisterType uint8

const (
	GeneralPurpose RegisterType = iota
	CodePointer
	DataPointer
)

// String returns the gdb target description name of the type.
func (t RegisterType) String() string {
	switch t {
	case CodePointer:
		return "code_ptr"
	case DataPointer:
		return "data_ptr"
	default:
		return "int"
	}
}

// RegisterDescriptor describes a single register.
type RegisterDescriptor struct {
	Index   uint32
	Name    string
	BitSize uint32
	Type    RegisterType
	Group   string
}

// Size returns the size of the register in bytes.
func (d RegisterDescriptor) Size() int {
	return int((d.BitSize + 7) / 8)
}

// FeatureSet is a named group of registers, corresponding to one
// <feature> element of a target description.
type FeatureSet struct {
	Name      string
	Registers []RegisterDescriptor
}

// Architecture describes the register space of a family of cores.
type Architecture struct {
	// Name is the name used in configuration files.
	Name string
	// GDBArchitecture is the content of the <architecture> element.
	GDBArchitecture string
	ByteOrder       binary.ByteOrder
	// CoreRegisters is the register table of the core itself, searched
	// before any feature set.
	CoreRegisters []RegisterDescriptor
	Features      []FeatureSet

	PC, SP          uint32
	InstructionSize int
}

// ErrUnknownRegister is returned for register indices that are described
// neither by the core table nor by any feature set.
type ErrUnknownRegister struct {
	Arch  string
	Index uint32
}

func (err *ErrUnknownRegister) Error() string {
	return fmt.Sprintf("unknown register %#x for architecture %s", err.Index, err.Arch)
}

// Lookup returns the descriptor of the register with the given index.
// The core register table is searched first, then each feature set in
// declared order.
func (a *Architecture) Lookup(index uint32) (RegisterDescriptor, bool) {
	for _, d := range a.CoreRegisters {
		if d.Index == index {
			return d, true
		}
	}
	for _, f := range a.Features {
		for _, d := range f.Registers {
			if d.Index == index {
				return d, true
			}
		}
	}
	return RegisterDescriptor{}, false
}

// LookupName returns the descriptor of the register called name, with the
// same precedence as Lookup.
func (a *Architecture) LookupName(name string) (RegisterDescriptor, bool) {
	for _, d := range a.CoreRegisters {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	for _, f := range a.Features {
		for _, d := range f.Registers {
			if strings.EqualFold(d.Name, name) {
				return d, true
			}
		}
	}
	return RegisterDescriptor{}, false
}

// Enumerate returns the feature sets of the architecture, in the order
// they are advertised.
func (a *Architecture) Enumerate() []FeatureSet {
	return a.Features
}

// GeneralRegisters returns the run of core registers numbered
// contiguously from 0, which is what the 'g' and 'G' packets transfer.
// Registers after the first gap are only reachable with 'p' and 'P'.
func (a *Architecture) GeneralRegisters() []RegisterDescriptor {
	regs := make([]RegisterDescriptor, len(a.CoreRegisters))
	copy(regs, a.CoreRegisters)
	sort.Slice(regs, func(i, j int) bool { return regs[i].Index < regs[j].Index })
	for i := range regs {
		if regs[i].Index != uint32(i) {
			return regs[:i]
		}
	}
	return regs
}

// Serialize renders value, as returned by a core with the least
// significant byte first, as the hex string sent to the debugger.
// The value is zero extended or truncated to the size of the register.
func (a *Architecture) Serialize(value []byte, desc RegisterDescriptor) string {
	buf := make([]byte, desc.Size())
	copy(buf, value)
	if a.ByteOrder == binary.BigEndian {
		reverse(buf)
	}
	return hex.EncodeToString(buf)
}

// Deserialize is the inverse of Serialize, it returns the value least
// significant byte first.
func (a *Architecture) Deserialize(s string, desc RegisterDescriptor) ([]byte, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf) != desc.Size() {
		return nil, fmt.Errorf("register %s is %d bytes, got %d", desc.Name, desc.Size(), len(buf))
	}
	if a.ByteOrder == binary.BigEndian {
		reverse(buf)
	}
	return buf, nil
}

func reverse(buf []byte) {
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}

var architectures = map[string]*Architecture{}

var aliases = map[string]string{}

func register(a *Architecture, alias ...string) {
	architectures[a.Name] = a
	for _, s := range alias {
		aliases[s] = a.Name
	}
}

// ByName returns the architecture called name, case insensitively.
func ByName(name string) (*Architecture, bool) {
	name = strings.ToLower(name)
	if n, ok := aliases[name]; ok {
		name = n
	}
	a, ok := architectures[name]
	return a, ok
}

// Names returns the names of all known architectures, sorted.
func Names() []string {
	r := make([]string, 0, len(architectures))
	for name := range architectures {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

func gprs(prefix string, from, to uint32, bitsize uint32, group string) []RegisterDescriptor {
	r := make([]RegisterDescriptor, 0, to-from+1)
	for i := from; i <= to; i++ {
		r = append(r, RegisterDescriptor{Index: i, Name: fmt.Sprintf("%s%d", prefix, i-from), BitSize: bitsize, Group: group})
	}
	return r
}
