package rsp

import (
	"math"
	"strings"

	"github.com/hwemu/gdbstub/pkg/arch"
	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
)

func init() {
	Register(Descriptor{
		Mnemonic: "p",
		Args:     gdbserial.Schema{{Name: "index", Encoding: gdbserial.HexNumber}},
		Handler:  readRegister,
	})
	Register(Descriptor{
		Mnemonic: "P",
		Args: gdbserial.Schema{
			{Name: "index", Encoding: gdbserial.HexNumber, Delim: '='},
			{Name: "value", Encoding: gdbserial.String},
		},
		Handler: writeRegister,
	})
	Register(Descriptor{Mnemonic: "g", Handler: readRegisters})
	Register(Descriptor{
		Mnemonic: "G",
		Args:     gdbserial.Schema{{Name: "data", Encoding: gdbserial.String}},
		Handler:  writeRegisters,
	})
}

// lookupRegister finds the descriptor of index in the register space of
// core, the core table first, then every feature set.
func lookupRegister(core machine.Core, index uint64) (arch.RegisterDescriptor, error) {
	a := core.Architecture()
	if index > math.MaxUint32 {
		return arch.RegisterDescriptor{}, &arch.ErrUnknownRegister{Arch: a.Name, Index: math.MaxUint32}
	}
	d, ok := a.Lookup(uint32(index))
	if !ok {
		return arch.RegisterDescriptor{}, &arch.ErrUnknownRegister{Arch: a.Name, Index: uint32(index)}
	}
	return d, nil
}

func readRegister(s *Session, args gdbserial.Args) Reply {
	var out string
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		d, err := lookupRegister(core, args.Uint64("index"))
		if err != nil {
			return err
		}
		v, err := core.ReadRegister(d.Index)
		if err != nil {
			return err
		}
		out = core.Architecture().Serialize(v, d)
		return nil
	})
	if err != nil {
		return s.fail("p", err)
	}
	return replyString(out)
}

func writeRegister(s *Session, args gdbserial.Args) Reply {
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		d, err := lookupRegister(core, args.Uint64("index"))
		if err != nil {
			return err
		}
		v, err := core.Architecture().Deserialize(args.String("value"), d)
		if err != nil {
			return &gdbserial.ArgumentError{Field: "value", Reason: err.Error()}
		}
		return core.WriteRegister(d.Index, v)
	})
	if err != nil {
		return s.fail("P", err)
	}
	return replyOK()
}

func readRegisters(s *Session, _ gdbserial.Args) Reply {
	var out strings.Builder
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		a := core.Architecture()
		for _, d := range a.GeneralRegisters() {
			v, err := core.ReadRegister(d.Index)
			if err != nil {
				return err
			}
			out.WriteString(a.Serialize(v, d))
		}
		return nil
	})
	if err != nil {
		return s.fail("g", err)
	}
	return replyString(out.String())
}

func writeRegisters(s *Session, args gdbserial.Args) Reply {
	data := args.String("data")
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		a := core.Architecture()
		regs := a.GeneralRegisters()
		size := 0
		for _, d := range regs {
			size += 2 * d.Size()
		}
		if len(data) != size {
			return &gdbserial.ArgumentError{Field: "data", Reason: "length does not match the register file"}
		}
		values := make([][]byte, len(regs))
		for i, d := range regs {
			n := 2 * d.Size()
			v, err := a.Deserialize(data[:n], d)
			if err != nil {
				return &gdbserial.ArgumentError{Field: "data", Reason: err.Error()}
			}
			values[i] = v
			data = data[n:]
		}
		for i, d := range regs {
			if err := core.WriteRegister(d.Index, values[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail("G", err)
	}
	return replyOK()
}
