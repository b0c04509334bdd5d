package rsp

import (
	"encoding/hex"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
)

func init() {
	Register(Descriptor{
		Mnemonic: "m",
		Args: gdbserial.Schema{
			{Name: "addr", Encoding: gdbserial.HexNumber, Delim: ','},
			{Name: "length", Encoding: gdbserial.HexNumber},
		},
		Handler: readMemory,
	})
	Register(Descriptor{
		Mnemonic: "M",
		Args: gdbserial.Schema{
			{Name: "addr", Encoding: gdbserial.HexNumber, Delim: ','},
			{Name: "length", Encoding: gdbserial.HexNumber, Delim: ':'},
			{Name: "data", Encoding: gdbserial.HexBytes, LengthFrom: "length"},
		},
		Handler: writeMemory,
	})
	Register(Descriptor{
		Mnemonic: "X",
		Args: gdbserial.Schema{
			{Name: "addr", Encoding: gdbserial.HexNumber, Delim: ','},
			{Name: "length", Encoding: gdbserial.HexNumber, Delim: ':'},
			{Name: "data", Encoding: gdbserial.Binary, LengthFrom: "length"},
		},
		Handler: writeMemory,
	})
}

func readMemory(s *Session, args gdbserial.Args) Reply {
	length := args.Uint64("length")
	// two hex digits per byte plus framing must fit in a packet
	if length > uint64(s.packetSize/2) {
		return errorReply(&gdbserial.ArgumentError{Field: "length", Reason: "larger than the packet size"})
	}
	var data []byte
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		var err error
		data, err = core.ReadMemory(args.Uint64("addr"), int(length))
		return err
	})
	if err != nil {
		return s.fail("m", err)
	}
	return replyString(hex.EncodeToString(data))
}

// writeMemory handles both M and X, only the encoding of the data differs.
func writeMemory(s *Session, args gdbserial.Args) Reply {
	data := args.Bytes("data")
	if len(data) == 0 {
		return replyOK()
	}
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		return core.WriteMemory(args.Uint64("addr"), data)
	})
	if err != nil {
		return s.fail("write memory", err)
	}
	return replyOK()
}
