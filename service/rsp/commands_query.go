package rsp

import (
	"encoding/hex"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/service/rsp/monitor"
)

func init() {
	Register(Descriptor{
		Mnemonic: "qXfer:features:read:",
		Args: gdbserial.Schema{
			{Name: "annex", Encoding: gdbserial.String, Delim: ':'},
			{Name: "offset", Encoding: gdbserial.HexNumber, Delim: ','},
			{Name: "length", Encoding: gdbserial.HexNumber},
		},
		Handler: readFeatures,
	})
	Register(Descriptor{
		Mnemonic: "qRcmd,",
		Args:     gdbserial.Schema{{Name: "command", Encoding: gdbserial.HexBytes}},
		Handler:  monitorCommand,
	})
}

// readFeatures serves the target description of the general core.
func readFeatures(s *Session, args gdbserial.Args) Reply {
	if args.String("annex") != "target.xml" {
		// E00 is the documented reply for an invalid annex
		return replyErrno(0)
	}
	var doc []byte
	err := s.ctrl.Access(s.generalCore(), func(core machine.Core) error {
		doc = core.Architecture().TargetXML()
		return nil
	})
	if err != nil {
		return s.fail("qXfer", err)
	}
	off, length := args.Uint64("offset"), args.Uint64("length")
	if off >= uint64(len(doc)) {
		return replyString("l")
	}
	chunk := doc[off:]
	if length < uint64(len(chunk)) {
		return Reply{Payload: append([]byte{'m'}, chunk[:length]...)}
	}
	return Reply{Payload: append([]byte{'l'}, chunk...)}
}

// monitorCommand handles qRcmd, the output of the command is sent back hex
// encoded.
func monitorCommand(s *Session, args gdbserial.Args) Reply {
	line := string(args.Bytes("command"))
	out, err := monitor.Run(monitor.Env{Ctrl: s.ctrl, Core: s.generalCore()}, line)
	if err != nil {
		s.log.WithError(err).Debugf("monitor %q failed", line)
		return replyErrno(errnoFailure)
	}
	if out == "" {
		return replyOK()
	}
	return replyString(hex.EncodeToString([]byte(out)))
}
