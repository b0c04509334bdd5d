package rsp

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/proc"
)

var threadArg = gdbserial.Schema{{Name: "thread", Encoding: gdbserial.ThreadID}}

func init() {
	Register(Descriptor{Mnemonic: "Hc", Args: threadArg, Handler: selectContinueCore})
	Register(Descriptor{Mnemonic: "Hg", Args: threadArg, Handler: selectGeneralCore})
	Register(Descriptor{Mnemonic: "qC", Handler: currentThread})
	Register(Descriptor{
		Mnemonic: "qL",
		Args:     gdbserial.Schema{{Name: "args", Encoding: gdbserial.String, Optional: true}},
		Handler:  legacyThreadList,
	})
	Register(Descriptor{Mnemonic: "qfThreadInfo", Handler: firstThreadInfo})
	Register(Descriptor{Mnemonic: "qsThreadInfo", Handler: subsequentThreadInfo})
	Register(Descriptor{Mnemonic: "T", Args: threadArg, Handler: threadAlive})
	Register(Descriptor{Mnemonic: "qThreadExtraInfo,", Args: threadArg, Handler: threadExtraInfo})
}

// selectContinueCore handles Hc. The core is not validated here, commands
// using it fail if it does not exist.
func selectContinueCore(s *Session, args gdbserial.Args) Reply {
	s.continueTarget = proc.CoreID(args.Int64("thread"))
	return replyOK()
}

// selectGeneralCore handles Hg, see selectContinueCore.
func selectGeneralCore(s *Session, args gdbserial.Args) Reply {
	s.generalTarget = proc.CoreID(args.Int64("thread"))
	return replyOK()
}

func currentThread(s *Session, _ gdbserial.Args) Reply {
	return replyString(fmt.Sprintf("QC%x", int(s.generalCore())))
}

// legacyThreadList answers qL with an empty reply: there is no additional
// thread information, debuggers fall back to qfThreadInfo.
func legacyThreadList(s *Session, _ gdbserial.Args) Reply {
	return replyEmpty()
}

func firstThreadInfo(s *Session, _ gdbserial.Args) Reply {
	ids := s.ctrl.IDs()
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = fmt.Sprintf("%x", int(id))
	}
	return replyString("m" + strings.Join(strs, ","))
}

func subsequentThreadInfo(s *Session, _ gdbserial.Args) Reply {
	return replyString("l")
}

func threadAlive(s *Session, args gdbserial.Args) Reply {
	id := proc.CoreID(args.Int64("thread"))
	if id == proc.AllCores || !s.ctrl.Valid(id) {
		return errorReply(&proc.ErrUnknownCore{ID: id})
	}
	return replyOK()
}

func threadExtraInfo(s *Session, args gdbserial.Args) Reply {
	id := proc.CoreID(args.Int64("thread"))
	var info string
	err := s.ctrl.Access(id, func(core machine.Core) error {
		state := proc.Running
		if core.Halted() {
			state = proc.Halted
		}
		info = fmt.Sprintf("%s (%s) %v", core.Name(), core.Architecture().Name, state)
		return nil
	})
	if err != nil {
		return s.fail("qThreadExtraInfo", err)
	}
	return replyString(hex.EncodeToString([]byte(info)))
}
