package rsp

import (
	"fmt"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/proc"
)

func init() {
	Register(Descriptor{Mnemonic: "!", Handler: extendedMode})
	Register(Descriptor{Mnemonic: "QStartNoAckMode", Handler: startNoAckMode})
	Register(Descriptor{
		Mnemonic: "qSupported",
		Args:     gdbserial.Schema{{Name: "features", Encoding: gdbserial.String, Optional: true}},
		Handler:  supported,
	})
	Register(Descriptor{
		Mnemonic: "qAttached",
		Args:     gdbserial.Schema{{Name: "pid", Encoding: gdbserial.String, Optional: true}},
		Handler:  attached,
	})
	Register(Descriptor{
		Mnemonic: "QNonStop:",
		Args:     gdbserial.Schema{{Name: "mode", Encoding: gdbserial.DecimalNumber}},
		Handler:  setNonStop,
	})
	Register(Descriptor{Mnemonic: "?", Handler: haltReason})
	Register(Descriptor{Mnemonic: "vStopped", Handler: stopped})
	Register(Descriptor{
		Mnemonic: "D",
		Args:     gdbserial.Schema{{Name: "pid", Encoding: gdbserial.String, Optional: true}},
		Handler:  detach,
	})
	Register(Descriptor{Mnemonic: "k", Handler: kill})
}

// extendedMode handles '!'.
func extendedMode(s *Session, _ gdbserial.Args) Reply {
	if !s.extendedMode {
		s.log.Debug("extended mode enabled")
	}
	s.extendedMode = true
	return replyOK()
}

// startNoAckMode handles QStartNoAckMode. The OK reply is still
// acknowledged by the debugger, only later packets are not.
func startNoAckMode(s *Session, _ gdbserial.Args) Reply {
	s.conn.DisableAck()
	s.log.Debug("acknowledgement mode disabled")
	return replyOK()
}

func supported(s *Session, args gdbserial.Args) Reply {
	if args.Has("features") {
		s.log.Debugf("debugger features %s", args.String("features"))
	}
	return replyString(fmt.Sprintf("PacketSize=%x;QStartNoAckMode+;qXfer:features:read+;QNonStop+;vContSupported+", s.packetSize))
}

// attached tells the debugger that it attached to an existing process, so
// that quitting the debugger detaches instead of killing.
func attached(s *Session, _ gdbserial.Args) Reply {
	return replyString("1")
}

func setNonStop(s *Session, args gdbserial.Args) Reply {
	switch args.Uint64("mode") {
	case 0:
		s.nonStop = false
	case 1:
		s.nonStop = true
	default:
		return errorReply(&gdbserial.ArgumentError{Field: "mode", Reason: "must be 0 or 1"})
	}
	s.pending = nil
	s.log.Debugf("non-stop mode %v", s.nonStop)
	return replyOK()
}

// haltReason handles '?'.
func haltReason(s *Session, _ gdbserial.Args) Reply {
	if s.nonStop {
		// Report every halted core, one through this reply and the rest
		// through vStopped.
		s.pending = nil
		for _, id := range s.ctrl.IDs() {
			st, err := s.ctrl.State(id)
			if err != nil {
				return s.fail("?", err)
			}
			if st != proc.Halted {
				continue
			}
			ev, ok := s.lastStop[id]
			if !ok {
				ev = proc.Event{Core: id, Reason: machine.HaltRequest}
			}
			s.pending = append(s.pending, ev)
		}
		if len(s.pending) == 0 {
			return replyOK()
		}
		return Reply{Payload: s.stopPacket(s.pending[0])}
	}
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return Reply{Payload: s.stopPacket(ev)}
	}
	id := s.generalCore()
	if ev, ok := s.lastStop[id]; ok {
		return Reply{Payload: s.stopPacket(ev)}
	}
	if !s.knownCores[id] {
		return errorReply(&proc.ErrUnknownCore{ID: id})
	}
	return replyString(fmt.Sprintf("T%02xthread:%x;", sigTrap, int(id)))
}

// stopped handles vStopped, the acknowledgement of a stop notification.
func stopped(s *Session, _ gdbserial.Args) Reply {
	if !s.nonStop {
		return replyOK()
	}
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
	if len(s.pending) == 0 {
		return replyOK()
	}
	return Reply{Payload: s.stopPacket(s.pending[0])}
}

func detach(s *Session, _ gdbserial.Args) Reply {
	s.log.Debug("detach requested")
	return Reply{Payload: []byte("OK"), kind: replyClose}
}

// kill ends the session. The cores keep running or stay halted, the
// machine is not owned by the debugger. In extended mode the connection
// stays open.
func kill(s *Session, _ gdbserial.Args) Reply {
	if s.extendedMode {
		return replyOK()
	}
	s.log.Debug("kill requested")
	return Reply{kind: replyClose}
}
