package rsp

import (
	"bytes"
	"errors"
	"sort"
	"strconv"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/proc"
)

var optionalAddr = gdbserial.Schema{{Name: "addr", Encoding: gdbserial.HexNumber, Optional: true}}

var breakpointArgs = gdbserial.Schema{
	{Name: "addr", Encoding: gdbserial.HexNumber, Delim: ','},
	{Name: "kind", Encoding: gdbserial.HexNumber, Delim: ';'},
	{Name: "cond", Encoding: gdbserial.String, Optional: true},
}

func init() {
	Register(Descriptor{Mnemonic: "c", Args: optionalAddr, Handler: continueTarget})
	Register(Descriptor{Mnemonic: "s", Args: optionalAddr, Handler: stepTarget})
	Register(Descriptor{Mnemonic: "vCont?", Handler: vContSupported})
	Register(Descriptor{
		Mnemonic: "vCont;",
		Args:     gdbserial.Schema{{Name: "actions", Encoding: gdbserial.String}},
		Handler:  vCont,
	})
	Register(Descriptor{Mnemonic: "Z0,", Args: breakpointArgs, Handler: setBreakpoint})
	Register(Descriptor{Mnemonic: "Z1,", Args: breakpointArgs, Handler: setBreakpoint})
	Register(Descriptor{Mnemonic: "z0,", Args: breakpointArgs, Handler: clearBreakpoint})
	Register(Descriptor{Mnemonic: "z1,", Args: breakpointArgs, Handler: clearBreakpoint})
	// watchpoints
	Register(Descriptor{Mnemonic: "Z", Args: gdbserial.Schema{{Name: "args", Encoding: gdbserial.String}}, Handler: unsupported})
	Register(Descriptor{Mnemonic: "z", Args: gdbserial.Schema{{Name: "args", Encoding: gdbserial.String}}, Handler: unsupported})
}

func unsupported(s *Session, _ gdbserial.Args) Reply {
	return replyEmpty()
}

// continueTarget handles 'c': the cores selected by Hc run until one of
// them stops, the stop is the reply.
func continueTarget(s *Session, args gdbserial.Args) Reply {
	ids, err := s.ctrl.Resolve(s.continueTarget)
	if err != nil {
		return s.fail("c", err)
	}
	if args.Has("addr") {
		for _, id := range ids {
			if err := s.ctrl.SetPC(id, args.Uint64("addr")); err != nil {
				return s.fail("c", err)
			}
		}
	}
	return s.continueCores(ids)
}

func (s *Session) continueCores(ids []proc.CoreID) Reply {
	if err := s.resume(ids); err != nil {
		return s.fail("resume", err)
	}
	if s.nonStop {
		return replyOK()
	}
	s.await(ids)
	return replyDefer()
}

// stepTarget handles 's'. With Hc-1 the first core is stepped.
func stepTarget(s *Session, args gdbserial.Args) Reply {
	ids, err := s.ctrl.Resolve(s.continueTarget)
	if err != nil {
		return s.fail("s", err)
	}
	if args.Has("addr") {
		if err := s.ctrl.SetPC(ids[0], args.Uint64("addr")); err != nil {
			return s.fail("s", err)
		}
	}
	return s.stepCores(ids[:1], 1)
}

// stepCores executes count instructions on every core of ids. In all-stop
// mode the stop of the first core is the reply, in non-stop mode each stop
// is notified after the OK reply.
func (s *Session) stepCores(ids []proc.CoreID, count int) Reply {
	var first []byte
	for _, id := range ids {
		ev, err := s.ctrl.Step(id, count)
		if err != nil {
			return s.fail("step", err)
		}
		if s.nonStop {
			s.postReply = append(s.postReply, ev)
			continue
		}
		s.lastStop[id] = ev
		if first == nil {
			first = s.stopPacket(ev)
		}
	}
	if s.nonStop {
		return replyOK()
	}
	return Reply{Payload: first}
}

func vContSupported(s *Session, _ gdbserial.Args) Reply {
	return replyString("vCont;c;C;s;S;t")
}

type contAction struct {
	op     byte
	thread proc.CoreID
	all    bool
}

func parseContActions(actions []byte) ([]contAction, error) {
	var r []contAction
	for _, a := range bytes.Split(actions, []byte{';'}) {
		if len(a) == 0 {
			return nil, &gdbserial.ArgumentError{Field: "actions", Reason: "empty action"}
		}
		act := contAction{all: true}
		spec, thread := a, []byte(nil)
		if i := bytes.IndexByte(a, ':'); i >= 0 {
			spec, thread = a[:i], a[i+1:]
		}
		switch spec[0] {
		case 'c', 's', 't':
			if len(spec) != 1 {
				return nil, &gdbserial.ArgumentError{Field: "actions", Reason: "unexpected signal in " + string(a)}
			}
			act.op = spec[0]
		case 'C', 'S':
			// signals can not be delivered to an emulated core, they are ignored
			if _, err := strconv.ParseUint(string(spec[1:]), 16, 8); err != nil {
				return nil, &gdbserial.ArgumentError{Field: "actions", Reason: "bad signal in " + string(a)}
			}
			act.op = spec[0] + 'a' - 'A'
		default:
			return nil, &gdbserial.ArgumentError{Field: "actions", Reason: "unknown action " + string(a)}
		}
		if thread != nil {
			args, err := threadArg.Decode(thread)
			if err != nil {
				return nil, err
			}
			act.thread = proc.CoreID(args.Int64("thread"))
			act.all = act.thread == proc.AllCores
			if act.thread == proc.AnyCore {
				act.thread = 1
			}
		}
		r = append(r, act)
	}
	return r, nil
}

// vCont handles the vCont packet. Each core gets the leftmost action that
// applies to it; cores matched by no action are left alone.
func vCont(s *Session, args gdbserial.Args) Reply {
	actions, err := parseContActions([]byte(args.String("actions")))
	if err != nil {
		return s.fail("vCont", err)
	}
	for _, act := range actions {
		if !act.all && !s.ctrl.Valid(act.thread) {
			return s.fail("vCont", &proc.ErrUnknownCore{ID: act.thread})
		}
	}
	byOp := map[byte][]proc.CoreID{}
	for _, id := range s.ctrl.IDs() {
		for _, act := range actions {
			if act.all || act.thread == id {
				byOp[act.op] = append(byOp[act.op], id)
				break
			}
		}
	}
	for _, ids := range byOp {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	if !s.nonStop {
		// In all-stop mode a step reports as soon as it is done, the cores
		// that should continue would be stopped again right away.
		switch {
		case len(byOp['s']) > 0:
			return s.stepCores(byOp['s'], 1)
		case len(byOp['c']) > 0:
			return s.continueCores(byOp['c'])
		}
		return errorReply(&gdbserial.ArgumentError{Field: "actions", Reason: "nothing to resume"})
	}

	for _, id := range byOp['t'] {
		if _, err := s.ctrl.Halt(id); err != nil {
			return s.fail("vCont", err)
		}
	}
	if len(byOp['c']) > 0 {
		if err := s.resume(byOp['c']); err != nil {
			return s.fail("vCont", err)
		}
	}
	if len(byOp['s']) > 0 {
		return s.stepCores(byOp['s'], 1)
	}
	return replyOK()
}

// setBreakpoint handles Z0 and Z1. Breakpoints apply to every core that
// supports them.
func setBreakpoint(s *Session, args gdbserial.Args) Reply {
	return s.forEachBreakpointer("Z", func(id proc.CoreID) error {
		return s.ctrl.SetBreakpoint(id, args.Uint64("addr"))
	})
}

func clearBreakpoint(s *Session, args gdbserial.Args) Reply {
	return s.forEachBreakpointer("z", func(id proc.CoreID) error {
		return s.ctrl.ClearBreakpoint(id, args.Uint64("addr"))
	})
}

func (s *Session) forEachBreakpointer(what string, fn func(proc.CoreID) error) Reply {
	var supported bool
	for _, id := range s.ctrl.IDs() {
		err := fn(id)
		switch {
		case errors.Is(err, proc.ErrNotSupported):
			continue
		case err != nil:
			return s.fail(what, err)
		}
		supported = true
	}
	if !supported {
		return errorReply(proc.ErrNotSupported)
	}
	return replyOK()
}
