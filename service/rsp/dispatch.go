package rsp

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/hwemu/gdbstub/pkg/arch"
	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/proc"
)

// Error numbers sent back in 'Enn' replies.
const (
	errnoUnknownRegister = 0x01
	errnoUnknownCore     = 0x03
	errnoFailure         = 0x05
	errnoMemoryFault     = 0x0e
	errnoBadArguments    = 0x16
	errnoNotSupported    = 0x26
)

type replyKind uint8

const (
	replyPacket replyKind = iota
	// replyDeferred means the reply will be produced later, by a stop.
	replyDeferred
	// replyClose sends the payload, if any, then ends the session.
	replyClose
)

// Reply is the result of a command.
type Reply struct {
	Payload []byte
	kind    replyKind
}

func replyString(s string) Reply { return Reply{Payload: []byte(s)} }

func replyOK() Reply { return replyString("OK") }

// replyEmpty is the answer to unsupported commands.
func replyEmpty() Reply { return Reply{} }

func replyErrno(n int) Reply { return replyString(fmt.Sprintf("E%02x", n)) }

func replyDefer() Reply { return Reply{kind: replyDeferred} }

// Deferred returns true if the reply will be sent when a core stops.
func (r Reply) Deferred() bool { return r.kind == replyDeferred }

// Closes returns true if the session ends after this reply.
func (r Reply) Closes() bool { return r.kind == replyClose }

// errorReply maps err to the error number reported to the debugger.
func errorReply(err error) Reply {
	var (
		argerr  *gdbserial.ArgumentError
		regerr  *arch.ErrUnknownRegister
		coreerr *proc.ErrUnknownCore
		memerr  *machine.MemoryFault
	)
	switch {
	case errors.As(err, &argerr):
		return replyErrno(errnoBadArguments)
	case errors.As(err, &regerr):
		return replyErrno(errnoUnknownRegister)
	case errors.As(err, &coreerr):
		return replyErrno(errnoUnknownCore)
	case errors.As(err, &memerr):
		return replyErrno(errnoMemoryFault)
	case errors.Is(err, proc.ErrNotSupported):
		return replyErrno(errnoNotSupported)
	}
	return replyErrno(errnoFailure)
}

// Dispatch decodes and executes the command contained in payload.
// Unknown commands get an empty reply.
func Dispatch(s *Session, payload []byte) (reply Reply) {
	d, suffix := resolve(payload)
	if d == nil {
		s.log.Debugf("unsupported command %q", truncate(payload))
		return replyEmpty()
	}
	args, err := d.Args.Decode(suffix)
	if err != nil {
		s.log.Debugf("%s: %v", d.Mnemonic, err)
		return errorReply(err)
	}
	defer func() {
		if ierr := recover(); ierr != nil {
			s.log.Errorf("command %q panicked: %v\n%s", truncate(payload), ierr, debug.Stack())
			reply = replyErrno(errnoFailure)
		}
	}()
	return d.Handler(s, args)
}

// fail logs err and converts it to an error reply.
func (s *Session) fail(what string, err error) Reply {
	s.log.WithError(err).Debugf("%s failed", what)
	return errorReply(err)
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
