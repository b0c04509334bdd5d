package rsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/proc"
)

// DefaultPacketSize is the maximum packet size advertised in qSupported.
const DefaultPacketSize = 0x4000

const (
	sigInt  = 0x02
	sigTrap = 0x05
)

// Session is the state of one debugger connection.
type Session struct {
	conn *gdbserial.Conn
	ctrl *proc.Controller
	sub  *proc.Subscription
	log  logflags.Logger

	packetSize int

	extendedMode bool
	nonStop      bool

	// continueTarget is the core selected by Hc, generalTarget the one
	// selected by Hg. Neither is validated until used.
	continueTarget proc.CoreID
	generalTarget  proc.CoreID

	knownCores map[proc.CoreID]bool

	// awaiting is the set of cores resumed by the continue whose reply
	// is still outstanding (all-stop mode only).
	awaiting map[proc.CoreID]bool
	// stopReply is the reply to the outstanding continue, held back
	// until every core in absorbing has stopped.
	stopReply []byte
	absorbing map[proc.CoreID]bool

	// pending holds stops not yet reported: in all-stop mode the ones
	// reported by '?', in non-stop mode the notification queue drained
	// with vStopped.
	pending  []proc.Event
	lastStop map[proc.CoreID]proc.Event
	// postReply are stops produced by the current command that must be
	// handled after its reply has been sent.
	postReply []proc.Event
}

// NewSession creates the session for a debugger connected through conn.
func NewSession(conn io.ReadWriter, ctrl *proc.Controller, packetSize int) *Session {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	s := &Session{
		conn:           gdbserial.NewConn(conn),
		ctrl:           ctrl,
		log:            logflags.SessionLogger(),
		packetSize:     packetSize,
		continueTarget: proc.AnyCore,
		generalTarget:  proc.AnyCore,
		knownCores:     make(map[proc.CoreID]bool),
		awaiting:       make(map[proc.CoreID]bool),
		absorbing:      make(map[proc.CoreID]bool),
		lastStop:       make(map[proc.CoreID]proc.Event),
	}
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		s.log = s.log.WithField("remote", nc.RemoteAddr().String())
	}
	for _, id := range ctrl.IDs() {
		s.knownCores[id] = true
	}
	return s
}

// AckMode returns true while packets are acknowledged.
func (s *Session) AckMode() bool { return s.conn.AckMode() }

// ExtendedMode returns true once the debugger has sent '!'.
func (s *Session) ExtendedMode() bool { return s.extendedMode }

// NonStop returns true if the session is in non-stop mode.
func (s *Session) NonStop() bool { return s.nonStop }

// ContinueTarget returns the core selected for continue class commands.
func (s *Session) ContinueTarget() proc.CoreID { return s.continueTarget }

// GeneralTarget returns the core selected for every other command.
func (s *Session) GeneralTarget() proc.CoreID { return s.generalTarget }

// generalCore returns the concrete core targeted by register and memory
// accesses.
func (s *Session) generalCore() proc.CoreID {
	if s.generalTarget == proc.AnyCore || s.generalTarget == proc.AllCores {
		return 1
	}
	return s.generalTarget
}

type inbound struct {
	pkt gdbserial.Packet
	err error
}

// Run serves the debugger until the connection is closed, the debugger
// detaches or ctx is cancelled. Core run states are not changed when the
// session ends.
func (s *Session) Run(ctx context.Context) error {
	s.sub = s.ctrl.Subscribe()
	defer s.sub.Close()
	s.log.Debug("debugger attached")
	defer s.log.Debug("debugger detached")

	done := make(chan struct{})
	defer close(done)
	in := make(chan inbound)
	go func() {
		for {
			pkt, err := s.conn.ReadPacket()
			select {
			case in <- inbound{pkt, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-in:
			if msg.err != nil {
				if errors.Is(msg.err, io.EOF) || errors.Is(msg.err, io.ErrClosedPipe) || errors.Is(msg.err, net.ErrClosed) {
					return nil
				}
				return msg.err
			}
			closing, err := s.handlePacket(msg.pkt)
			if err != nil {
				return err
			}
			if closing {
				return nil
			}
		case <-s.sub.Ready():
			for _, ev := range s.sub.Drain() {
				if err := s.handleEvent(ev); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Session) handlePacket(pkt gdbserial.Packet) (bool, error) {
	if pkt.Kind == gdbserial.PacketInterrupt {
		return false, s.interrupt()
	}
	reply := Dispatch(s, pkt.Payload)
	switch reply.kind {
	case replyDeferred:
		return false, nil
	case replyClose:
		if reply.Payload != nil {
			if err := s.conn.WritePacket(reply.Payload); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	if err := s.conn.WritePacket(reply.Payload); err != nil {
		return false, err
	}
	evs := s.postReply
	s.postReply = nil
	for _, ev := range evs {
		if err := s.handleEvent(ev); err != nil {
			return false, err
		}
	}
	return false, nil
}

// resume lets ids run, forgetting stops of those cores that were never
// reported.
func (s *Session) resume(ids []proc.CoreID) error {
	resumed := make(map[proc.CoreID]bool, len(ids))
	for _, id := range ids {
		resumed[id] = true
	}
	pending := s.pending[:0]
	for _, ev := range s.pending {
		if !resumed[ev.Core] {
			pending = append(pending, ev)
		}
	}
	s.pending = pending
	for _, id := range ids {
		if err := s.ctrl.Resume(id); err != nil {
			return err
		}
	}
	return nil
}

// await records that the reply to the current command is the next stop
// of any core in ids.
func (s *Session) await(ids []proc.CoreID) {
	for _, id := range ids {
		s.awaiting[id] = true
	}
}

// interrupt handles ^C: in all-stop mode the cores of the outstanding
// continue (or the continue target if there is none) are halted and the
// first of them to stop is reported.
func (s *Session) interrupt() error {
	s.log.Debug("interrupt")
	if s.nonStop {
		for _, id := range s.ctrl.IDs() {
			if _, err := s.ctrl.Halt(id); err != nil {
				return err
			}
		}
		return nil
	}
	if s.stopReply != nil {
		// already stopping
		return nil
	}
	if len(s.awaiting) > 0 {
		// Every awaited core stops exactly once, either because of this
		// request or on its own.
		for _, id := range sortedIDs(s.awaiting) {
			if _, err := s.ctrl.Halt(id); err != nil {
				return err
			}
		}
		return nil
	}
	ids, err := s.ctrl.Resolve(s.continueTarget)
	if err != nil {
		return s.conn.WritePacket(errorReply(err).Payload)
	}
	for _, id := range ids {
		requested, err := s.ctrl.Halt(id)
		if err != nil {
			return err
		}
		if requested {
			s.awaiting[id] = true
		}
	}
	if len(s.awaiting) > 0 {
		return nil
	}
	// Nothing was running, no event is coming.
	return s.conn.WritePacket(s.stopPacket(proc.Event{Core: ids[0], Reason: machine.HaltRequest}))
}

func (s *Session) handleEvent(ev proc.Event) error {
	s.lastStop[ev.Core] = ev
	if s.absorbing[ev.Core] {
		delete(s.absorbing, ev.Core)
		return s.flushStop()
	}
	if s.nonStop {
		s.pending = append(s.pending, ev)
		if len(s.pending) == 1 {
			return s.conn.WriteNotification(append([]byte("Stop:"), s.stopPacket(ev)...))
		}
		return nil
	}
	if !s.awaiting[ev.Core] {
		s.log.Debugf("unsolicited stop of core %d", ev.Core)
		s.pending = append(s.pending, ev)
		return nil
	}
	// First stop of the outstanding continue. In all-stop mode every
	// other core resumed by it must stop before the reply is sent.
	delete(s.awaiting, ev.Core)
	s.stopReply = s.stopPacket(ev)
	for _, id := range sortedIDs(s.awaiting) {
		requested, err := s.ctrl.Halt(id)
		if err != nil {
			return err
		}
		// A core found halted already stopped on its own, its event is
		// reported by '?'.
		if requested {
			s.absorbing[id] = true
		}
	}
	s.awaiting = make(map[proc.CoreID]bool)
	return s.flushStop()
}

// flushStop sends the reply to the outstanding continue once every core
// has stopped.
func (s *Session) flushStop() error {
	if s.stopReply == nil || len(s.absorbing) > 0 {
		return nil
	}
	reply := s.stopReply
	s.stopReply = nil
	return s.conn.WritePacket(reply)
}

// stopPacket renders the stop reply for ev.
func (s *Session) stopPacket(ev proc.Event) []byte {
	sig := sigTrap
	if ev.Reason == machine.HaltRequest {
		sig = sigInt
		if s.nonStop {
			sig = 0
		}
	}
	return []byte(fmt.Sprintf("T%02xthread:%x;", sig, int(ev.Core)))
}

func sortedIDs(set map[proc.CoreID]bool) []proc.CoreID {
	r := make([]proc.CoreID, 0, len(set))
	for id := range set {
		r = append(r, id)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}
