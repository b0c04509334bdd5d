package gdbserial

import (
	"errors"
	"io"
	"sync"

	"github.com/hwemu/gdbstub/pkg/logflags"
)

const (
	gdbWireMaxLen = 120

	maxTransmitAttempts    = 3    // number of retransmissions of a reply the debugger rejected with '-'
	initialInputBufferSize = 2048 // size of the input buffer for Conn
)

// ErrTooManyAttempts is returned when the debugger keeps rejecting a reply.
var ErrTooManyAttempts = errors.New("too many transmit attempts")

// Conn is the stub side of a connection with a debugger.
// ReadPacket must only be called by one goroutine at a time, writes can
// happen concurrently with reads.
type Conn struct {
	rw io.ReadWriter

	inbuf []byte
	rdbuf []byte

	mu       sync.Mutex
	ack      bool   // when ack is true acknowledgment packets are enabled
	last     []byte // last framed packet, kept for retransmission
	attempts int

	log logflags.Logger
}

// NewConn returns a Conn in acknowledgement mode talking over rw.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		rw:    rw,
		inbuf: make([]byte, 0, initialInputBufferSize),
		rdbuf: make([]byte, initialInputBufferSize),
		ack:   true,
		log:   logflags.GdbWireLogger(),
	}
}

// AckMode returns true if packets are being acknowledged.
func (conn *Conn) AckMode() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.ack
}

// DisableAck turns off acknowledgements for the rest of the connection.
func (conn *Conn) DisableAck() {
	conn.mu.Lock()
	conn.ack = false
	conn.mu.Unlock()
}

// ReadPacket returns the next command packet or interrupt sent by the
// debugger.
// Packets with a bad checksum are answered with '-' (in ack mode) and
// dropped, good packets are answered with '+' (in ack mode) before being
// returned. A '-' from the debugger causes the last packet written to be
// sent again.
func (conn *Conn) ReadPacket() (Packet, error) {
	for {
		pkt, n, err := Decode(conn.inbuf)
		conn.inbuf = conn.inbuf[:copy(conn.inbuf, conn.inbuf[n:])]
		var cserr *ChecksumError
		switch {
		case err == ErrNeedMoreBytes:
			m, err := conn.rw.Read(conn.rdbuf)
			if m > 0 {
				conn.inbuf = append(conn.inbuf, conn.rdbuf[:m]...)
			}
			if err != nil && m == 0 {
				return Packet{}, err
			}
			continue
		case errors.As(err, &cserr):
			conn.log.Debugf("<- %s (bad checksum)", truncate(cserr.Frame))
			if conn.AckMode() {
				if err := conn.sendack('-'); err != nil {
					return Packet{}, err
				}
			}
			continue
		case err != nil:
			conn.log.Debugf("<- malformed packet: %v", err)
			if conn.AckMode() {
				if err := conn.sendack('-'); err != nil {
					return Packet{}, err
				}
			}
			continue
		}

		switch pkt.Kind {
		case PacketAck:
			conn.mu.Lock()
			conn.attempts = 0
			conn.mu.Unlock()
			continue
		case PacketNack:
			conn.log.Debug("<- -")
			if err := conn.retransmit(); err != nil {
				return Packet{}, err
			}
			continue
		case PacketInterrupt:
			conn.log.Debug("<- interrupt")
			return pkt, nil
		}

		if logflags.GdbWire() {
			conn.log.Debugf("<- $%s", truncate(pkt.Payload))
		}
		if conn.AckMode() {
			if err := conn.sendack('+'); err != nil {
				return Packet{}, err
			}
		}
		return pkt, nil
	}
}

// WritePacket frames and sends payload.
func (conn *Conn) WritePacket(payload []byte) error {
	out := Encode(payload)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.ack {
		conn.last = out
		conn.attempts = 0
	}
	return conn.write(out)
}

// WriteNotification sends payload as an asynchronous '%' notification.
// Notifications are never acknowledged.
func (conn *Conn) WriteNotification(payload []byte) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.write(EncodeNotification(payload))
}

func (conn *Conn) retransmit() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.ack || conn.last == nil {
		return nil
	}
	if conn.attempts >= maxTransmitAttempts {
		conn.last = nil
		return ErrTooManyAttempts
	}
	conn.attempts++
	return conn.write(conn.last)
}

// write must be called with conn.mu held.
func (conn *Conn) write(out []byte) error {
	if logflags.GdbWire() {
		conn.log.Debugf("-> %s", truncate(out))
	}
	_, err := conn.rw.Write(out)
	return err
}

// sendack sends an ack character, c must be either '+' or '-'
func (conn *Conn) sendack(c byte) error {
	if c != '+' && c != '-' {
		panic("sendack(" + string(c) + ")")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.log.Debugf("-> %c", c)
	_, err := conn.rw.Write([]byte{c})
	return err
}

func truncate(b []byte) string {
	if len(b) > gdbWireMaxLen {
		return string(b[:gdbWireMaxLen]) + "..."
	}
	return string(b)
}
