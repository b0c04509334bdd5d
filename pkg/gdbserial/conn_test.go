package gdbserial

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// scriptedConn replays a fixed input and records everything written.
type scriptedConn struct {
	in  *strings.Reader
	out bytes.Buffer
}

func newScriptedConn(in string) *scriptedConn {
	return &scriptedConn{in: strings.NewReader(in)}
}

func (c *scriptedConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *scriptedConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func TestConnNacksBadChecksum(t *testing.T) {
	sc := newScriptedConn("$p#zz$!#21")
	conn := NewConn(sc)
	pkt, err := conn.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if string(pkt.Payload) != "!" {
		t.Fatalf("expected the bad packet to be dropped, got %q", pkt.Payload)
	}
	if got := sc.out.String(); got != "-+" {
		t.Fatalf("expected \"-+\" on the wire, got %q", got)
	}
	if _, err := conn.ReadPacket(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestConnNoAckMode(t *testing.T) {
	sc := newScriptedConn("$p#zz$!#21$c#63")
	conn := NewConn(sc)
	conn.DisableAck()
	if conn.AckMode() {
		t.Fatal("ack mode still enabled")
	}
	for _, want := range []string{"!", "c"} {
		pkt, err := conn.ReadPacket()
		if err != nil {
			t.Fatal(err)
		}
		if string(pkt.Payload) != want {
			t.Fatalf("expected %q got %q", want, pkt.Payload)
		}
		if err := conn.WritePacket([]byte("OK")); err != nil {
			t.Fatal(err)
		}
	}
	if got := sc.out.String(); got != "$OK#9a$OK#9a" {
		t.Fatalf("unexpected output in no-ack mode %q", got)
	}
}

func TestConnRetransmitsOnNack(t *testing.T) {
	sc := newScriptedConn("-+$!#21")
	conn := NewConn(sc)
	if err := conn.WritePacket([]byte("OK")); err != nil {
		t.Fatal(err)
	}
	pkt, err := conn.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if string(pkt.Payload) != "!" {
		t.Fatalf("got %q", pkt.Payload)
	}
	if got := sc.out.String(); got != "$OK#9a$OK#9a+" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestConnGivesUpRetransmitting(t *testing.T) {
	sc := newScriptedConn(strings.Repeat("-", maxTransmitAttempts+1))
	conn := NewConn(sc)
	if err := conn.WritePacket([]byte("OK")); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ReadPacket(); err != ErrTooManyAttempts {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestConnInterruptAndNotification(t *testing.T) {
	sc := newScriptedConn("\x03")
	conn := NewConn(sc)
	pkt, err := conn.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != PacketInterrupt {
		t.Fatalf("expected interrupt, got %v", pkt.Kind)
	}
	if sc.out.Len() != 0 {
		t.Fatalf("interrupts must not be acknowledged, got %q", sc.out.String())
	}
	if err := conn.WriteNotification([]byte("Stop:T05thread:1;")); err != nil {
		t.Fatal(err)
	}
	if got := sc.out.String(); !strings.HasPrefix(got, "%Stop:T05thread:1;#") {
		t.Fatalf("unexpected notification %q", got)
	}
}
