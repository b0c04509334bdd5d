package rsp

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/machine/sim"
	"github.com/hwemu/gdbstub/pkg/proc"
)

// client is the debugger side of a test session.
type client struct {
	t   *testing.T
	c   net.Conn
	r   *bufio.Reader
	ack bool
}

type fixture struct {
	*client
	sess *Session
	m    *sim.Machine
	ctrl *proc.Controller
	done chan error
}

func testConfig(ncores int, breakpoints ...uint64) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.InstructionsPerSecond = 0
	cfg.Cores = nil
	for i := 0; i < ncores; i++ {
		cfg.Cores = append(cfg.Cores, sim.CoreConfig{Arch: "cortex-m", PC: 0x100, SP: 0x20001000, Breakpoints: breakpoints})
	}
	return cfg
}

func startSession(t *testing.T, cfg sim.Config) *fixture {
	t.Helper()
	m, err := sim.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	ctrl := proc.New(m)
	t.Cleanup(ctrl.Detach)

	stub, dbg := net.Pipe()
	dbg.SetDeadline(time.Now().Add(10 * time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		client: &client{t: t, c: dbg, r: bufio.NewReader(dbg), ack: true},
		sess:   NewSession(stub, ctrl, 0),
		m:      m,
		ctrl:   ctrl,
		done:   make(chan error, 1),
	}
	go func() {
		f.done <- f.sess.Run(ctx)
		stub.Close()
	}()
	t.Cleanup(func() {
		cancel()
		dbg.Close()
		<-f.done
	})
	return f
}

func (c *client) write(raw []byte) {
	c.t.Helper()
	if _, err := c.c.Write(raw); err != nil {
		c.t.Fatalf("write %q: %v", raw, err)
	}
}

func (c *client) readByte() byte {
	c.t.Helper()
	ch, err := c.r.ReadByte()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return ch
}

// send transmits payload and consumes the acknowledgement.
func (c *client) send(payload string) {
	c.t.Helper()
	c.write(gdbserial.Encode([]byte(payload)))
	if c.ack {
		if ch := c.readByte(); ch != '+' {
			c.t.Fatalf("sending %q: expected '+' got %q", payload, ch)
		}
	}
}

// receive reads the next packet or notification, it returns the start
// character and the decoded payload.
func (c *client) receive() (byte, string) {
	c.t.Helper()
	start := c.readByte()
	if start != '$' && start != '%' {
		c.t.Fatalf("unexpected %q at start of packet", start)
	}
	body, err := c.r.ReadBytes('#')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	cs := []byte{c.readByte(), c.readByte()}
	frame := append(append([]byte{'$'}, body...), cs...)
	pkt, _, err := gdbserial.Decode(frame)
	if err != nil {
		c.t.Fatalf("decoding %q: %v", frame, err)
	}
	if start == '$' && c.ack {
		c.write([]byte{'+'})
	}
	return start, string(pkt.Payload)
}

func (c *client) reply() string {
	c.t.Helper()
	start, payload := c.receive()
	if start != '$' {
		c.t.Fatalf("expected a reply, got notification %q", payload)
	}
	return payload
}

func (c *client) exchange(payload string) string {
	c.t.Helper()
	c.send(payload)
	return c.reply()
}

func (c *client) expect(payload, want string) {
	c.t.Helper()
	if got := c.exchange(payload); got != want {
		c.t.Fatalf("%q: got %q want %q", payload, got, want)
	}
}

// quiet checks that the stub sends nothing for d.
func (c *client) quiet(d time.Duration) {
	c.t.Helper()
	c.c.SetReadDeadline(time.Now().Add(d))
	ch, err := c.r.ReadByte()
	if err == nil {
		c.t.Fatalf("unexpected %q from the stub", ch)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatalf("read: %v", err)
	}
	c.c.SetReadDeadline(time.Now().Add(10 * time.Second))
}

func TestSupported(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("qSupported:multiprocess+;swbreak+", "PacketSize=4000;QStartNoAckMode+;qXfer:features:read+;QNonStop+;vContSupported+")
	f.expect("qAttached", "1")
	f.expect("qC", "QC1")
}

func TestBadChecksum(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.write([]byte("$p#zz"))
	if ch := f.readByte(); ch != '-' {
		t.Fatalf("expected '-' got %q", ch)
	}
	f.expect("p0", "00000000")
}

func TestExtendedModeWire(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.write([]byte("$!#21"))
	buf := make([]byte, len("+$OK#9a"))
	for i := range buf {
		buf[i] = f.readByte()
	}
	if string(buf) != "+$OK#9a" {
		t.Fatalf("got %q", buf)
	}
	f.write([]byte{'+'})
	if !f.sess.ExtendedMode() {
		t.Fatal("extended mode not enabled")
	}
	// k does not end the session in extended mode
	f.expect("k", "OK")
	f.expect("qC", "QC1")
}

func TestNoAckMode(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("QStartNoAckMode", "OK")
	f.ack = false
	if f.sess.AckMode() {
		t.Fatal("session still in ack mode")
	}
	f.write(gdbserial.Encode([]byte("qC")))
	if ch := f.readByte(); ch != '$' {
		t.Fatalf("expected a packet, got %q", ch)
	}
	f.r.UnreadByte()
	if got := f.reply(); got != "QC1" {
		t.Fatalf("got %q", got)
	}
}

func TestThreadSelection(t *testing.T) {
	f := startSession(t, testConfig(3))
	f.expect("Hg2", "OK")
	f.expect("Hc-1", "OK")
	f.expect("qC", "QC2")
	if f.sess.ContinueTarget() != proc.AllCores || f.sess.GeneralTarget() != 2 {
		t.Fatalf("targets %d %d", f.sess.ContinueTarget(), f.sess.GeneralTarget())
	}
	f.expect("qfThreadInfo", "m1,2,3")
	f.expect("qsThreadInfo", "l")
	f.expect("T3", "OK")
	f.expect("T4", "E03")
	f.expect("qThreadExtraInfo,2", hex.EncodeToString([]byte("cpu1 (cortex-m) halted")))
}

func TestSelectionIsIndependent(t *testing.T) {
	cfg := testConfig(2)
	cfg.Cores[1].PC = 0x200
	f := startSession(t, cfg)

	f.expect("Hc2", "OK")
	f.expect("pf", "00010000")
	f.expect("Hg2", "OK")
	f.expect("pf", "00020000")
	f.expect("Hc1", "OK")
	f.expect("pf", "00020000")

	// s follows Hc, register reads keep following Hg
	f.expect("Hc2", "OK")
	f.expect("Hg1", "OK")
	f.expect("s", "T05thread:2;")
	f.expect("pf", "00010000")
	f.expect("Hg2", "OK")
	f.expect("pf", "02020000")
}

func TestRegisters(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("pzz", "E16")
	f.expect("pf", "00010000")
	f.expect("p1d", "00000000")
	f.expect("P1d=78563412", "OK")
	f.expect("p1d", "78563412")
	f.expect("p99", "E01")
	f.expect("P99=00000000", "E01")
	f.expect("Pf=0011", "E16")

	g := f.exchange("g")
	// r0-r15 are transferred by g
	if len(g) != 16*8 {
		t.Fatalf("g returned %d digits: %q", len(g), g)
	}
	if g[15*8:] != "00010000" {
		t.Fatalf("pc in g: %q", g[15*8:])
	}
	regs := []byte(g)
	copy(regs[0:], "efbeadde")
	f.expect("G"+string(regs), "OK")
	f.expect("p0", "efbeadde")
	f.expect("G00", "E16")
}

func TestUnknownCoreIsLazy(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("Hg9", "OK")
	f.expect("g", "E03")
	f.expect("m20000000,4", "E03")
	f.expect("Hg0", "OK")
	f.expect("m20000000,4", "00000000")
}

func TestContinueToBreakpoint(t *testing.T) {
	f := startSession(t, testConfig(1, 0x106))
	f.expect("c", "T05thread:1;")
	f.expect("pf", "06010000")
	f.expect("?", "T05thread:1;")
	var executed uint64
	f.ctrl.Access(1, func(_ machine.Core) error {
		executed = f.m.Core(0).Executed()
		return nil
	})
	if executed != 3 {
		t.Fatalf("executed %d instructions", executed)
	}
}

func TestContinueAllStop(t *testing.T) {
	f := startSession(t, testConfig(2, 0x106))
	f.expect("Hc-1", "OK")
	reply := f.exchange("c")
	if reply != "T05thread:1;" && reply != "T05thread:2;" {
		t.Fatalf("got %q", reply)
	}
	for _, id := range f.ctrl.IDs() {
		st, err := f.ctrl.State(id)
		if err != nil {
			t.Fatal(err)
		}
		if st != proc.Halted {
			t.Fatalf("core %d is %v after the stop reply", id, st)
		}
	}
}

func TestNothingAfterStopReply(t *testing.T) {
	f := startSession(t, testConfig(2, 0x106))
	f.expect("Hc-1", "OK")
	reply := f.exchange("c")
	if reply != "T05thread:1;" && reply != "T05thread:2;" {
		t.Fatalf("got %q", reply)
	}
	f.quiet(200 * time.Millisecond)
	// the session still answers once the line has been idle
	f.expect("qC", "QC1")
	f.quiet(100 * time.Millisecond)
}

func TestStep(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("s", "T05thread:1;")
	f.expect("pf", "02010000")
	f.expect("s200", "T05thread:1;")
	f.expect("pf", "02020000")
	f.expect("vCont?", "vCont;c;C;s;S;t")
	f.expect("vCont;s:1", "T05thread:1;")
	f.expect("pf", "04020000")
	f.expect("vCont;t", "E16")
}

func TestMemory(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("M20000000,4:deadbeef", "OK")
	f.expect("m20000000,4", "deadbeef")
	f.expect("X20000004,3:#$}", "OK")
	f.expect("m20000004,3", "23247d")
	f.expect("X20000000,0:", "OK")
	f.expect("m90000000,4", "E0e")
	f.expect("M0,1:00", "E0e")
	f.expect("M20000000,2:00", "E16")
	f.expect("m20000000,2001", "E16")
}

func TestBreakpointPackets(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("Z0,104,2", "OK")
	f.expect("c", "T05thread:1;")
	f.expect("pf", "04010000")
	f.expect("z0,104,2", "OK")
	f.expect("Z2,104,4", "")
}

func TestNonStop(t *testing.T) {
	f := startSession(t, testConfig(2, 0x106))
	f.expect("QNonStop:1", "OK")
	f.expect("QNonStop:2", "E16")
	if !f.sess.NonStop() {
		t.Fatal("not in non-stop mode")
	}
	f.expect("vCont;s:2", "OK")
	kind, payload := f.receive()
	if kind != '%' || payload != "Stop:T05thread:2;" {
		t.Fatalf("got %c%q", kind, payload)
	}
	f.expect("vStopped", "OK")

	f.expect("vCont;c:1", "OK")
	kind, payload = f.receive()
	if kind != '%' || payload != "Stop:T05thread:1;" {
		t.Fatalf("got %c%q", kind, payload)
	}
	f.expect("vStopped", "OK")
}

func TestInterrupt(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.send("c")
	f.write([]byte{0x03})
	if got := f.reply(); got != "T02thread:1;" {
		t.Fatalf("got %q", got)
	}
	// nothing running, the reply is immediate
	f.write([]byte{0x03})
	if got := f.reply(); got != "T02thread:1;" {
		t.Fatalf("got %q", got)
	}
}

func TestFeaturesAndMonitor(t *testing.T) {
	f := startSession(t, testConfig(1))
	reply := f.exchange("qXfer:features:read:target.xml:0,fff")
	if !strings.HasPrefix(reply, "l<?xml") || !strings.Contains(reply, "org.gnu.gdb.arm.m-system") {
		t.Fatalf("got %q", reply)
	}
	reply = f.exchange("qXfer:features:read:target.xml:0,10")
	if len(reply) != 0x11 || reply[0] != 'm' {
		t.Fatalf("got %q", reply)
	}
	f.expect("qXfer:features:read:other.xml:0,10", "E00")

	cmd := hex.EncodeToString([]byte("step 2"))
	f.expect("qRcmd,"+cmd, hex.EncodeToString([]byte("core 1 at 0x104\n")))
	f.expect("qRcmd,"+hex.EncodeToString([]byte("halt")), "OK")
	f.expect("qRcmd,"+hex.EncodeToString([]byte("resume")), "OK")
	f.expect("qRcmd,"+hex.EncodeToString([]byte("halt")), "OK")
	reply = f.exchange("qRcmd," + hex.EncodeToString([]byte("cores")))
	if out, err := hex.DecodeString(reply); err != nil || !strings.Contains(string(out), "cpu0") {
		t.Fatalf("cores: %q", reply)
	}
	f.expect("qRcmd,"+hex.EncodeToString([]byte("bogus")), "E05")
}

func TestUnknownCommand(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("qFooBar", "")
	f.expect("vMustReplyEmpty", "")
	f.expect("QStartNoAckModeX", "")
}

func TestDetach(t *testing.T) {
	f := startSession(t, testConfig(1))
	f.expect("D", "OK")
	select {
	case err := <-f.done:
		if err != nil {
			t.Fatal(err)
		}
		f.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestResolve(t *testing.T) {
	for _, tc := range []struct {
		payload, mnemonic, suffix string
	}{
		{"qSupported:xmlRegisters=i386", "qSupported", ":xmlRegisters=i386"},
		{"qC", "qC", ""},
		{"qfThreadInfo", "qfThreadInfo", ""},
		{"vCont?", "vCont?", ""},
		{"vCont;c:1", "vCont;", "c:1"},
		{"Z0,100,2", "Z0,", "100,2"},
		{"Z2,100,4", "Z", "2,100,4"},
		{"m100,4", "m", "100,4"},
		{"qXfer:features:read:target.xml:0,fff", "qXfer:features:read:", "target.xml:0,fff"},
		{"QNonStop:1", "QNonStop:", "1"},
		{"qUnknown", "", ""},
		{"qCx", "", ""},
		{"", "", ""},
	} {
		d, suffix := resolve([]byte(tc.payload))
		if tc.mnemonic == "" {
			if d != nil {
				t.Errorf("%q: resolved to %q", tc.payload, d.Mnemonic)
			}
			continue
		}
		if d == nil {
			t.Errorf("%q: not resolved", tc.payload)
			continue
		}
		if d.Mnemonic != tc.mnemonic || string(suffix) != tc.suffix {
			t.Errorf("%q: got %q %q want %q %q", tc.payload, d.Mnemonic, suffix, tc.mnemonic, tc.suffix)
		}
	}
}
