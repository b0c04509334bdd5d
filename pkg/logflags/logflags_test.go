package logflags

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.TraceLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.TraceLevel, level)
		}
		if len(fields) != 1 || fields["layer"] != "gdbwire" {
			t.Fatalf("expected fields to be {'layer':'gdbwire'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"layer": "gdbwire"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger(t *testing.T) {
	for _, tc := range []struct {
		flag  bool
		level logrus.Level
	}{
		{false, logrus.ErrorLevel},
		{true, logrus.DebugLevel},
	} {
		actual := makeFlaggableLogger(tc.flag, Fields{"layer": "session"})
		actualEntry, expectedType := actual.(*logrusLogger)
		if !expectedType {
			t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrus.Entry)(nil)), reflect.TypeOf(actualEntry))
		}
		if actualEntry.Entry.Logger.Level != tc.level {
			t.Fatalf("flag %v: expected level <%v>; but was <%v>", tc.flag, tc.level, actualEntry.Logger.Level)
		}
		if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["layer"] != "session" {
			t.Fatalf("expected actualEntry.Entry.Data to be {'layer':'session'}; but was <%v>", actualEntry.Data)
		}
	}
}

func TestMakeLogger_usingDefaultBehavior(t *testing.T) {
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	actual := makeLogger(logrus.TraceLevel, Fields{"layer": "exec"})

	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrus.Entry)(nil)), reflect.TypeOf(actualEntry))
	}
	if actualEntry.Entry.Logger.Out != logOut {
		t.Fatalf("expected actualEntry.Entry.Logger.Out to be <%v>; but was <%v>", logOut, actualEntry.Logger.Out)
	}
	if actualEntry.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected actualEntry.Entry.Logger.Formatter to be <%v>; but was <%v>", textFormatterInstance, actualEntry.Logger.Formatter)
	}

	actual.WithField("core", 1).Infof("halted at %#x", 0x100)
	if !bytes.Contains(logOut.(*bufferWriter).Bytes(), []byte("halted at 0x100")) {
		t.Fatalf("log output missing message: %q", logOut.(*bufferWriter).String())
	}
}

func TestSetupRejectsOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "gdbwire", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
}

func TestSetupSelectsLayers(t *testing.T) {
	defer func() {
		gdbWire, session, exec, machine, monitor = false, false, false, false, false
	}()
	if err := Setup(true, "gdbwire,exec", ""); err != nil {
		t.Fatal(err)
	}
	if !GdbWire() || !Exec() {
		t.Fatalf("expected gdbwire and exec to be enabled")
	}
	if Session() || Machine() || Monitor() {
		t.Fatalf("unexpected layers enabled")
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
