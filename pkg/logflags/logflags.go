package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var gdbWire = false
var session = false
var exec = false
var machine = false
var monitor = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = colorable.NewColorableStderr()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// GdbWire returns true if every packet exchanged with the debugger
// should be logged.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the wire protocol.
func GdbWireLogger() Logger {
	return makeFlaggableLogger(gdbWire, Fields{"layer": "gdbwire"})
}

// Session returns true if session events (attach, detach, mode
// switches, command failures) should be logged.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the debug sessions.
func SessionLogger() Logger {
	return makeFlaggableLogger(session, Fields{"layer": "session"})
}

// Exec returns true if run state transitions of the cores should be logged.
func Exec() bool {
	return exec
}

// ExecLogger returns a logger for the execution controller.
func ExecLogger() Logger {
	return makeFlaggableLogger(exec, Fields{"layer": "exec"})
}

// Machine returns true if the reference machine should log.
func Machine() bool {
	return machine
}

// MachineLogger returns a logger for the reference machine.
func MachineLogger() Logger {
	return makeFlaggableLogger(machine, Fields{"layer": "machine"})
}

// Monitor returns true if monitor commands should be logged.
func Monitor() bool {
	return monitor
}

// MonitorLogger returns a logger for monitor commands.
func MonitorLogger() Logger {
	return makeFlaggableLogger(monitor, Fields{"layer": "monitor"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "gdbstub-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		textFormatterInstance.ForceColors = true
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "gdbwire":
			gdbWire = true
		case "session":
			session = true
		case "exec":
			exec = true
		case "machine":
			machine = true
		case "monitor":
			monitor = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'gdbstub help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
