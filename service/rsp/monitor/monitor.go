// Package monitor implements the commands a debugger can send with
// "monitor <command>" (the qRcmd packet).
package monitor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/hwemu/gdbstub/pkg/logflags"
	"github.com/hwemu/gdbstub/pkg/machine"
	"github.com/hwemu/gdbstub/pkg/proc"
)

// Env is what a monitor command operates on.
type Env struct {
	Ctrl *proc.Controller
	// Core is the core selected by the debugger for register and memory
	// accesses.
	Core proc.CoreID
}

type command struct {
	aliases []string
	usage   string
	help    string
	// raw commands receive the rest of the line as a single argument,
	// without shell style splitting.
	raw bool
	fn  func(env Env, args []string) (string, error)
}

var commands []command

func init() {
	commands = []command{
		{aliases: []string{"help", "h"}, usage: "help", help: "Prints this help.", fn: help},
		{aliases: []string{"cores", "threads"}, usage: "cores", help: "Lists the cores of the machine and their state.", fn: cores},
		{aliases: []string{"halt"}, usage: "halt [id|all]", help: "Halts a core, the current one by default.", fn: halt},
		{aliases: []string{"resume"}, usage: "resume [id|all]", help: "Resumes a core, the current one by default.", fn: resume},
		{aliases: []string{"step", "si"}, usage: "step [count]", help: "Steps the current core by count instructions.", fn: step},
		{aliases: []string{"regs"}, usage: "regs [id]", help: "Prints the core registers of a core.", fn: regs},
		{aliases: []string{"mem", "x"}, usage: "mem <addr> <len>", help: "Dumps memory of the current core.", fn: mem},
		{aliases: []string{"eval", "print", "p"}, usage: "eval <expr>", help: "Evaluates a Starlark expression, see below.", raw: true, fn: eval},
	}
}

// ErrUnknownCommand is returned for commands that do not exist.
var ErrUnknownCommand = errors.New("unknown monitor command")

// Run executes a monitor command line and returns its output.
func Run(env Env, line string) (string, error) {
	log := logflags.MonitorLogger()
	log.Debugf("monitor %q", line)
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	name, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	cmd := find(name)
	if cmd == nil {
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	var args []string
	switch {
	case cmd.raw:
		args = []string{rest}
	case rest != "":
		v, err := argv.Argv(rest,
			func(s string) (string, error) {
				return "", fmt.Errorf("backtick not supported in '%s'", s)
			},
			nil)
		if err != nil {
			return "", err
		}
		if len(v) != 1 {
			return "", fmt.Errorf("illegal command line '%s'", line)
		}
		args = v[0]
	}
	out, err := cmd.fn(env, args)
	if err != nil {
		log.WithError(err).Debugf("monitor %s failed", name)
	}
	return out, err
}

func find(name string) *command {
	for i := range commands {
		for _, alias := range commands[i].aliases {
			if alias == name {
				return &commands[i]
			}
		}
	}
	return nil
}

func help(env Env, args []string) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)
	for _, cmd := range commands {
		fmt.Fprintf(w, "%s\t%s\n", cmd.usage, cmd.help)
	}
	w.Flush()
	buf.WriteString("\nBuiltins available to eval: reg(name), mem(addr, n), core().\n")
	return buf.String(), nil
}

func cores(env Env, args []string) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tARCH\tSTATE\tPC")
	for _, id := range env.Ctrl.IDs() {
		err := env.Ctrl.Access(id, func(core machine.Core) error {
			state := proc.Running
			if core.Halted() {
				state = proc.Halted
			}
			current := " "
			if id == env.Core {
				current = "*"
			}
			pc, err := readUint(core, core.Architecture().PC)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s%d\t%s\t%s\t%v\t%#x\n", current, id, core.Name(), core.Architecture().Name, state, pc)
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), nil
}

// targets parses an optional core argument, "all" designates every core.
func targets(env Env, args []string) ([]proc.CoreID, error) {
	switch len(args) {
	case 0:
		return []proc.CoreID{env.Core}, nil
	case 1:
		if args[0] == "all" {
			return env.Ctrl.IDs(), nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid core id %q", args[0])
		}
		return env.Ctrl.Resolve(proc.CoreID(n))
	}
	return nil, errors.New("too many arguments")
}

func halt(env Env, args []string) (string, error) {
	ids, err := targets(env, args)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if _, err := env.Ctrl.Halt(id); err != nil {
			return "", err
		}
	}
	return "", nil
}

func resume(env Env, args []string) (string, error) {
	ids, err := targets(env, args)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if err := env.Ctrl.Resume(id); err != nil {
			return "", err
		}
	}
	return "", nil
}

func step(env Env, args []string) (string, error) {
	count := 1
	switch len(args) {
	case 0:
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid count %q", args[0])
		}
		count = n
	default:
		return "", errors.New("too many arguments")
	}
	ev, err := env.Ctrl.Step(env.Core, count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("core %d at %#x\n", ev.Core, ev.PC), nil
}

func regs(env Env, args []string) (string, error) {
	ids, err := targets(env, args)
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", errors.New("regs takes a single core")
	}
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)
	err = env.Ctrl.Access(ids[0], func(core machine.Core) error {
		regs := append(core.Architecture().CoreRegisters[:0:0], core.Architecture().CoreRegisters...)
		sort.Slice(regs, func(i, j int) bool { return regs[i].Index < regs[j].Index })
		for _, d := range regs {
			v, err := readUint(core, d.Index)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t0x%0*x\n", d.Name, 2*d.Size(), v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	w.Flush()
	return buf.String(), nil
}

func mem(env Env, args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("usage: mem <addr> <len>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid address %q", args[0])
	}
	n, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil || n > maxDump {
		return "", fmt.Errorf("invalid length %q, at most %#x bytes can be dumped", args[1], maxDump)
	}
	var data []byte
	err = env.Ctrl.Access(env.Core, func(core machine.Core) error {
		var err error
		data, err = core.ReadMemory(addr, int(n))
		return err
	})
	if err != nil {
		return "", err
	}
	return hexdump(addr, data), nil
}

// maxDump keeps the hex encoded output of mem within the default packet
// size.
const maxDump = 0x800

func hexdump(addr uint64, data []byte) string {
	var buf strings.Builder
	for len(data) > 0 {
		n := 16
		if len(data) < n {
			n = len(data)
		}
		fmt.Fprintf(&buf, "0x%08x:", addr)
		for _, b := range data[:n] {
			fmt.Fprintf(&buf, " %02x", b)
		}
		buf.WriteByte('\n')
		addr += uint64(n)
		data = data[n:]
	}
	return buf.String()
}

// readUint reads a register as an unsigned number, the guard of core must
// be held.
func readUint(core machine.Core, index uint32) (uint64, error) {
	v, err := core.ReadRegister(index)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], v)
	return binary.LittleEndian.Uint64(buf[:]), nil
}
