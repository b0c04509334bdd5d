package monitor

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/hwemu/gdbstub/pkg/machine"
)

const (
	regBuiltinName  = "reg"
	memBuiltinName  = "mem"
	coreBuiltinName = "core"
)

// maxMemory bounds mem() so that the printed list fits in a reply.
const maxMemory = 0x400

func eval(env Env, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", errors.New("usage: eval <expr>")
	}
	var out strings.Builder
	thread := &starlark.Thread{
		Name: "monitor",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
	}
	v, err := starlark.Eval(thread, "<monitor>", args[0], builtins(env))
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return "", errors.New(evalErr.Msg)
		}
		return "", err
	}
	if v != starlark.None {
		out.WriteString(v.String())
		out.WriteByte('\n')
	}
	return out.String(), nil
}

func builtins(env Env) starlark.StringDict {
	r := starlark.StringDict{}
	r[regBuiltinName] = starlark.NewBuiltin(regBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(regBuiltinName, args, kwargs, "name", &name); err != nil {
			return starlark.None, err
		}
		var v uint64
		err := env.Ctrl.Access(env.Core, func(core machine.Core) error {
			d, ok := core.Architecture().LookupName(name)
			if !ok {
				return fmt.Errorf("unknown register %q", name)
			}
			var err error
			v, err = readUint(core, d.Index)
			return err
		})
		if err != nil {
			return starlark.None, err
		}
		return starlark.MakeUint64(v), nil
	})
	r[memBuiltinName] = starlark.NewBuiltin(memBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr starlark.Int
		var n int
		if err := starlark.UnpackArgs(memBuiltinName, args, kwargs, "addr", &addr, "n", &n); err != nil {
			return starlark.None, err
		}
		a, ok := addr.Uint64()
		if !ok {
			return starlark.None, fmt.Errorf("%s: invalid address %v", memBuiltinName, addr)
		}
		if n < 0 || n > maxMemory {
			return starlark.None, fmt.Errorf("%s: invalid length %d", memBuiltinName, n)
		}
		var data []byte
		err := env.Ctrl.Access(env.Core, func(core machine.Core) error {
			var err error
			data, err = core.ReadMemory(a, n)
			return err
		})
		if err != nil {
			return starlark.None, err
		}
		elems := make([]starlark.Value, len(data))
		for i, b := range data {
			elems[i] = starlark.MakeInt(int(b))
		}
		return starlark.NewList(elems), nil
	})
	r[coreBuiltinName] = starlark.NewBuiltin(coreBuiltinName, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(coreBuiltinName, args, kwargs); err != nil {
			return starlark.None, err
		}
		return starlark.MakeInt(int(env.Core)), nil
	})
	return r
}
