package gdbserial

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Encoding describes how a single command argument is written on the wire.
type Encoding uint8

const (
	// HexNumber is a variable width, unprefixed, unsigned hex number.
	HexNumber Encoding = iota
	// DecimalNumber is an unsigned decimal number.
	DecimalNumber
	// String is taken verbatim up to its delimiter, or to the end of the
	// payload.
	String
	// HexBytes is a sequence of hex digit pairs, one per byte.
	HexBytes
	// Binary is raw (already unescaped) data whose length is given by a
	// previous numeric argument. It always extends to the end of the payload.
	Binary
	// ThreadID is a hex thread id, or -1 meaning "all threads".
	ThreadID
)

func (e Encoding) String() string {
	switch e {
	case HexNumber:
		return "hex number"
	case DecimalNumber:
		return "decimal number"
	case String:
		return "string"
	case HexBytes:
		return "hex bytes"
	case Binary:
		return "binary"
	case ThreadID:
		return "thread id"
	}
	return fmt.Sprintf("Encoding(%d)", uint8(e))
}

// Arg describes one argument of a command.
type Arg struct {
	Name     string
	Encoding Encoding
	// Delim is the byte terminating this argument, zero if the argument
	// extends to the end of the payload.
	Delim byte
	// Optional arguments may be missing, together with their delimiter,
	// as long as every following argument is optional too.
	Optional bool
	// LengthFrom names a previously decoded numeric argument that
	// gives the expected byte length of a HexBytes or Binary argument.
	LengthFrom string
}

// Schema is the ordered list of arguments a command accepts.
type Schema []Arg

// ArgumentError is returned when a payload does not match a Schema.
type ArgumentError struct {
	Field  string
	Reason string
}

func (err *ArgumentError) Error() string {
	if err.Field == "" {
		return "malformed arguments: " + err.Reason
	}
	return fmt.Sprintf("malformed argument %q: %s", err.Field, err.Reason)
}

type argValue struct {
	num   uint64
	neg   bool
	str   string
	bytes []byte
}

// Args holds the decoded arguments of a command, by name.
type Args struct {
	values map[string]argValue
}

// Has returns true if the named argument was present in the payload.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Uint64 returns the value of a numeric argument.
func (a Args) Uint64(name string) uint64 {
	return a.values[name].num
}

// Int64 returns the value of a numeric argument as a signed number, this
// is how a ThreadID of -1 is retrieved.
func (a Args) Int64(name string) int64 {
	v := a.values[name]
	if v.neg {
		return -int64(v.num)
	}
	return int64(v.num)
}

// String returns the value of a String argument.
func (a Args) String(name string) string {
	return a.values[name].str
}

// Bytes returns the value of a HexBytes or Binary argument.
func (a Args) Bytes(name string) []byte {
	return a.values[name].bytes
}

// Decode parses payload according to the schema.
func (s Schema) Decode(payload []byte) (Args, error) {
	args := Args{values: make(map[string]argValue, len(s))}
	rest := payload
	for i, arg := range s {
		var field []byte
		switch {
		case arg.Encoding == Binary || arg.Delim == 0:
			field, rest = rest, nil
		default:
			idx := bytes.IndexByte(rest, arg.Delim)
			if idx < 0 {
				if !s.optionalFrom(i + 1) {
					return args, &ArgumentError{arg.Name, fmt.Sprintf("missing %q delimiter", arg.Delim)}
				}
				field, rest = rest, nil
			} else {
				field, rest = rest[:idx], rest[idx+1:]
			}
		}

		if len(field) == 0 {
			switch {
			case arg.Optional:
				continue
			case arg.Encoding == HexNumber || arg.Encoding == DecimalNumber || arg.Encoding == ThreadID:
				return args, &ArgumentError{arg.Name, "missing value"}
			}
		}

		v, err := decodeArg(arg, field)
		if err != nil {
			return args, err
		}
		if arg.LengthFrom != "" {
			want, ok := args.values[arg.LengthFrom]
			if !ok {
				return args, &ArgumentError{arg.Name, "length argument " + arg.LengthFrom + " missing"}
			}
			if uint64(len(v.bytes)) != want.num {
				return args, &ArgumentError{arg.Name, fmt.Sprintf("length mismatch: expected %d bytes, got %d", want.num, len(v.bytes))}
			}
		}
		args.values[arg.Name] = v
	}
	if len(rest) > 0 {
		return args, &ArgumentError{Reason: fmt.Sprintf("trailing characters %q", truncate(rest))}
	}
	return args, nil
}

func (s Schema) optionalFrom(i int) bool {
	for ; i < len(s); i++ {
		if !s[i].Optional {
			return false
		}
	}
	return true
}

func decodeArg(arg Arg, field []byte) (argValue, error) {
	switch arg.Encoding {
	case HexNumber:
		n, err := strconv.ParseUint(string(field), 16, 64)
		if err != nil {
			return argValue{}, &ArgumentError{arg.Name, fmt.Sprintf("invalid hex number %q", field)}
		}
		return argValue{num: n}, nil
	case DecimalNumber:
		n, err := strconv.ParseUint(string(field), 10, 64)
		if err != nil {
			return argValue{}, &ArgumentError{arg.Name, fmt.Sprintf("invalid decimal number %q", field)}
		}
		return argValue{num: n}, nil
	case ThreadID:
		if string(field) == "-1" {
			return argValue{num: 1, neg: true}, nil
		}
		n, err := strconv.ParseUint(string(field), 16, 64)
		if err != nil {
			return argValue{}, &ArgumentError{arg.Name, fmt.Sprintf("invalid thread id %q", field)}
		}
		return argValue{num: n}, nil
	case String:
		return argValue{str: string(field)}, nil
	case HexBytes:
		b := make([]byte, hex.DecodedLen(len(field)))
		if _, err := hex.Decode(b, field); err != nil {
			return argValue{}, &ArgumentError{arg.Name, fmt.Sprintf("invalid hex data: %v", err)}
		}
		return argValue{bytes: b}, nil
	case Binary:
		return argValue{bytes: append([]byte(nil), field...)}, nil
	}
	return argValue{}, &ArgumentError{arg.Name, "unknown encoding " + arg.Encoding.String()}
}
