package gdbserial

import (
	"bytes"
	"errors"
	"testing"
)

var (
	memWriteSchema = Schema{
		{Name: "addr", Encoding: HexNumber, Delim: ','},
		{Name: "length", Encoding: HexNumber, Delim: ':'},
		{Name: "data", Encoding: HexBytes, LengthFrom: "length"},
	}
	binWriteSchema = Schema{
		{Name: "addr", Encoding: HexNumber, Delim: ','},
		{Name: "length", Encoding: HexNumber, Delim: ':'},
		{Name: "data", Encoding: Binary, LengthFrom: "length"},
	}
	continueSchema = Schema{
		{Name: "addr", Encoding: HexNumber, Optional: true},
	}
	threadSchema = Schema{
		{Name: "thread", Encoding: ThreadID},
	}
)

func TestSchemaDecode(t *testing.T) {
	args, err := memWriteSchema.Decode([]byte("20000000,4:deadbeef"))
	if err != nil {
		t.Fatal(err)
	}
	if args.Uint64("addr") != 0x20000000 || args.Uint64("length") != 4 {
		t.Fatalf("wrong numbers %#x %d", args.Uint64("addr"), args.Uint64("length"))
	}
	if !bytes.Equal(args.Bytes("data"), []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("wrong data %x", args.Bytes("data"))
	}

	args, err = binWriteSchema.Decode([]byte("100,3:a:,"))
	if err != nil {
		t.Fatal(err)
	}
	if string(args.Bytes("data")) != "a:," {
		t.Fatalf("wrong binary data %q", args.Bytes("data"))
	}

	args, err = binWriteSchema.Decode([]byte("100,0:"))
	if err != nil {
		t.Fatal(err)
	}
	if len(args.Bytes("data")) != 0 {
		t.Fatalf("expected empty payload")
	}
}

func TestSchemaDecodeOptional(t *testing.T) {
	args, err := continueSchema.Decode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if args.Has("addr") {
		t.Fatal("addr should be missing")
	}
	args, err = continueSchema.Decode([]byte("1000"))
	if err != nil {
		t.Fatal(err)
	}
	if !args.Has("addr") || args.Uint64("addr") != 0x1000 {
		t.Fatalf("wrong addr %#x", args.Uint64("addr"))
	}

	s := Schema{
		{Name: "annex", Encoding: String, Delim: ':'},
		{Name: "extra", Encoding: String, Optional: true},
	}
	args, err = s.Decode([]byte("target.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if args.String("annex") != "target.xml" || args.Has("extra") {
		t.Fatalf("unexpected args %q %v", args.String("annex"), args.Has("extra"))
	}
}

func TestSchemaDecodeThreadID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"-1", -1},
		{"0", 0},
		{"1", 1},
		{"1f", 31},
	} {
		args, err := threadSchema.Decode([]byte(tc.in))
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got := args.Int64("thread"); got != tc.want {
			t.Errorf("%q: expected %d got %d", tc.in, tc.want, got)
		}
	}
}

func TestSchemaDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		schema Schema
		in     string
		field  string
	}{
		{memWriteSchema, "20000000", "addr"},
		{memWriteSchema, "2000zz00,4:00000000", "addr"},
		{memWriteSchema, "20000000,4:dead", "data"},
		{memWriteSchema, "20000000,4:deadbeeg", "data"},
		{memWriteSchema, ",4:deadbeef", "addr"},
		{binWriteSchema, "100,4:abc", "data"},
		{threadSchema, "", "thread"},
		{threadSchema, "-2", "thread"},
		{Schema{{Name: "index", Encoding: HexNumber}}, "0x10", "index"},
		{Schema{{Name: "mode", Encoding: DecimalNumber}}, "1a", "mode"},
		{Schema{{Name: "addr", Encoding: HexNumber, Delim: ','}, {Name: "length", Encoding: HexNumber, Delim: ','}}, "10,4,5", ""},
	} {
		_, err := tc.schema.Decode([]byte(tc.in))
		var argerr *ArgumentError
		if !errors.As(err, &argerr) {
			t.Errorf("%q: expected an argument error, got %v", tc.in, err)
			continue
		}
		if argerr.Field != tc.field {
			t.Errorf("%q: expected error on field %q, got %v", tc.in, tc.field, argerr)
		}
	}
}
