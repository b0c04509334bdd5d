package arch

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"strings"
	"testing"
)

func TestLookupPrecedence(t *testing.T) {
	a := &Architecture{
		Name:      "test",
		ByteOrder: binary.LittleEndian,
		CoreRegisters: []RegisterDescriptor{
			{Index: 0, Name: "core0", BitSize: 32},
			{Index: 7, Name: "core7", BitSize: 32},
		},
		Features: []FeatureSet{
			{Name: "first", Registers: []RegisterDescriptor{
				{Index: 7, Name: "feature7", BitSize: 32},
				{Index: 9, Name: "first9", BitSize: 32},
			}},
			{Name: "second", Registers: []RegisterDescriptor{
				{Index: 9, Name: "second9", BitSize: 32},
				{Index: 11, Name: "second11", BitSize: 64},
			}},
		},
	}
	for _, tc := range []struct {
		index uint32
		name  string
	}{
		{0, "core0"},
		{7, "core7"},
		{9, "first9"},
		{11, "second11"},
	} {
		d, ok := a.Lookup(tc.index)
		if !ok {
			t.Fatalf("index %d not found", tc.index)
		}
		if d.Name != tc.name {
			t.Errorf("index %d: expected %s got %s", tc.index, tc.name, d.Name)
		}
	}
	if _, ok := a.Lookup(8); ok {
		t.Errorf("index 8 should not be found")
	}
}

func TestCortexMFeatureRegisters(t *testing.T) {
	d, ok := CortexM.Lookup(0x1d)
	if !ok || d.Name != "basepri" {
		t.Fatalf("expected basepri at 0x1d, got %v %v", d, ok)
	}
	d, ok = CortexM.Lookup(CortexMFAULTMASK)
	if !ok || d.Name != "faultmask" {
		t.Fatalf("expected faultmask at 20, got %v %v", d, ok)
	}
	d, ok = CortexM.Lookup(CortexMPC)
	if !ok || d.Type != CodePointer {
		t.Fatalf("expected pc to be a code pointer, got %v", d)
	}
	for _, idx := range []uint32{16, 21, 24, 31, 33} {
		if d, ok := CortexM.Lookup(idx); ok {
			t.Errorf("unexpected register %v at %d", d, idx)
		}
	}
	if n := len(CortexM.GeneralRegisters()); n != 16 {
		t.Errorf("expected 16 registers in the 'g' packet, got %d", n)
	}
}

func TestSerialize(t *testing.T) {
	value := []byte{0x78, 0x56, 0x34, 0x12}
	d := RegisterDescriptor{Index: 0, Name: "r0", BitSize: 32}
	if got := CortexM.Serialize(value, d); got != "78563412" {
		t.Errorf("little endian: got %s", got)
	}
	if got := PowerPC.Serialize(value, d); got != "12345678" {
		t.Errorf("big endian: got %s", got)
	}
	if got := CortexM.Serialize([]byte{1}, d); got != "01000000" {
		t.Errorf("short value: got %s", got)
	}
	if got := PowerPC.Serialize([]byte{1, 2, 3, 4, 5, 6}, d); got != "04030201" {
		t.Errorf("long value: got %s", got)
	}

	for _, a := range []*Architecture{CortexM, PowerPC, RISCV32} {
		s := a.Serialize(value, d)
		back, err := a.Deserialize(s, d)
		if err != nil {
			t.Fatalf("%s: %v", a.Name, err)
		}
		if !bytes.Equal(back, value) {
			t.Errorf("%s: round trip %x -> %s -> %x", a.Name, value, s, back)
		}
	}
	if _, err := CortexM.Deserialize("1234", d); err == nil {
		t.Errorf("expected a size error")
	}
	if _, err := CortexM.Deserialize("1234567g", d); err == nil {
		t.Errorf("expected a hex error")
	}
}

func TestByName(t *testing.T) {
	for name, want := range map[string]*Architecture{
		"cortex-m": CortexM,
		"Cortex-M": CortexM,
		"arm-m":    CortexM,
		"ppc":      PowerPC,
		"powerpc":  PowerPC,
		"riscv32":  RISCV32,
	} {
		got, ok := ByName(name)
		if !ok || got != want {
			t.Errorf("ByName(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := ByName("z80"); ok {
		t.Errorf("unexpected architecture z80")
	}
	if names := Names(); len(names) != 3 || names[0] != "cortex-m" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestTargetXML(t *testing.T) {
	doc := CortexM.TargetXML()
	if !bytes.HasPrefix(doc, []byte("<?xml")) {
		t.Fatalf("missing xml header: %s", doc)
	}
	var tgt xmlTarget
	if err := xml.Unmarshal(doc[strings.Index(string(doc), "<target"):], &tgt); err != nil {
		t.Fatal(err)
	}
	if tgt.Architecture != "arm" {
		t.Errorf("wrong architecture %q", tgt.Architecture)
	}
	if len(tgt.Features) != 2 || tgt.Features[1].Name != "org.gnu.gdb.arm.m-system" {
		t.Fatalf("wrong features %v", tgt.Features)
	}
	var found bool
	for _, r := range tgt.Features[1].Registers {
		if r.Name == "basepri" && r.Regnum == 29 && r.Bitsize == 32 {
			found = true
		}
	}
	if !found {
		t.Errorf("basepri not described: %s", doc)
	}
	if again := CortexM.TargetXML(); !bytes.Equal(again, doc) {
		t.Errorf("cached document differs")
	}

	ppc := string(PowerPC.TargetXML())
	if !strings.Contains(ppc, "<architecture>powerpc:common</architecture>") || strings.Contains(ppc, "<feature") {
		t.Errorf("unexpected powerpc description %s", ppc)
	}
}
