package arch

import (
	"encoding/xml"
	"fmt"
	"strings"
	"text/tabwriter"

	lru "github.com/hashicorp/golang-lru"
)

// The schema of target descriptions is described by:
//  https://github.com/bminor/binutils-gdb/blob/61baf725eca99af2569262d10aca03dcde2698f6/gdb/features/gdb-target.dtd

type xmlTarget struct {
	XMLName      xml.Name     `xml:"target"`
	Version      string       `xml:"version,attr"`
	Architecture string       `xml:"architecture,omitempty"`
	Features     []xmlFeature `xml:"feature"`
}

type xmlFeature struct {
	Name      string        `xml:"name,attr"`
	Registers []xmlRegister `xml:"reg"`
}

type xmlRegister struct {
	Name    string `xml:"name,attr"`
	Bitsize uint32 `xml:"bitsize,attr"`
	Regnum  uint32 `xml:"regnum,attr"`
	Type    string `xml:"type,attr"`
	Group   string `xml:"group,attr,omitempty"`
}

const targetXMLHeader = `<?xml version="1.0"?>` + "\n" + `<!DOCTYPE target SYSTEM "gdb-target.dtd">` + "\n"

var targetCache *lru.Cache

func init() {
	var err error
	targetCache, err = lru.New(16)
	if err != nil {
		panic(err)
	}
}

// TargetXML returns the target description document of the architecture,
// as served through qXfer:features:read:target.xml.
func (a *Architecture) TargetXML() []byte {
	if doc, ok := targetCache.Get(a); ok {
		return doc.([]byte)
	}
	tgt := xmlTarget{Version: "1.0", Architecture: a.GDBArchitecture}
	for _, f := range a.Features {
		xf := xmlFeature{Name: f.Name}
		for _, d := range f.Registers {
			xf.Registers = append(xf.Registers, xmlRegister{
				Name:    d.Name,
				Bitsize: d.BitSize,
				Regnum:  d.Index,
				Type:    d.Type.String(),
				Group:   d.Group,
			})
		}
		tgt.Features = append(tgt.Features, xf)
	}
	out, err := xml.MarshalIndent(&tgt, "", "  ")
	if err != nil {
		// only plain strings and numbers are marshalled
		panic(err)
	}
	doc := append([]byte(targetXMLHeader), out...)
	targetCache.Add(a, doc)
	return doc
}

// Describe returns a human readable listing of every register of the
// architecture.
func (a *Architecture) Describe() string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "FEATURE\tINDEX\tNAME\tBITS\tTYPE\n")
	for _, d := range a.CoreRegisters {
		fmt.Fprintf(w, "core\t%d\t%s\t%d\t%s\n", d.Index, d.Name, d.BitSize, d.Type)
	}
	for _, f := range a.Features {
		for _, d := range f.Registers {
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", f.Name, d.Index, d.Name, d.BitSize, d.Type)
		}
	}
	w.Flush()
	return buf.String()
}
