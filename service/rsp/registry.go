package rsp

import (
	"fmt"

	"github.com/derekparker/trie"

	"github.com/hwemu/gdbstub/pkg/gdbserial"
)

// Handler executes a command for a session.
type Handler func(s *Session, args gdbserial.Args) Reply

// Descriptor binds a mnemonic to the handler implementing it.
//
// A packet matches a descriptor when the mnemonic is a prefix of the
// packet payload. Whatever follows the mnemonic is decoded according to
// Args, descriptors without Args only match packets equal to their
// mnemonic.
type Descriptor struct {
	Mnemonic string
	Args     gdbserial.Schema
	Handler  Handler
}

var commands = trie.New()

// Register adds a command to the table used by every session. It is meant
// to be called from init functions.
func Register(d Descriptor) {
	if d.Mnemonic == "" || d.Handler == nil {
		panic("rsp: invalid command descriptor")
	}
	for _, ch := range []byte(d.Mnemonic) {
		if ch == 0 || ch >= 0x80 {
			panic(fmt.Sprintf("rsp: invalid mnemonic %q", d.Mnemonic))
		}
	}
	if _, dup := commands.Find(d.Mnemonic); dup {
		panic(fmt.Sprintf("rsp: command %q registered twice", d.Mnemonic))
	}
	commands.Add(d.Mnemonic, &d)
}

// resolve finds the descriptor for payload, preferring the longest
// mnemonic that is a prefix of payload. It returns the descriptor and the
// part of payload following the mnemonic.
func resolve(payload []byte) (*Descriptor, []byte) {
	var matches []*Descriptor
	node := commands.Root()
	for _, ch := range payload {
		if ch == 0 || ch >= 0x80 {
			break
		}
		child, ok := node.Children()[rune(ch)]
		if !ok {
			break
		}
		node = child
		if leaf, ok := node.Children()[0]; ok && leaf.Terminating() {
			matches = append(matches, leaf.Meta().(*Descriptor))
		}
	}
	for i := len(matches) - 1; i >= 0; i-- {
		d := matches[i]
		suffix := payload[len(d.Mnemonic):]
		if len(suffix) > 0 && len(d.Args) == 0 {
			continue
		}
		return d, suffix
	}
	return nil, nil
}

// Mnemonics returns every registered mnemonic.
func Mnemonics() []string {
	return commands.Keys()
}
