package service

import "net"

// Config provides the configuration to expose a machine to debuggers.
type Config struct {
	// Listener is used to accept debugger connections.
	Listener net.Listener
	// AcceptMulti configures the server to keep accepting connections
	// after the first debugger disconnects. Only one debugger is served
	// at a time.
	AcceptMulti bool
	// PacketSize is the maximum packet size advertised to debuggers, zero
	// selects the default.
	PacketSize int

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
