// Package gdbserial implements the wire layer of the Gdb Remote Serial
// Protocol as seen from the stub side of the connection: packet framing,
// checksums, escaping, acknowledgement handling and the typed decoding of
// command arguments.
//
// The protocol is specified at:
//
//	https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
//
// A packet on the wire is '$' payload '#' checksum, where checksum is the
// modulo 256 sum of the transmitted payload bytes written as two hex
// digits. The characters '$', '#', '}' and '*' can not appear verbatim
// inside a payload, they are escaped by sending '}' followed by the
// original byte xor 0x20. Payloads received from the debugger may also use
// run-length encoding ('*' followed by the repeat count plus 29).
package gdbserial

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// escapeXor is the value the protocol uses to escape characters
	escapeXor byte = 0x20

	// ctrlC is the interrupt character sent by the debugger outside of any
	// packet to stop a running target.
	ctrlC byte = 0x03

	packetStart       = '$'
	notificationStart = '%'
	packetEnd         = '#'
	escapeChar        = '}'
	runLengthChar     = '*'

	runLengthOffset = 29
)

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// ErrNeedMoreBytes is returned by Decode when the buffer does not yet
// contain a complete packet.
var ErrNeedMoreBytes = errors.New("incomplete packet")

// ChecksumError is returned by Decode when the checksum of a packet does
// not match its payload. The packet must not be dispatched.
type ChecksumError struct {
	Frame    []byte
	Expected uint8
	Got      string
}

func (err *ChecksumError) Error() string {
	frame := err.Frame
	if len(frame) > gdbWireMaxLen {
		frame = frame[:gdbWireMaxLen]
	}
	return fmt.Sprintf("checksum mismatch for %q: expected %02x, got %q", frame, err.Expected, err.Got)
}

// PacketKind identifies the kind of unit decoded from the byte stream.
type PacketKind uint8

const (
	// PacketCommand is a framed '$...#xx' packet.
	PacketCommand PacketKind = iota
	// PacketAck is a bare '+'.
	PacketAck
	// PacketNack is a bare '-', a request to retransmit the last packet.
	PacketNack
	// PacketInterrupt is the out of band ^C character.
	PacketInterrupt
)

func (k PacketKind) String() string {
	switch k {
	case PacketCommand:
		return "command"
	case PacketAck:
		return "ack"
	case PacketNack:
		return "nack"
	case PacketInterrupt:
		return "interrupt"
	}
	return fmt.Sprintf("PacketKind(%d)", uint8(k))
}

// Packet is a single decoded protocol unit. Payload is only set for
// PacketCommand and is already unescaped.
type Packet struct {
	Kind    PacketKind
	Payload []byte
}

// Decode decodes the first protocol unit contained in buf. It returns the
// unit and the number of bytes of buf that were consumed.
// Bytes that can not start a unit are skipped.
// If buf does not contain a complete unit ErrNeedMoreBytes is returned
// together with the number of leading bytes that can be discarded.
// If the unit is a packet with a bad checksum a *ChecksumError is returned
// and the consumed count covers the whole bad packet.
func Decode(buf []byte) (pkt Packet, n int, err error) {
	for n < len(buf) {
		switch buf[n] {
		case '+':
			return Packet{Kind: PacketAck}, n + 1, nil
		case '-':
			return Packet{Kind: PacketNack}, n + 1, nil
		case ctrlC:
			return Packet{Kind: PacketInterrupt}, n + 1, nil
		case packetStart:
			return decodeFrame(buf, n)
		}
		n++
	}
	return Packet{}, n, ErrNeedMoreBytes
}

func decodeFrame(buf []byte, start int) (Packet, int, error) {
	end := bytes.IndexByte(buf[start+1:], packetEnd)
	if end < 0 {
		return Packet{}, start, ErrNeedMoreBytes
	}
	end += start + 1
	if end+3 > len(buf) {
		return Packet{}, start, ErrNeedMoreBytes
	}
	frame := buf[start : end+3]
	raw := buf[start+1 : end]
	sum := checksum(raw)
	if !checksumok(sum, buf[end+1:end+3]) {
		return Packet{}, end + 3, &ChecksumError{Frame: append([]byte(nil), frame...), Expected: sum, Got: string(buf[end+1 : end+3])}
	}
	payload, err := wiredecode(raw)
	if err != nil {
		return Packet{}, end + 3, err
	}
	return Packet{Kind: PacketCommand, Payload: payload}, end + 3, nil
}

// Encode frames payload as a '$' packet, escaping it as needed.
func Encode(payload []byte) []byte {
	return frame(packetStart, payload)
}

// EncodeNotification frames payload as a '%' asynchronous notification.
func EncodeNotification(payload []byte) []byte {
	return frame(notificationStart, payload)
}

func frame(start byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, start)
	out = wireencode(out, payload)
	sum := checksum(out[1:])
	return append(out, packetEnd, hexdigit[sum>>4], hexdigit[sum&0xf])
}

// wireencode appends the escaped form of payload to out.
func wireencode(out, payload []byte) []byte {
	for _, ch := range payload {
		switch ch {
		case packetStart, packetEnd, escapeChar, runLengthChar:
			out = append(out, escapeChar, ch^escapeXor)
		default:
			out = append(out, ch)
		}
	}
	return out
}

// wiredecode undoes escaping and run-length encoding of a payload.
func wiredecode(in []byte) ([]byte, error) {
	buf := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case escapeChar:
			if i+1 >= len(in) {
				return nil, errors.New("truncated escape sequence at end of packet")
			}
			buf = append(buf, in[i+1]^escapeXor)
			i++
		case runLengthChar:
			if i+1 >= len(in) || len(buf) == 0 {
				return nil, errors.New("malformed run-length encoding")
			}
			n := int(in[i+1]) - runLengthOffset
			if n < 0 {
				return nil, errors.New("malformed run-length encoding")
			}
			r := buf[len(buf)-1]
			for j := 0; j < n; j++ {
				buf = append(buf, r)
			}
			i++
		default:
			buf = append(buf, ch)
		}
	}
	return buf, nil
}

// checksumok checks that checksumBuf is the hex rendering of sum.
// Both lowercase and uppercase digits are accepted.
func checksumok(sum uint8, checksumBuf []byte) bool {
	hi, ok1 := unhex(checksumBuf[0])
	lo, ok2 := unhex(checksumBuf[1])
	if !ok1 || !ok2 {
		return false
	}
	return hi<<4|lo == sum
}

func checksum(raw []byte) (sum uint8) {
	for _, ch := range raw {
		sum += ch
	}
	return sum
}

func unhex(ch byte) (uint8, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}
