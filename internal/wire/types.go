// Package wire implements the Wayland wire format: an 8-byte header
// (object id, then size<<16|opcode) followed by 32-bit aligned arguments,
// all in host byte order.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the size of the message header in bytes.
	HeaderSize = 8

	// MaxMessageSize is the largest message libwayland accepts.
	MaxMessageSize = 4096
)

var (
	ErrMessageTooLarge = errors.New("wire: message too large")
	ErrMalformed       = errors.New("wire: malformed message")
	ErrShortArgs       = errors.New("wire: argument payload too short")
)

var order = binary.NativeEndian

// Message is one request (client to server) or event (server to client).
type Message struct {
	Object uint32
	Opcode uint16
	Args   []byte // encoded argument payload, 4-byte aligned
}

// NewMessage builds a message whose payload is taken from args. A nil args
// produces a message without arguments.
func NewMessage(object uint32, opcode uint16, args *Args) Message {
	m := Message{Object: object, Opcode: opcode}
	if args != nil {
		m.Args = args.Bytes()
	}
	return m
}

// Size returns the encoded size including the header.
func (m Message) Size() int {
	return HeaderSize + len(m.Args)
}

// Reader returns an argument reader positioned at the start of the payload.
func (m Message) Reader() *ArgReader {
	return NewArgReader(m.Args)
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
