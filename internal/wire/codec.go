package wire

import (
	"bufio"
	"fmt"
	"io"
)

// Encode serializes m and writes it to w in a single Write call.
func Encode(w io.Writer, m Message) error {
	buf, err := Marshal(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of m.
func Marshal(m Message) ([]byte, error) {
	size := m.Size()
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}
	if len(m.Args)%4 != 0 {
		return nil, fmt.Errorf("%w: payload not 4-byte aligned", ErrMalformed)
	}
	buf := make([]byte, 0, size)
	buf = order.AppendUint32(buf, m.Object)
	buf = order.AppendUint32(buf, uint32(size)<<16|uint32(m.Opcode))
	buf = append(buf, m.Args...)
	return buf, nil
}

// Decoder reads messages from a byte stream.
type Decoder struct {
	r   *bufio.Reader
	hdr [HeaderSize]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxMessageSize)}
}

// Decode reads the next message. io.EOF is returned unwrapped when the
// stream ends cleanly on a message boundary.
func (d *Decoder) Decode() (Message, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("read header: %w", err)
	}

	object := order.Uint32(d.hdr[0:])
	word := order.Uint32(d.hdr[4:])
	size := int(word >> 16)
	opcode := uint16(word & 0xffff)

	if size < HeaderSize || size%4 != 0 {
		return Message{}, fmt.Errorf("%w: bad size %d", ErrMalformed, size)
	}
	if size > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	m := Message{Object: object, Opcode: opcode}
	if size > HeaderSize {
		m.Args = make([]byte, size-HeaderSize)
		if _, err := io.ReadFull(d.r, m.Args); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Message{}, fmt.Errorf("read payload: %w", err)
		}
	}
	return m, nil
}
