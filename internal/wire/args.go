package wire

import (
	"bytes"
	"fmt"
)

// Args accumulates an argument payload.
type Args struct {
	buf []byte
}

func (a *Args) putUint32(v uint32) {
	a.buf = order.AppendUint32(a.buf, v)
}

// Uint appends a uint argument.
func (a *Args) Uint(v uint32) *Args {
	a.putUint32(v)
	return a
}

// Int appends an int argument.
func (a *Args) Int(v int32) *Args {
	a.putUint32(uint32(v))
	return a
}

// Object appends an object id argument.
func (a *Args) Object(id uint32) *Args {
	a.putUint32(id)
	return a
}

// NewID appends a typed new_id argument.
func (a *Args) NewID(id uint32) *Args {
	a.putUint32(id)
	return a
}

// String appends a string argument. The empty string is encoded as a null
// string (length 0).
func (a *Args) String(s string) *Args {
	if s == "" {
		a.putUint32(0)
		return a
	}
	n := len(s) + 1
	a.putUint32(uint32(n))
	a.buf = append(a.buf, s...)
	a.buf = append(a.buf, make([]byte, pad4(n)-len(s))...)
	return a
}

// Array appends an array argument.
func (a *Args) Array(b []byte) *Args {
	a.putUint32(uint32(len(b)))
	a.buf = append(a.buf, b...)
	a.buf = append(a.buf, make([]byte, pad4(len(b))-len(b))...)
	return a
}

// Bytes returns the encoded payload.
func (a *Args) Bytes() []byte {
	return a.buf
}

// ArgReader decodes arguments from a payload. The first error is sticky;
// subsequent reads return zero values.
type ArgReader struct {
	buf []byte
	off int
	err error
}

func NewArgReader(b []byte) *ArgReader {
	return &ArgReader{buf: b}
}

func (r *ArgReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf)-r.off < 4 {
		r.err = ErrShortArgs
		return 0
	}
	v := order.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// Uint reads a uint argument.
func (r *ArgReader) Uint() uint32 { return r.uint32() }

// Int reads an int argument.
func (r *ArgReader) Int() int32 { return int32(r.uint32()) }

// Object reads an object id argument.
func (r *ArgReader) Object() uint32 { return r.uint32() }

// NewID reads a typed new_id argument.
func (r *ArgReader) NewID() uint32 { return r.uint32() }

// length reads a string or array length prefix, rejecting lengths longer
// than the remaining payload before any padding arithmetic.
func (r *ArgReader) length() int {
	v := r.uint32()
	if r.err != nil {
		return 0
	}
	if uint64(v) > uint64(len(r.buf)-r.off) {
		r.err = ErrShortArgs
		return 0
	}
	return int(v)
}

// String reads a string argument. Null strings decode as "".
func (r *ArgReader) String() string {
	n := r.length()
	if r.err != nil || n == 0 {
		return ""
	}
	padded := pad4(n)
	if len(r.buf)-r.off < padded {
		r.err = ErrShortArgs
		return ""
	}
	raw := r.buf[r.off : r.off+n]
	r.off += padded
	if raw[n-1] != 0 || bytes.IndexByte(raw[:n-1], 0) >= 0 {
		r.err = fmt.Errorf("%w: string not NUL terminated", ErrMalformed)
		return ""
	}
	return string(raw[:n-1])
}

// Array reads an array argument. The returned slice aliases the payload.
func (r *ArgReader) Array() []byte {
	n := r.length()
	if r.err != nil {
		return nil
	}
	padded := pad4(n)
	if len(r.buf)-r.off < padded {
		r.err = ErrShortArgs
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += padded
	return b
}

// Err returns the first decoding error.
func (r *ArgReader) Err() error {
	return r.err
}

// Finish returns the first decoding error, or ErrMalformed when unread
// bytes remain in the payload.
func (r *ArgReader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return nil
}
