package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeHeader(t *testing.T) {
	var buf bytes.Buffer
	msg := NewMessage(3, 1, new(Args).Uint(23).Uint(4))
	if err := Encode(&buf, msg); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out := buf.Bytes()
	if len(out) != 16 {
		t.Fatalf("encoded length = %d, want 16", len(out))
	}
	if got := order.Uint32(out[0:]); got != 3 {
		t.Errorf("object = %d, want 3", got)
	}
	word := order.Uint32(out[4:])
	if size := word >> 16; size != 16 {
		t.Errorf("size = %d, want 16", size)
	}
	if opcode := word & 0xffff; opcode != 1 {
		t.Errorf("opcode = %d, want 1", opcode)
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "too large",
			msg:     Message{Object: 1, Args: make([]byte, MaxMessageSize)},
			wantErr: ErrMessageTooLarge,
		},
		{
			name:    "unaligned payload",
			msg:     Message{Object: 1, Args: []byte{1, 2, 3}},
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Encode(io.Discard, tt.msg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecoderReadsSequentialMessages(t *testing.T) {
	var buf bytes.Buffer
	first := NewMessage(1, 1, new(Args).NewID(2))
	second := NewMessage(2, 0, new(Args).Uint(1).String("zway_cooler_keybindings").Uint(1).NewID(3))
	third := NewMessage(3, 1, nil)
	for _, m := range []Message{first, second, third} {
		if err := Encode(&buf, m); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	dec := NewDecoder(&buf)

	m, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Object != 1 || m.Opcode != 1 || m.Reader().NewID() != 2 {
		t.Errorf("first message = %+v", m)
	}

	m, err = dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	r := m.Reader()
	name, iface, version, id := r.Uint(), r.String(), r.Uint(), r.NewID()
	if err := r.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if name != 1 || iface != "zway_cooler_keybindings" || version != 1 || id != 3 {
		t.Errorf("bind args = %d %q %d %d", name, iface, version, id)
	}

	m, err = dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Object != 3 || m.Opcode != 1 || len(m.Args) != 0 {
		t.Errorf("third message = %+v", m)
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("Decode() at end = %v, want io.EOF", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{
			name:    "size smaller than header",
			input:   header(1, 4, 0),
			wantErr: ErrMalformed,
		},
		{
			name:    "unaligned size",
			input:   header(1, 10, 0),
			wantErr: ErrMalformed,
		},
		{
			name:    "truncated payload",
			input:   header(1, 16, 0),
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "truncated header",
			input:   []byte{1, 0, 0},
			wantErr: io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(bytes.NewReader(tt.input)).Decode()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestArgReader(t *testing.T) {
	t.Run("strings are padded and NUL terminated", func(t *testing.T) {
		for _, s := range []string{"a", "abc", "abcd", "wl_registry", ""} {
			args := new(Args).String(s).Uint(9)
			if len(args.Bytes())%4 != 0 {
				t.Fatalf("payload for %q not aligned", s)
			}
			r := NewArgReader(args.Bytes())
			if got := r.String(); got != s {
				t.Errorf("String() = %q, want %q", got, s)
			}
			if got := r.Uint(); got != 9 {
				t.Errorf("Uint() after %q = %d, want 9", s, got)
			}
			if err := r.Finish(); err != nil {
				t.Errorf("Finish() error = %v", err)
			}
		}
	})

	t.Run("array round trip", func(t *testing.T) {
		r := NewArgReader(new(Args).Array([]byte{1, 2, 3, 4, 5}).Int(-1).Bytes())
		if got := r.Array(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
			t.Errorf("Array() = %v", got)
		}
		if got := r.Int(); got != -1 {
			t.Errorf("Int() = %d, want -1", got)
		}
	})

	t.Run("short payload is sticky", func(t *testing.T) {
		r := NewArgReader([]byte{1, 0})
		if r.Uint() != 0 || r.Uint() != 0 {
			t.Error("expected zero values after short read")
		}
		if !errors.Is(r.Err(), ErrShortArgs) {
			t.Errorf("Err() = %v, want ErrShortArgs", r.Err())
		}
	})

	t.Run("missing terminator", func(t *testing.T) {
		payload := order.AppendUint32(nil, 4)
		payload = append(payload, []byte("abcd")...)
		r := NewArgReader(payload)
		_ = r.String()
		if !errors.Is(r.Err(), ErrMalformed) {
			t.Errorf("Err() = %v, want ErrMalformed", r.Err())
		}
	})

	t.Run("oversized length prefix", func(t *testing.T) {
		for _, n := range []uint32{5, 0x7ffffffd, 0xfffffffe, 0xffffffff} {
			payload := order.AppendUint32(nil, n)
			payload = append(payload, []byte("abc\x00")...)

			r := NewArgReader(payload)
			if got := r.String(); got != "" {
				t.Errorf("String() with length %#x = %q", n, got)
			}
			if !errors.Is(r.Err(), ErrShortArgs) {
				t.Errorf("String() with length %#x: Err() = %v, want ErrShortArgs", n, r.Err())
			}

			r = NewArgReader(payload)
			if got := r.Array(); got != nil {
				t.Errorf("Array() with length %#x = %v", n, got)
			}
			if !errors.Is(r.Err(), ErrShortArgs) {
				t.Errorf("Array() with length %#x: Err() = %v, want ErrShortArgs", n, r.Err())
			}
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		r := NewArgReader(new(Args).Uint(1).Uint(2).Bytes())
		_ = r.Uint()
		if err := r.Finish(); err == nil || !strings.Contains(err.Error(), "trailing") {
			t.Errorf("Finish() error = %v, want trailing bytes", err)
		}
	})
}

func header(object uint32, size, opcode uint16) []byte {
	b := order.AppendUint32(nil, object)
	return order.AppendUint32(b, uint32(size)<<16|uint32(opcode))
}
