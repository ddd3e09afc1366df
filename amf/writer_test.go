package amf

import (
	"bytes"
	"testing"
	"time"
)

// decodeUint29 mirrors the encoding for round-trip checks.
func decodeUint29(b []byte) (v uint32, n int) {
	for i := 0; i < 3 && i < len(b); i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		n++
		if b[i]&0x80 == 0 {
			return v, n
		}
	}
	v = v<<8 | uint32(b[3])
	return v, n + 1
}

func TestWriteUint29Lengths(t *testing.T) {
	lengthTests := []struct {
		value  uint32
		length int
	}{
		{0, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0x1FFFFF, 3},
		{0x200000, 4},
		{0x1FFFFFFF, 4},
	}

	for _, tt := range lengthTests {
		w := NewBufferedWriter()
		if err := w.WriteUint29(tt.value); err != nil {
			t.Fatalf("WriteUint29(%#x) returned error: %v", tt.value, err)
		}
		b, _ := w.Bytes()
		if len(b) != tt.length {
			t.Errorf("WriteUint29(%#x) encoded %d bytes, want %d", tt.value, len(b), tt.length)
		}
	}
}

func TestWriteUint29RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0x80, 0x1234, 0x3FFF, 0x4000, 0xABCDE, 0x1FFFFF, 0x200000, 0xFFFFFFF, 0x1FFFFFFF}
	for _, v := range values {
		w := NewBufferedWriter()
		if err := w.WriteUint29(v); err != nil {
			t.Fatalf("WriteUint29(%#x) returned error: %v", v, err)
		}
		b, _ := w.Bytes()
		got, n := decodeUint29(b)
		if got != v || n != len(b) {
			t.Errorf("round trip of %#x: got %#x from %d bytes (encoded %d)", v, got, n, len(b))
		}
	}
}

func TestWriteUint29Masks(t *testing.T) {
	// values above 29 bits wrap instead of failing
	w := NewBufferedWriter()
	if err := w.WriteUint29(0xFFFFFFFF); err != nil {
		t.Fatalf("WriteUint29 returned error: %v", err)
	}
	b, _ := w.Bytes()
	got, _ := decodeUint29(b)
	if got != 0x1FFFFFFF {
		t.Errorf("got %#x, want %#x", got, uint32(0x1FFFFFFF))
	}
}

func TestWriterModes(t *testing.T) {
	sync := NewWriter(&bytes.Buffer{})
	if err := sync.Flush(&bytes.Buffer{}); err != ErrInvalidMode {
		t.Errorf("Flush on sync writer: got %v, want ErrInvalidMode", err)
	}
	if _, err := sync.Bytes(); err != ErrInvalidMode {
		t.Errorf("Bytes on sync writer: got %v, want ErrInvalidMode", err)
	}

	buffered := NewBufferedWriter()
	if err := buffered.WriteUint16(0xBEEF); err != nil {
		t.Fatalf("WriteUint16 returned error: %v", err)
	}
	dst := &bytes.Buffer{}
	if err := buffered.Flush(dst); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if !bytes.Equal(dst.Bytes(), []byte{0xBE, 0xEF}) {
		t.Errorf("flushed %x, want beef", dst.Bytes())
	}
	if b, _ := buffered.Bytes(); len(b) != 0 {
		t.Errorf("expected buffer to be empty after flush, got %d bytes", len(b))
	}
}

func TestWritePrimitives(t *testing.T) {
	w := NewBufferedWriter()
	w.WriteByte(0x01)
	w.WriteUint16(0x0203)
	w.WriteUint24(0x040506)
	w.WriteUint32(0x0708090A)
	w.WriteReverseInt32(0x01020304)
	b, _ := w.Bytes()
	want := []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06,
		0x07, 0x08, 0x09, 0x0A,
		0x04, 0x03, 0x02, 0x01,
	}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}
}

func TestWriteUTF8(t *testing.T) {
	w := NewBufferedWriter()
	if err := w.WriteUTF8("hi"); err != nil {
		t.Fatalf("WriteUTF8 returned error: %v", err)
	}
	b, _ := w.Bytes()
	if !bytes.Equal(b, []byte{0x00, 0x02, 'h', 'i'}) {
		t.Errorf("got % x", b)
	}

	long := string(make([]byte, 0x10000))
	if err := w.WriteUTF8(long); err != ErrStringTooLong {
		t.Errorf("oversize short string: got %v, want ErrStringTooLong", err)
	}
	if err := w.WriteUTF8Long(long); err != nil {
		t.Errorf("WriteUTF8Long returned error: %v", err)
	}
}

func TestWriteTimestamp(t *testing.T) {
	w := NewBufferedWriter()
	// 2^53 ms boundary is irrelevant here, just verify the double layout
	if err := w.WriteTimestamp(time.Unix(1, 500000000).UTC()); err != nil {
		t.Fatalf("WriteTimestamp returned error: %v", err)
	}
	b, _ := w.Bytes()
	// 1500 ms as an IEEE-754 double
	want := []byte{0x40, 0x97, 0x70, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}
}
