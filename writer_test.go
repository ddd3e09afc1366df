package rtmp

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
)

func TestNewWriterRejectsNil(t *testing.T) {
	if _, err := NewWriter(nil); err != ErrNilWriter {
		t.Errorf("got %v, want ErrNilWriter", err)
	}
	if _, err := NewChunkWriterTo(zap.NewNop(), nil, NewMessageSerializer()); err != ErrNilWriter {
		t.Errorf("got %v, want ErrNilWriter", err)
	}
}

func TestChunkWriterToFlushesPerPacket(t *testing.T) {
	var out bytes.Buffer
	cw, err := NewChunkWriterTo(zap.NewNop(), &out, NewMessageSerializer())
	if err != nil {
		t.Fatalf("NewChunkWriterTo returned error: %v", err)
	}

	if err := cw.WriteMessage(NewAcknowledgementMessage(0xCAFE)); err != nil {
		t.Fatalf("WriteMessage returned error: %v", err)
	}
	// the per-packet flush pushed the whole chunk through the buffered sink
	want := []byte{
		0x02,
		0x00, 0x00, 0x00,
		0x00, 0x00, 0x04,
		0x03,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0xCA, 0xFE,
	}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("got % x\nwant % x", out.Bytes(), want)
	}
}
