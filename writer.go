package rtmp

import (
	"bufio"
	"io"

	"github.com/tessarin/rtmp/config"
	"go.uber.org/zap"
)

// WriteFlusher is the sink contract the chunk writer requires from its host: a
// stream that accepts writes and flushes buffered data on demand. The chunk
// writer flushes once at the end of each packet.
type WriteFlusher interface {
	io.Writer
	Flusher
}

type Flusher interface {
	Flush() error
}

// Writer buffers writes to an underlying stream, typically a net.Conn, so each
// packet reaches the transport as few large writes instead of one write per
// header and fragment.
type Writer struct {
	writer *bufio.Writer
}

// NewWriter wraps w in a buffered sink sized for media payloads.
func NewWriter(w io.Writer) (*Writer, error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	return &Writer{writer: bufio.NewWriterSize(w, config.BuffioSize)}, nil
}

// Write appends p to the buffer, spilling to the underlying stream when full.
func (w *Writer) Write(p []byte) (n int, err error) {
	return w.writer.Write(p)
}

// Flush writes any buffered data to the underlying stream.
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

// NewChunkWriterTo builds the default write pipeline over w: a buffered sink
// feeding a chunk writer.
func NewChunkWriterTo(logger *zap.Logger, w io.Writer, serializer *MessageSerializer) (*ChunkWriter, error) {
	sink, err := NewWriter(w)
	if err != nil {
		return nil, err
	}
	return NewChunkWriter(logger, sink, serializer), nil
}
