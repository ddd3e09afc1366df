package rtmp

import (
	"encoding/binary"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tessarin/rtmp/config"
	"github.com/tessarin/rtmp/internal/binary24"
	"go.uber.org/zap"
)

// Chunk types
const (
	ChunkType0 uint8 = 0
	ChunkType1 uint8 = 1
	ChunkType2 uint8 = 2
	ChunkType3 uint8 = 3
)

const (
	// Only the protocol channel is defined in the spec (csid = 2), the others are
	// this library's convention of keeping one type of data per chunk stream id
	ProtocolChannel uint8 = 2
	CommandChannel  uint8 = 3
	AudioChannel    uint8 = 4
	VideoChannel    uint8 = 7
)

const (
	LimitHard    uint8 = 0
	LimitSoft    uint8 = 1
	LimitDynamic uint8 = 2
)

// extendedTimestampThreshold is the saturation point of the 24-bit timestamp
// field; timestamps at or above it escape to the 32-bit trailer.
const extendedTimestampThreshold uint32 = 0xFFFFFF

// ChunkWriter serializes messages and multiplexes them onto the transport as
// chunks. It keeps the previous header seen on each chunk stream so repeated
// headers compress down to type 1/2/3 forms, and fragments bodies at the
// current write chunk size. A ChunkWriter is owned by a single consumer; it is
// not safe for concurrent WriteMessage calls.
type ChunkWriter struct {
	id         string
	logger     *zap.Logger
	out        WriteFlusher
	serializer *MessageSerializer

	// previous header per chunk stream id, updated after each body is composed
	// but before its header is emitted
	prevHeader map[uint32]Header

	writeChunkSize uint32

	observers []func(error)
	closed    bool
}

func NewChunkWriter(logger *zap.Logger, out WriteFlusher, serializer *MessageSerializer) *ChunkWriter {
	return &ChunkWriter{
		id:             uuid.New().String(),
		logger:         logger,
		out:            out,
		serializer:     serializer,
		prevHeader:     make(map[uint32]Header),
		writeChunkSize: config.DefaultChunkSize,
	}
}

// ID identifies this writer in logs.
func (cw *ChunkWriter) ID() string {
	return cw.id
}

// OnDisconnect registers an observer invoked once when a transport error tears
// the writer down.
func (cw *ChunkWriter) OnDisconnect(fn func(error)) {
	cw.observers = append(cw.observers, fn)
}

// WriteChunkSize reports the chunk size currently applied to outgoing bodies.
func (cw *ChunkWriter) WriteChunkSize() uint32 {
	return cw.writeChunkSize
}

// WriteMessage serializes m, emits it as one or more chunks and flushes the
// transport. Serialization errors are fatal to the message only; transport
// errors close the writer permanently and notify disconnect observers.
func (cw *ChunkWriter) WriteMessage(m *Message) error {
	if cw.closed {
		return ErrWriterClosed
	}

	body, err := cw.serializer.SerializeBody(m)
	if err != nil {
		return err
	}

	header := Header{
		ChunkStreamID:   m.ChunkStreamID,
		MessageStreamID: m.MessageStreamID,
		MessageType:     m.Type,
		Timestamp:       m.Timestamp,
		Length:          uint32(len(body)),
		TimerRelative:   m.TimerRelative,
	}

	if err := cw.writeChunks(header, body); err != nil {
		cw.disconnect(err)
		return errors.Wrap(ErrDisconnected, err.Error())
	}
	if err := cw.out.Flush(); err != nil {
		cw.disconnect(err)
		return errors.Wrap(ErrDisconnected, err.Error())
	}

	// A chunk-size change applies to subsequent messages, never to the one that
	// carried it.
	if m.Type == SetChunkSize && m.Value > 0 {
		cw.writeChunkSize = uint32(m.Value)
	}
	return nil
}

func (cw *ChunkWriter) disconnect(err error) {
	if cw.closed {
		return
	}
	cw.closed = true
	cw.logger.Error("chunk writer: transport error, closing",
		zap.String("writerID", cw.id),
		zap.Error(err))
	for _, fn := range cw.observers {
		fn(err)
	}
}

// selectFormat picks the chunk message header type for h given the previous
// header on the same chunk stream.
func (cw *ChunkWriter) selectFormat(h Header) uint8 {
	prev, seen := cw.prevHeader[h.ChunkStreamID]
	if !seen || h.MessageStreamID != prev.MessageStreamID || !h.TimerRelative {
		return ChunkType0
	}
	if h.Length != prev.Length || h.MessageType != prev.MessageType {
		return ChunkType1
	}
	if h.Timestamp != prev.Timestamp {
		return ChunkType2
	}
	return ChunkType3
}

func (cw *ChunkWriter) writeChunks(h Header, body []byte) error {
	format := cw.selectFormat(h)
	cw.prevHeader[h.ChunkStreamID] = h
	extended := h.Timestamp >= extendedTimestampThreshold

	if err := cw.writeBasicHeader(format, h.ChunkStreamID); err != nil {
		return err
	}
	if err := cw.writeMessageHeader(format, h); err != nil {
		return err
	}

	for i := uint32(0); i < h.Length; i += cw.writeChunkSize {
		if i > 0 {
			// continuation of the same message: type 3 header on the same stream,
			// re-emitting the extended timestamp trailer when one is in effect
			if err := cw.writeBasicHeader(ChunkType3, h.ChunkStreamID); err != nil {
				return err
			}
			if extended {
				if err := cw.writeExtendedTimestamp(h.Timestamp); err != nil {
					return err
				}
			}
		}
		n := h.Length - i
		if n > cw.writeChunkSize {
			n = cw.writeChunkSize
		}
		if _, err := cw.out.Write(body[i : i+n]); err != nil {
			return err
		}
	}
	return nil
}

// writeBasicHeader emits the 1, 2 or 3-byte basic header carrying the chunk
// format and chunk stream id.
func (cw *ChunkWriter) writeBasicHeader(format uint8, csid uint32) error {
	var buf [3]byte
	switch {
	case csid <= 63:
		buf[0] = format<<6 | uint8(csid)
		_, err := cw.out.Write(buf[:1])
		return err
	case csid <= 319:
		buf[0] = format << 6
		buf[1] = uint8(csid - 64)
		_, err := cw.out.Write(buf[:2])
		return err
	default:
		buf[0] = format<<6 | 1
		binary.LittleEndian.PutUint16(buf[1:], uint16(csid-64))
		_, err := cw.out.Write(buf[:3])
		return err
	}
}

func (cw *ChunkWriter) writeMessageHeader(format uint8, h Header) error {
	extended := h.Timestamp >= extendedTimestampThreshold
	field := h.Timestamp
	if extended {
		field = extendedTimestampThreshold
	}

	var buf [11]byte
	var n int
	switch format {
	case ChunkType0:
		binary24.BigEndian.PutUint24(buf[0:3], field)
		binary24.BigEndian.PutUint24(buf[3:6], h.Length)
		buf[6] = uint8(h.MessageType)
		// message stream id is the one little-endian field in the protocol
		binary.LittleEndian.PutUint32(buf[7:11], h.MessageStreamID)
		n = 11
	case ChunkType1:
		binary24.BigEndian.PutUint24(buf[0:3], field)
		binary24.BigEndian.PutUint24(buf[3:6], h.Length)
		buf[6] = uint8(h.MessageType)
		n = 7
	case ChunkType2:
		binary24.BigEndian.PutUint24(buf[0:3], field)
		n = 3
	case ChunkType3:
		// no fields, but an extended timestamp inherited from the compressed
		// header still gets its trailer
		n = 0
	}
	if n > 0 {
		if _, err := cw.out.Write(buf[:n]); err != nil {
			return err
		}
	}

	if extended {
		return cw.writeExtendedTimestamp(h.Timestamp)
	}
	return nil
}

func (cw *ChunkWriter) writeExtendedTimestamp(timestamp uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], timestamp)
	_, err := cw.out.Write(buf[:])
	return err
}
