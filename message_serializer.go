package rtmp

import (
	"github.com/pkg/errors"
	"github.com/tessarin/rtmp/amf"
	"github.com/tessarin/rtmp/amf/amf0"
	"github.com/tessarin/rtmp/amf/amf3"
)

// callFailedStatus is the error-status object substituted for the argument list
// of a failed invoke.
var callFailedStatus = &amf.Object{
	Members: []amf.Pair{
		{Name: "code", Value: "NetConnection.Call.Failed"},
		{Name: "level", Value: "error"},
		{Name: "description", Value: "Call failed."},
	},
}

// MessageSerializer turns messages into the payload buffers handed to the chunk
// writer. Each body is composed on a fresh buffered sink with fresh encoders, so
// AMF reference indices never cross message boundaries.
type MessageSerializer struct {
	ctx      amf.SerializationContext
	missing  amf.MissingTypeStrategy
	encoding amf.ObjectEncoding
}

func NewMessageSerializer() *MessageSerializer {
	return &MessageSerializer{}
}

// SetContext installs the class-description oracle used for application values.
func (s *MessageSerializer) SetContext(ctx amf.SerializationContext, missing amf.MissingTypeStrategy) {
	s.ctx = ctx
	s.missing = missing
}

// SetObjectEncoding selects the object encoding applied to AMF0 command and
// data messages. AMF3-typed messages always use AMF3 directly.
func (s *MessageSerializer) SetObjectEncoding(encoding amf.ObjectEncoding) {
	s.encoding = encoding
}

// SerializeBody lays out the payload for m according to its message type.
func (s *MessageSerializer) SerializeBody(m *Message) ([]byte, error) {
	w := amf.NewBufferedWriter()

	switch m.Type {
	case SetChunkSize, AbortMessage, Acknowledgement, WindowAcknowledgementSize:
		if err := w.WriteInt32(m.Value); err != nil {
			return nil, err
		}

	case SetPeerBandwidth:
		if err := w.WriteInt32(m.Value); err != nil {
			return nil, err
		}
		if err := w.WriteByte(m.LimitType); err != nil {
			return nil, err
		}

	case UserControlMessage:
		if m.Event == nil {
			return nil, errors.Errorf("rtmp: user control message without an event")
		}
		if err := w.WriteUint16(m.Event.Type); err != nil {
			return nil, err
		}
		for _, value := range m.Event.Values {
			if err := w.WriteUint32(value); err != nil {
				return nil, err
			}
		}

	case AudioMessage, VideoMessage:
		if m.Payload != nil {
			if err := w.Write(m.Payload); err != nil {
				return nil, err
			}
			break
		}
		if err := s.writeCommand(w, amf.Encoding0, m.Command); err != nil {
			return nil, err
		}

	case DataMessageAMF0, CommandMessageAMF0:
		if err := s.writeCommand(w, amf.Encoding0, m.Command); err != nil {
			return nil, err
		}

	case DataMessageAMF3:
		if err := s.writeCommand(w, amf.Encoding3, m.Command); err != nil {
			return nil, err
		}

	case CommandMessageAMF3:
		// one pad byte precedes the AMF3 command body
		if err := w.WriteByte(0); err != nil {
			return nil, err
		}
		if err := s.writeCommand(w, amf.Encoding3, m.Command); err != nil {
			return nil, err
		}

	case SharedObjectMessageAMF0, SharedObjectMessageAMF3, AggregateMessage:
		// reserved: emitted with an empty body

	default:
		return nil, errors.Wrapf(ErrUnknownMessageType, "type %d", m.Type)
	}

	return w.Bytes()
}

// writeCommand emits the command-or-data sequence: method name or result
// marker, optional @setDataFrame parameters, invoke transaction id and command
// object, then the arguments. A failed invoke response replaces its arguments
// with a single CallFailed status object; Success is meaningless on requests.
func (s *MessageSerializer) writeCommand(w *amf.Writer, version amf.ObjectEncoding, c *Command) error {
	if c == nil {
		return errors.Errorf("rtmp: command message without a command body")
	}

	write := s.valueWriter(w, version)

	name := c.Name
	if !c.IsRequest {
		if c.Success {
			name = "_result"
		} else {
			name = "_error"
		}
	}
	if err := write(name); err != nil {
		return err
	}

	if name == "@setDataFrame" {
		if err := write(c.ConnectionParameters); err != nil {
			return err
		}
	}

	if c.Invoke {
		if err := write(c.TransactionID); err != nil {
			return err
		}
		if err := write(c.ConnectionParameters); err != nil {
			return err
		}
	}

	arguments := c.Arguments
	if !c.IsRequest && c.Invoke && !c.Success {
		arguments = []interface{}{callFailedStatus}
	}
	for _, argument := range arguments {
		if err := write(argument); err != nil {
			return err
		}
	}
	return nil
}

// valueWriter builds the per-item writer for one message body: a fresh encoder
// over w so reference tables start empty.
func (s *MessageSerializer) valueWriter(w *amf.Writer, version amf.ObjectEncoding) func(interface{}) error {
	if version == amf.Encoding3 {
		enc := amf3.NewEncoder(w)
		enc.SetContext(s.ctx, s.missing)
		return enc.WriteValue
	}
	enc := amf0.NewEncoder(w)
	enc.SetObjectEncoding(s.encoding)
	enc.SetContext(s.ctx, s.missing)
	return enc.WriteValue
}
