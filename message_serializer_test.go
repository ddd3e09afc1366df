package rtmp

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/tessarin/rtmp/amf"
)

func serialize(t *testing.T, m *Message) []byte {
	t.Helper()
	body, err := NewMessageSerializer().SerializeBody(m)
	if err != nil {
		t.Fatalf("SerializeBody returned error: %v", err)
	}
	return body
}

func amf0String(s string) []byte {
	b := []byte{0x02, byte(len(s) >> 8), byte(len(s))}
	return append(b, s...)
}

func amf0Number(bits ...byte) []byte {
	return append([]byte{0x00}, bits...)
}

func TestSerializeControlBodies(t *testing.T) {
	controlTests := []struct {
		name string
		msg  *Message
		want []byte
	}{
		{"setChunkSize", NewSetChunkSizeMessage(4096), []byte{0x00, 0x00, 0x10, 0x00}},
		{"abort", NewAbortMessage(5), []byte{0x00, 0x00, 0x00, 0x05}},
		{"acknowledgement", NewAcknowledgementMessage(0xCAFE), []byte{0x00, 0x00, 0xCA, 0xFE}},
		{"windowAckSize", NewWindowAckSizeMessage(2500000), []byte{0x00, 0x26, 0x25, 0xA0}},
		{"setPeerBandwidth", NewSetPeerBandwidthMessage(2500000, LimitDynamic), []byte{0x00, 0x26, 0x25, 0xA0, 0x02}},
		{"streamBegin", NewStreamBeginMessage(1), []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}},
		{"setBufferLength", NewSetBufferLengthMessage(1, 3000), []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x0B, 0xB8}},
		{"pingResponse", NewPingResponseMessage(7), []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x07}},
	}

	for _, tt := range controlTests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serialize(t, tt.msg); !bytes.Equal(got, tt.want) {
				t.Errorf("got % x, want % x", got, tt.want)
			}
		})
	}
}

func TestSerializeRawMediaPayload(t *testing.T) {
	payload := []byte{0xAF, 0x01, 0x02}
	got := serialize(t, &Message{Type: AudioMessage, Payload: payload})
	if !bytes.Equal(got, payload) {
		t.Errorf("got % x, want % x", got, payload)
	}
}

func TestSerializeCommandRequest(t *testing.T) {
	msg := NewCommandMessage(0, &Command{
		Name:          "connect",
		IsRequest:     true,
		Invoke:        true,
		TransactionID: 1,
	})
	got := serialize(t, msg)

	var want []byte
	want = append(want, amf0String("connect")...)
	want = append(want, amf0Number(0x3F, 0xF0, 0, 0, 0, 0, 0, 0)...) // 1.0
	want = append(want, 0x05)                                        // nil command object
	if !bytes.Equal(got, want) {
		t.Errorf("got % x\nwant % x", got, want)
	}
}

func TestSerializeCommandResult(t *testing.T) {
	msg := NewCommandMessage(0, &Command{
		Success:       true,
		Invoke:        true,
		TransactionID: 1,
		Arguments:     []interface{}{nil},
	})
	got := serialize(t, msg)

	var want []byte
	want = append(want, amf0String("_result")...)
	want = append(want, amf0Number(0x3F, 0xF0, 0, 0, 0, 0, 0, 0)...)
	want = append(want, 0x05, 0x05)
	if !bytes.Equal(got, want) {
		t.Errorf("got % x\nwant % x", got, want)
	}
}

func TestFailedInvokeSubstitutesCallFailedStatus(t *testing.T) {
	msg := NewCommandMessage(0, &Command{
		Invoke:        true,
		TransactionID: 2,
		Arguments:     []interface{}{"ignored", "arguments"},
	})
	got := serialize(t, msg)

	var want []byte
	want = append(want, amf0String("_error")...)
	want = append(want, amf0Number(0x40, 0, 0, 0, 0, 0, 0, 0)...) // 2.0
	want = append(want, 0x05)
	// the argument list is replaced with the single status object
	want = append(want, 0x03)
	want = append(want, 0x00, 0x04)
	want = append(want, "code"...)
	want = append(want, amf0String("NetConnection.Call.Failed")...)
	want = append(want, 0x00, 0x05)
	want = append(want, "level"...)
	want = append(want, amf0String("error")...)
	want = append(want, 0x00, 0x0B)
	want = append(want, "description"...)
	want = append(want, amf0String("Call failed.")...)
	want = append(want, 0x00, 0x00, 0x09)
	if !bytes.Equal(got, want) {
		t.Errorf("got % x\nwant % x", got, want)
	}
}

func TestSetDataFrameWritesParameters(t *testing.T) {
	msg := NewDataMessage(1, &Command{
		Name:                 "@setDataFrame",
		IsRequest:            true,
		ConnectionParameters: "onMetaData",
		Arguments:            []interface{}{amf.ECMAArray{"duration": 0.0}},
	})
	got := serialize(t, msg)

	var want []byte
	want = append(want, amf0String("@setDataFrame")...)
	want = append(want, amf0String("onMetaData")...)
	want = append(want, 0x08, 0x00, 0x00, 0x00, 0x01)
	want = append(want, 0x00, 0x08)
	want = append(want, "duration"...)
	want = append(want, amf0Number(0, 0, 0, 0, 0, 0, 0, 0)...)
	want = append(want, 0x00, 0x00, 0x09)
	if !bytes.Equal(got, want) {
		t.Errorf("got % x\nwant % x", got, want)
	}
}

func TestSerializeCommandAMF3PadByte(t *testing.T) {
	msg := &Message{
		Type:          CommandMessageAMF3,
		ChunkStreamID: 3,
		Command:       &Command{Name: "f", IsRequest: true},
	}
	got := serialize(t, msg)
	// pad byte, then the AMF3 string "f"
	want := []byte{0x00, 0x06, 0x03, 'f'}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializeDataAMF3(t *testing.T) {
	msg := &Message{
		Type:          DataMessageAMF3,
		ChunkStreamID: 3,
		Command:       &Command{Name: "f", IsRequest: true, Arguments: []interface{}{0x81}},
	}
	got := serialize(t, msg)
	want := []byte{0x06, 0x03, 'f', 0x04, 0x81, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializeReservedTypesEmitEmptyBodies(t *testing.T) {
	for _, mt := range []MessageType{SharedObjectMessageAMF0, SharedObjectMessageAMF3, AggregateMessage} {
		if got := serialize(t, &Message{Type: mt}); len(got) != 0 {
			t.Errorf("type %d: got %d body bytes, want 0", mt, len(got))
		}
	}
}

func TestSerializeUnknownTypeFails(t *testing.T) {
	_, err := NewMessageSerializer().SerializeBody(&Message{Type: MessageType(99)})
	if errors.Cause(err) != ErrUnknownMessageType {
		t.Errorf("got %v, want ErrUnknownMessageType cause", err)
	}
}

func TestReferenceIndicesDoNotCrossMessages(t *testing.T) {
	obj := map[string]interface{}{"a": true}
	serializer := NewMessageSerializer()
	msg := NewCommandMessage(0, &Command{Name: "f", IsRequest: true, Arguments: []interface{}{obj, obj}})

	first, err := serializer.SerializeBody(msg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := serializer.SerializeBody(msg)
	if err != nil {
		t.Fatal(err)
	}
	// each body starts a fresh encoding session: identical output, with the
	// second occurrence inside each body a reference
	if !bytes.Equal(first, second) {
		t.Errorf("bodies differ across sessions:\n% x\n% x", first, second)
	}
	if !bytes.Contains(first, []byte{0x07, 0x00, 0x00}) {
		t.Errorf("expected an in-body reference, got % x", first)
	}
}

func TestObjectEncodingUpgradeOnDataMessages(t *testing.T) {
	serializer := NewMessageSerializer()
	serializer.SetObjectEncoding(amf.Encoding3)
	msg := NewDataMessage(0, &Command{Name: "f", IsRequest: true})
	got, err := serializer.SerializeBody(msg)
	if err != nil {
		t.Fatal(err)
	}
	// every AMF0 item escapes to AMF3 behind the avmplus marker
	want := []byte{0x11, 0x06, 0x03, 'f'}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}
