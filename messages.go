package rtmp

// Constructors for the protocol control messages. Control messages always
// travel on the protocol channel with message stream id 0 and an absolute zero
// timestamp.

func newControlMessage(t MessageType, value int32) *Message {
	return &Message{
		Type:          t,
		ChunkStreamID: uint32(ProtocolChannel),
		Value:         value,
	}
}

func NewSetChunkSizeMessage(size uint32) *Message {
	return newControlMessage(SetChunkSize, int32(size))
}

func NewAbortMessage(chunkStreamID uint32) *Message {
	return newControlMessage(AbortMessage, int32(chunkStreamID))
}

func NewAcknowledgementMessage(sequenceNumber uint32) *Message {
	return newControlMessage(Acknowledgement, int32(sequenceNumber))
}

func NewWindowAckSizeMessage(window uint32) *Message {
	return newControlMessage(WindowAcknowledgementSize, int32(window))
}

func NewSetPeerBandwidthMessage(window uint32, limitType uint8) *Message {
	m := newControlMessage(SetPeerBandwidth, int32(window))
	m.LimitType = limitType
	return m
}

func newUserControlMessage(eventType uint16, values ...uint32) *Message {
	return &Message{
		Type:          UserControlMessage,
		ChunkStreamID: uint32(ProtocolChannel),
		Event:         &UserControlEvent{Type: eventType, Values: values},
	}
}

func NewStreamBeginMessage(streamID uint32) *Message {
	return newUserControlMessage(EventStreamBegin, streamID)
}

func NewStreamEOFMessage(streamID uint32) *Message {
	return newUserControlMessage(EventStreamEOF, streamID)
}

func NewSetBufferLengthMessage(streamID uint32, bufferMs uint32) *Message {
	return newUserControlMessage(EventSetBufferLength, streamID, bufferMs)
}

func NewPingRequestMessage(timestamp uint32) *Message {
	return newUserControlMessage(EventPingRequest, timestamp)
}

func NewPingResponseMessage(timestamp uint32) *Message {
	return newUserControlMessage(EventPingResponse, timestamp)
}

// NewCommandMessage wraps an AMF0 command addressed at streamID.
func NewCommandMessage(streamID uint32, command *Command) *Message {
	return &Message{
		Type:            CommandMessageAMF0,
		ChunkStreamID:   uint32(CommandChannel),
		MessageStreamID: streamID,
		Command:         command,
	}
}

// NewDataMessage wraps an AMF0 data notification addressed at streamID.
func NewDataMessage(streamID uint32, command *Command) *Message {
	return &Message{
		Type:            DataMessageAMF0,
		ChunkStreamID:   uint32(CommandChannel),
		MessageStreamID: streamID,
		Command:         command,
	}
}
