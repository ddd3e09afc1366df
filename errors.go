package rtmp

import "errors"

var ErrNilWriter = errors.New("Expected io.Writer to be non-nil, but got a nil value")
var ErrUnknownMessageType = errors.New("rtmp: cannot serialize unknown message type")
var ErrWriterClosed = errors.New("rtmp: chunk writer is closed")
var ErrDisconnected = errors.New("rtmp: transport disconnected")
