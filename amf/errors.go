package amf

import "errors"

var ErrInvalidMode = errors.New("amf: operation is not valid for this writer mode")
var ErrStringTooLong = errors.New("amf: string exceeds 65535 bytes, use the long form")
var ErrMissingClassDescription = errors.New("amf: no class description available for value")
var ErrNotExternalizable = errors.New("amf: value is flagged externalizable but does not implement Externalizable")
var ErrNotDynamic = errors.New("amf: class is dynamic but value does not expose dynamic members")
var ErrMaxDepthExceeded = errors.New("amf: maximum encoding depth exceeded")
