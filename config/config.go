package config

const DefaultPort = "1935"

const BuffioSize = 1024 * 64

// DefaultChunkSize is the chunk size every connection starts with; peers raise
// it with a SetChunkSize message.
const DefaultChunkSize uint32 = 128

// PreferredChunkSize is the size this library asks its peers to switch to.
const PreferredChunkSize uint32 = 4096

const DefaultClientWindowSize uint32 = 2500000

const FlashMediaServerVersion string = "FMS/3,5,7,7009"

const Capabilities int = 31

const Mode int = 1

const DefaultStreamID int = 1
