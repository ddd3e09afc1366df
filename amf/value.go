package amf

// ObjectEncoding selects the AMF version used for top-level items.
type ObjectEncoding uint8

const (
	Encoding0 ObjectEncoding = 0
	Encoding3 ObjectEncoding = 3
)

// Undefined is the AMF undefined value, distinct from null.
type Undefined struct{}

// ECMAArray is a string-keyed map encoded with an associative count in AMF0.
type ECMAArray map[string]interface{}

// Pair is one named member of an object. Slices of pairs keep emission order stable.
type Pair struct {
	Name  string
	Value interface{}
}

// Object is an anonymous dynamic object: string-keyed members with an optional
// type name. A named Object is emitted as a typed object whose members are all
// dynamic.
type Object struct {
	TypeName string
	Members  []Pair
}

// TypedObject is a class-described object with an ordered member list.
type TypedObject struct {
	ClassName string
	Members   []Pair
}

// ByteArray is an opaque binary payload. AMF3 has a dedicated marker for it;
// AMF0 has none and encodes it as a strict array of numbers.
type ByteArray []byte

// XMLDocument and XMLElement hold already-serialized XML text.
type XMLDocument string
type XMLElement string

// Dictionary is an arbitrary-keyed map. Entries keep insertion order so output
// is deterministic. Only AMF3 can represent it.
type Dictionary struct {
	Entries []DictionaryEntry
}

type DictionaryEntry struct {
	Key   interface{}
	Value interface{}
}

// Flash 10 vector types. Fixed mirrors the fixed-length flag in the vector header.
type VectorInt struct {
	Fixed bool
	Data  []int32
}

type VectorUint struct {
	Fixed bool
	Data  []uint32
}

type VectorDouble struct {
	Fixed bool
	Data  []float64
}

type VectorObject struct {
	Fixed bool
	Data  []interface{}
}

// BodyEncoder is the re-entrant handle an externalizable value writes its body
// through. It is implemented by the AMF3 encoder.
type BodyEncoder interface {
	// WriteValue encodes v with full reference-table semantics.
	WriteValue(v interface{}) error
	// Sink exposes the raw byte sink for values that emit custom layouts.
	Sink() *Writer
}

// Externalizable values own their AMF3 body serialization. The encoder emits the
// trait header and then hands control to WriteExternal.
type Externalizable interface {
	WriteExternal(enc BodyEncoder) error
}

// DynamicValue exposes the trailing string-keyed members of a value whose class
// is flagged dynamic.
type DynamicValue interface {
	DynamicMembers() []Pair
}
