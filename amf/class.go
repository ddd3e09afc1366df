package amf

// Member describes one sealed member of a class: its name on the wire and an
// accessor that pulls the member's value out of a host value.
type Member struct {
	Name string
	Get  func(v interface{}) interface{}
}

// ClassDescription is the encoder's view of a named type. Identity matters: the
// AMF3 class-definition reference table keys on the *ClassDescription pointer,
// so an oracle must hand back the same description for the same type.
type ClassDescription struct {
	Name           string
	Members        []Member
	Dynamic        bool
	Externalizable bool
}

// MissingTypeStrategy controls what happens when the oracle has no description
// for a value.
type MissingTypeStrategy uint8

const (
	// MissingTypeDynamicObject encodes undescribed values as anonymous dynamic objects.
	MissingTypeDynamicObject MissingTypeStrategy = iota
	// MissingTypeError fails emission with ErrMissingClassDescription.
	MissingTypeError
)

// SerializationContext is the type registry the encoder consults for values it
// has no built-in writer for. The encoder never inspects application types
// itself; it asks the oracle.
type SerializationContext interface {
	// DescribeValue returns the class description for v, or false if v has none
	// and should be treated according to the configured MissingTypeStrategy.
	DescribeValue(v interface{}) (*ClassDescription, bool)
}
