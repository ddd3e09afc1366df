package amf0

import (
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tessarin/rtmp/amf"
	"github.com/tessarin/rtmp/amf/amf3"
)

const maxEncodeDepth = 64

type writerFunc func(e *Encoder, v interface{}) error

var (
	writersMu   sync.RWMutex
	writers     map[reflect.Type]writerFunc
	kindWriters map[reflect.Kind]writerFunc
)

func init() {
	writers = map[reflect.Type]writerFunc{
		reflect.TypeOf(false):              writeBoolean,
		reflect.TypeOf(int(0)):             writeNumber,
		reflect.TypeOf(int8(0)):            writeNumber,
		reflect.TypeOf(int16(0)):           writeNumber,
		reflect.TypeOf(int32(0)):           writeNumber,
		reflect.TypeOf(int64(0)):           writeNumber,
		reflect.TypeOf(uint(0)):            writeNumber,
		reflect.TypeOf(uint8(0)):           writeNumber,
		reflect.TypeOf(uint16(0)):          writeNumber,
		reflect.TypeOf(uint32(0)):          writeNumber,
		reflect.TypeOf(uint64(0)):          writeNumber,
		reflect.TypeOf(float32(0)):         writeNumber,
		reflect.TypeOf(float64(0)):         writeNumber,
		reflect.TypeOf(""):                 writeString,
		reflect.TypeOf(time.Time{}):        writeDate,
		reflect.TypeOf([]interface{}(nil)): writeStrictArray,
		reflect.TypeOf(map[string]interface{}(nil)): writeObject,
		reflect.TypeOf(amf.ECMAArray(nil)):          writeECMAArray,
		reflect.TypeOf(amf.ByteArray(nil)):          writeByteArray,
		reflect.TypeOf([]byte(nil)):                 writeByteArray,
		reflect.TypeOf(amf.XMLDocument("")):         writeXMLDocument,
		reflect.TypeOf(amf.XMLElement("")):          writeXMLDocument,
		reflect.TypeOf(amf.Object{}):                writeAnonymousObject,
		reflect.TypeOf(&amf.Object{}):               writeAnonymousObject,
		reflect.TypeOf(amf.TypedObject{}):           writeTypedObject,
		reflect.TypeOf(&amf.TypedObject{}):          writeTypedObject,
		reflect.TypeOf(amf.Undefined{}):             writeUndefined,
		reflect.TypeOf(amf.Dictionary{}):            writeDictionaryUnsupported,
		reflect.TypeOf(&amf.Dictionary{}):           writeDictionaryUnsupported,
	}
	kindWriters = map[reflect.Kind]writerFunc{
		reflect.Bool:    writeBoolean,
		reflect.Int:     writeNumber,
		reflect.Int8:    writeNumber,
		reflect.Int16:   writeNumber,
		reflect.Int32:   writeNumber,
		reflect.Int64:   writeNumber,
		reflect.Uint:    writeNumber,
		reflect.Uint8:   writeNumber,
		reflect.Uint16:  writeNumber,
		reflect.Uint32:  writeNumber,
		reflect.Uint64:  writeNumber,
		reflect.Float32: writeNumber,
		reflect.Float64: writeNumber,
		reflect.String:  writeString,
		reflect.Slice:   writeReflectedSlice,
		reflect.Map:     writeReflectedMap,
		reflect.Struct:  writeObjectValue,
		reflect.Ptr:     writeObjectValue,
	}
}

// RegisterWriter installs a writer for an exact runtime type, process-wide.
func RegisterWriter(t reflect.Type, fn func(e *Encoder, v interface{}) error) {
	writersMu.Lock()
	writers[t] = writerFunc(fn)
	writersMu.Unlock()
}

func lookupWriter(t reflect.Type) writerFunc {
	writersMu.RLock()
	fn := writers[t]
	writersMu.RUnlock()
	if fn != nil {
		return fn
	}
	fn = kindWriters[t.Kind()]
	if fn == nil {
		fn = writeObjectValue
	}
	writersMu.Lock()
	if existing := writers[t]; existing != nil {
		fn = existing
	} else {
		writers[t] = fn
	}
	writersMu.Unlock()
	return fn
}

// Encoder emits AMF0 values onto a byte sink. Composite values share one
// reference table per encoding session. When the object encoding is AMF3, the
// top-level entry point emits the avmplus marker and hands off to an AMF3
// encoder over the same sink.
type Encoder struct {
	w        *amf.Writer
	encoding amf.ObjectEncoding
	refs     *amf.RefTable
	amf3     *amf3.Encoder
	ctx      amf.SerializationContext
	missing  amf.MissingTypeStrategy
	depth    int
}

func NewEncoder(w *amf.Writer) *Encoder {
	return &Encoder{
		w:    w,
		refs: amf.NewRefTable(),
		amf3: amf3.NewEncoder(w),
	}
}

// SetObjectEncoding selects the AMF version for top-level items written
// through WriteValue.
func (e *Encoder) SetObjectEncoding(encoding amf.ObjectEncoding) {
	e.encoding = encoding
}

// SetContext installs the class-description oracle on both the AMF0 and the
// embedded AMF3 encoder.
func (e *Encoder) SetContext(ctx amf.SerializationContext, missing amf.MissingTypeStrategy) {
	e.ctx = ctx
	e.missing = missing
	e.amf3.SetContext(ctx, missing)
}

// Reset clears the AMF0 reference table and the embedded AMF3 tables.
func (e *Encoder) Reset() {
	e.refs.Reset()
	e.amf3.Reset()
}

// AMF3 exposes the embedded AMF3 encoder sharing this encoder's sink.
func (e *Encoder) AMF3() *amf3.Encoder {
	return e.amf3
}

// WriteValue encodes one top-level AMF item under the configured object encoding.
func (e *Encoder) WriteValue(v interface{}) error {
	if e.encoding == amf.Encoding3 {
		if err := e.w.WriteByte(TypeAMF3Object); err != nil {
			return err
		}
		return e.amf3.WriteValue(v)
	}
	return e.writeAMF0(v)
}

func (e *Encoder) writeAMF0(v interface{}) error {
	if v == nil {
		return e.w.WriteByte(TypeNull)
	}
	// composite already emitted this session: 2-byte reference
	if idx, ok := e.refs.Lookup(v); ok {
		if err := e.w.WriteByte(TypeReference); err != nil {
			return err
		}
		return e.w.WriteUint16(uint16(idx))
	}
	if e.depth >= maxEncodeDepth {
		return amf.ErrMaxDepthExceeded
	}
	e.depth++
	err := lookupWriter(reflect.TypeOf(v))(e, v)
	e.depth--
	return err
}

func writeUndefined(e *Encoder, v interface{}) error {
	return e.w.WriteByte(TypeUndefined)
}

// AMF0 has no dictionary representation; arbitrary-keyed maps require AMF3.
func writeDictionaryUnsupported(e *Encoder, v interface{}) error {
	return errors.New("amf0: dictionaries are not representable, use object encoding 3")
}

func writeNumber(e *Encoder, v interface{}) error {
	rv := reflect.ValueOf(v)
	var f float64
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	default:
		f = float64(rv.Int())
	}
	if err := e.w.WriteByte(TypeNumber); err != nil {
		return err
	}
	return e.w.WriteFloat64(f)
}

func writeBoolean(e *Encoder, v interface{}) error {
	if err := e.w.WriteByte(TypeBoolean); err != nil {
		return err
	}
	if reflect.ValueOf(v).Bool() {
		return e.w.WriteByte(1)
	}
	return e.w.WriteByte(0)
}

func writeString(e *Encoder, v interface{}) error {
	s := reflect.ValueOf(v).String()
	if len(s) > 0xFFFF {
		if err := e.w.WriteByte(TypeLongString); err != nil {
			return err
		}
		return e.w.WriteUTF8Long(s)
	}
	if err := e.w.WriteByte(TypeString); err != nil {
		return err
	}
	return e.w.WriteUTF8(s)
}

func writeDate(e *Encoder, v interface{}) error {
	if err := e.w.WriteByte(TypeDate); err != nil {
		return err
	}
	if err := e.w.WriteTimestamp(v.(time.Time)); err != nil {
		return err
	}
	// reserved time zone, always zero
	return e.w.WriteUint16(0)
}

// writeObjectEnd emits the empty field name followed by the object-end marker.
func (e *Encoder) writeObjectEnd() error {
	if err := e.w.WriteUint16(0); err != nil {
		return err
	}
	return e.w.WriteByte(TypeObjectEnd)
}

func (e *Encoder) writePairs(pairs []amf.Pair) error {
	for _, p := range pairs {
		if err := e.w.WriteUTF8(p.Name); err != nil {
			return err
		}
		if err := e.writeAMF0(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeObject(e *Encoder, v interface{}) error {
	var m map[string]interface{}
	switch o := v.(type) {
	case map[string]interface{}:
		m = o
	case amf.ECMAArray:
		m = o
	}
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	e.refs.Add(v)
	for key, val := range m {
		if err := e.w.WriteUTF8(key); err != nil {
			return err
		}
		if err := e.writeAMF0(val); err != nil {
			return err
		}
	}
	return e.writeObjectEnd()
}

func writeECMAArray(e *Encoder, v interface{}) error {
	m := v.(amf.ECMAArray)
	if err := e.w.WriteByte(TypeECMAArray); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUint32(uint32(len(m))); err != nil {
		return err
	}
	for key, val := range m {
		if err := e.w.WriteUTF8(key); err != nil {
			return err
		}
		if err := e.writeAMF0(val); err != nil {
			return err
		}
	}
	return e.writeObjectEnd()
}

func writeStrictArray(e *Encoder, v interface{}) error {
	items := v.([]interface{})
	if err := e.w.WriteByte(TypeStrictArray); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUint32(uint32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := e.writeAMF0(item); err != nil {
			return err
		}
	}
	return nil
}

// writeByteArray emits a binary payload as a strict array of numbers; AMF0 has
// no byte-array marker.
func writeByteArray(e *Encoder, v interface{}) error {
	var b []byte
	switch p := v.(type) {
	case amf.ByteArray:
		b = p
	case []byte:
		b = p
	}
	if err := e.w.WriteByte(TypeStrictArray); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	for _, n := range b {
		if err := e.w.WriteByte(TypeNumber); err != nil {
			return err
		}
		if err := e.w.WriteFloat64(float64(n)); err != nil {
			return err
		}
	}
	return nil
}

func writeXMLDocument(e *Encoder, v interface{}) error {
	var xml string
	switch x := v.(type) {
	case amf.XMLDocument:
		xml = string(x)
	case amf.XMLElement:
		xml = string(x)
	}
	if err := e.w.WriteByte(TypeXMLDocument); err != nil {
		return err
	}
	e.refs.Add(v)
	return e.w.WriteUTF8Long(xml)
}

func writeAnonymousObject(e *Encoder, v interface{}) error {
	obj, ok := v.(*amf.Object)
	if !ok {
		o := v.(amf.Object)
		obj = &o
	}
	if obj.TypeName != "" {
		if err := e.w.WriteByte(TypeTypedObject); err != nil {
			return err
		}
		e.refs.Add(v)
		if err := e.w.WriteUTF8(obj.TypeName); err != nil {
			return err
		}
		if err := e.writePairs(obj.Members); err != nil {
			return err
		}
		return e.writeObjectEnd()
	}
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.writePairs(obj.Members); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

func writeTypedObject(e *Encoder, v interface{}) error {
	obj, ok := v.(*amf.TypedObject)
	if !ok {
		o := v.(amf.TypedObject)
		obj = &o
	}
	if err := e.w.WriteByte(TypeTypedObject); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUTF8(obj.ClassName); err != nil {
		return err
	}
	if err := e.writePairs(obj.Members); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

// writeObjectValue is the default writer: it asks the class-description oracle
// how to lay the value out.
func writeObjectValue(e *Encoder, v interface{}) error {
	var desc *amf.ClassDescription
	if e.ctx != nil {
		desc, _ = e.ctx.DescribeValue(v)
	}
	if desc == nil {
		if e.missing == amf.MissingTypeError {
			return errors.Wrapf(amf.ErrMissingClassDescription, "type %T", v)
		}
		var members []amf.Pair
		if dyn, ok := v.(amf.DynamicValue); ok {
			members = dyn.DynamicMembers()
		}
		if err := e.w.WriteByte(TypeObject); err != nil {
			return err
		}
		e.refs.Add(v)
		if err := e.writePairs(members); err != nil {
			return err
		}
		return e.writeObjectEnd()
	}

	if err := e.w.WriteByte(TypeTypedObject); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUTF8(desc.Name); err != nil {
		return err
	}
	for _, m := range desc.Members {
		if err := e.w.WriteUTF8(m.Name); err != nil {
			return err
		}
		if err := e.writeAMF0(m.Get(v)); err != nil {
			return err
		}
	}
	if desc.Dynamic {
		dyn, ok := v.(amf.DynamicValue)
		if !ok {
			return errors.Wrapf(amf.ErrNotDynamic, "class %q", desc.Name)
		}
		if err := e.writePairs(dyn.DynamicMembers()); err != nil {
			return err
		}
	}
	return e.writeObjectEnd()
}

// writeReflectedSlice covers application-defined slice types via the kind fallback.
func writeReflectedSlice(e *Encoder, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return writeByteArray(e, amf.ByteArray(rv.Bytes()))
	}
	if err := e.w.WriteByte(TypeStrictArray); err != nil {
		return err
	}
	e.refs.Add(v)
	if err := e.w.WriteUint32(uint32(rv.Len())); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.writeAMF0(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// writeReflectedMap covers application-defined map types. AMF0 can only
// represent string-keyed maps.
func writeReflectedMap(e *Encoder, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Type().Key().Kind() != reflect.String {
		return errors.Errorf("amf0: cannot encode map with %s keys", rv.Type().Key())
	}
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	e.refs.Add(v)
	for _, key := range rv.MapKeys() {
		if err := e.w.WriteUTF8(key.String()); err != nil {
			return err
		}
		if err := e.writeAMF0(rv.MapIndex(key).Interface()); err != nil {
			return err
		}
	}
	return e.writeObjectEnd()
}
