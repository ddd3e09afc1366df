package amf3

import (
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tessarin/rtmp/amf"
)

// maxEncodeDepth bounds recursion through externalizable callbacks and nested
// composites. Reference tables terminate cycles; the depth limit catches values
// that keep producing fresh composites.
const maxEncodeDepth = 64

type writerFunc func(e *Encoder, v interface{}) error

var (
	writersMu   sync.RWMutex
	writers     map[reflect.Type]writerFunc
	kindWriters map[reflect.Kind]writerFunc
)

func init() {
	writers = map[reflect.Type]writerFunc{
		reflect.TypeOf(false):              writeBool,
		reflect.TypeOf(int(0)):             writeInt,
		reflect.TypeOf(int8(0)):            writeInt,
		reflect.TypeOf(int16(0)):           writeInt,
		reflect.TypeOf(int32(0)):           writeInt,
		reflect.TypeOf(int64(0)):           writeInt,
		reflect.TypeOf(uint(0)):            writeUint,
		reflect.TypeOf(uint8(0)):           writeUint,
		reflect.TypeOf(uint16(0)):          writeUint,
		reflect.TypeOf(uint32(0)):          writeUint,
		reflect.TypeOf(uint64(0)):          writeUint,
		reflect.TypeOf(float32(0)):         writeDouble,
		reflect.TypeOf(float64(0)):         writeDouble,
		reflect.TypeOf(""):                 writeString,
		reflect.TypeOf(time.Time{}):        writeDate,
		reflect.TypeOf([]interface{}(nil)): writeArray,
		reflect.TypeOf(map[string]interface{}(nil)): writeAssociativeArray,
		reflect.TypeOf(amf.ECMAArray(nil)):          writeAssociativeArray,
		reflect.TypeOf(amf.ByteArray(nil)):          writeByteArray,
		reflect.TypeOf([]byte(nil)):                 writeByteArray,
		reflect.TypeOf(amf.XMLDocument("")):         writeXMLDocument,
		reflect.TypeOf(amf.XMLElement("")):          writeXMLElement,
		reflect.TypeOf(amf.Object{}):                writeAnonymousObject,
		reflect.TypeOf(&amf.Object{}):               writeAnonymousObject,
		reflect.TypeOf(amf.TypedObject{}):           writeTypedObject,
		reflect.TypeOf(&amf.TypedObject{}):          writeTypedObject,
		reflect.TypeOf(amf.Undefined{}):             writeUndefined,
	}
	kindWriters = map[reflect.Kind]writerFunc{
		reflect.Bool:    writeBool,
		reflect.Int:     writeInt,
		reflect.Int8:    writeInt,
		reflect.Int16:   writeInt,
		reflect.Int32:   writeInt,
		reflect.Int64:   writeInt,
		reflect.Uint:    writeUint,
		reflect.Uint8:   writeUint,
		reflect.Uint16:  writeUint,
		reflect.Uint32:  writeUint,
		reflect.Uint64:  writeUint,
		reflect.Float32: writeDouble,
		reflect.Float64: writeDouble,
		reflect.String:  writeString,
		reflect.Slice:   writeReflectedSlice,
		reflect.Map:     writeReflectedMap,
		reflect.Struct:  writeObjectValue,
		reflect.Ptr:     writeObjectValue,
	}
}

// RegisterWriter installs a writer for an exact runtime type. Registration is
// process-wide and safe for concurrent use with running encoders.
func RegisterWriter(t reflect.Type, fn func(e *Encoder, v interface{}) error) {
	writersMu.Lock()
	writers[t] = writerFunc(fn)
	writersMu.Unlock()
}

var flashTenOnce sync.Once

// RegisterFlashTenTypes installs writers for the Flash 10 vector and dictionary
// types. They are not part of the default table because pre-10 peers reject the
// markers.
func RegisterFlashTenTypes() {
	flashTenOnce.Do(func() {
		RegisterWriter(reflect.TypeOf(amf.VectorInt{}), writeVectorInt)
		RegisterWriter(reflect.TypeOf(amf.VectorUint{}), writeVectorUint)
		RegisterWriter(reflect.TypeOf(amf.VectorDouble{}), writeVectorDouble)
		RegisterWriter(reflect.TypeOf(amf.VectorObject{}), writeVectorObject)
		RegisterWriter(reflect.TypeOf(amf.Dictionary{}), writeDictionary)
		RegisterWriter(reflect.TypeOf(&amf.Dictionary{}), writeDictionary)
	})
}

// lookupWriter resolves the writer for t: exact type first, then the type's kind,
// then the default object writer. Misses are memoized under the write lock with a
// second lookup so concurrent encoders race safely.
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

// Encoder emits AMF3 values onto a byte sink. The object, string and
// class-definition reference tables are local to one encoding session; Reset
// establishes a fresh session.
type Encoder struct {
	w       *amf.Writer
	ctx     amf.SerializationContext
	missing amf.MissingTypeStrategy
	objects *amf.RefTable
	strings *amf.StringTable
	classes *amf.ClassTable
	depth   int
}

func NewEncoder(w *amf.Writer) *Encoder {
	return &Encoder{
		w:       w,
		objects: amf.NewRefTable(),
		strings: amf.NewStringTable(),
		classes: amf.NewClassTable(),
	}
}

// SetContext installs the class-description oracle and the strategy for values
// the oracle cannot describe.
func (e *Encoder) SetContext(ctx amf.SerializationContext, missing amf.MissingTypeStrategy) {
	e.ctx = ctx
	e.missing = missing
}

// Reset clears all reference tables. The transport calls this when an encoding
// session boundary is crossed, typically per packet.
func (e *Encoder) Reset() {
	e.objects.Reset()
	e.strings.Reset()
	e.classes.Reset()
}

// Sink exposes the underlying byte sink for externalizable bodies.
func (e *Encoder) Sink() *amf.Writer {
	return e.w
}

// WriteValue encodes a single value, dispatching on its runtime type.
func (e *Encoder) WriteValue(v interface{}) error {
	if v == nil {
		return e.w.WriteByte(TypeNull)
	}
	if e.depth >= maxEncodeDepth {
		return amf.ErrMaxDepthExceeded
	}
	e.depth++
	err := lookupWriter(reflect.TypeOf(v))(e, v)
	e.depth--
	return err
}

// writeInline emits a U29 flagged as an inline body with n as the count/length.
func (e *Encoder) writeInline(n uint32) error {
	return e.w.WriteUint29(n<<1 | 1)
}

// writeReference emits a U29 flagged as a reference to table index i.
func (e *Encoder) writeReference(i int) error {
	return e.w.WriteUint29(uint32(i) << 1)
}

// writeStringValue emits a string body without a type marker: empty strings are
// always inline and never enter the table, repeats become references.
func (e *Encoder) writeStringValue(s string) error {
	if s == "" {
		return e.w.WriteByte(UTF8Empty)
	}
	if idx, ok := e.strings.Lookup(s); ok {
		return e.writeReference(idx)
	}
	e.strings.Add(s)
	if err := e.writeInline(uint32(len(s))); err != nil {
		return err
	}
	return e.w.Write([]byte(s))
}

func writeUndefined(e *Encoder, v interface{}) error {
	return e.w.WriteByte(TypeUndefined)
}

func writeBool(e *Encoder, v interface{}) error {
	if reflect.ValueOf(v).Bool() {
		return e.w.WriteByte(TypeTrue)
	}
	return e.w.WriteByte(TypeFalse)
}

func writeInt(e *Encoder, v interface{}) error {
	n := reflect.ValueOf(v).Int()
	if n < MinInt || n > MaxInt {
		return writeDoubleValue(e, float64(n))
	}
	if err := e.w.WriteByte(TypeInteger); err != nil {
		return err
	}
	return e.w.WriteUint29(uint32(n))
}

func writeUint(e *Encoder, v interface{}) error {
	n := reflect.ValueOf(v).Uint()
	if n > uint64(MaxInt) {
		return writeDoubleValue(e, float64(n))
	}
	if err := e.w.WriteByte(TypeInteger); err != nil {
		return err
	}
	return e.w.WriteUint29(uint32(n))
}

func writeDouble(e *Encoder, v interface{}) error {
	return writeDoubleValue(e, reflect.ValueOf(v).Float())
}

func writeDoubleValue(e *Encoder, f float64) error {
	if err := e.w.WriteByte(TypeDouble); err != nil {
		return err
	}
	return e.w.WriteFloat64(f)
}

func writeString(e *Encoder, v interface{}) error {
	if err := e.w.WriteByte(TypeString); err != nil {
		return err
	}
	return e.writeStringValue(reflect.ValueOf(v).String())
}

func writeDate(e *Encoder, v interface{}) error {
	t := v.(time.Time)
	if err := e.w.WriteByte(TypeDate); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(0); err != nil {
		return err
	}
	return e.w.WriteTimestamp(t)
}

func writeArray(e *Encoder, v interface{}) error {
	items := v.([]interface{})
	if err := e.w.WriteByte(TypeArray); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(len(items))); err != nil {
		return err
	}
	// empty associative portion
	if err := e.writeStringValue(""); err != nil {
		return err
	}
	for _, item := range items {
		if err := e.WriteValue(item); err != nil {
			return err
		}
	}
	return nil
}

// writeAssociativeArray emits a string-keyed map as an array with no dense
// portion: key/value pairs terminated by an empty key.
func writeAssociativeArray(e *Encoder, v interface{}) error {
	if err := e.w.WriteByte(TypeArray); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(0); err != nil {
		return err
	}
	var m map[string]interface{}
	switch a := v.(type) {
	case amf.ECMAArray:
		m = a
	case map[string]interface{}:
		m = a
	}
	for key, val := range m {
		if err := e.writeStringValue(key); err != nil {
			return err
		}
		if err := e.WriteValue(val); err != nil {
			return err
		}
	}
	return e.writeStringValue("")
}

func writeByteArray(e *Encoder, v interface{}) error {
	var b []byte
	switch p := v.(type) {
	case amf.ByteArray:
		b = p
	case []byte:
		b = p
	}
	if err := e.w.WriteByte(TypeByteArray); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(len(b))); err != nil {
		return err
	}
	return e.w.Write(b)
}

func writeXMLDocument(e *Encoder, v interface{}) error {
	return e.writeXMLBody(TypeXmlDoc, string(v.(amf.XMLDocument)), v)
}

func writeXMLElement(e *Encoder, v interface{}) error {
	return e.writeXMLBody(TypeXml, string(v.(amf.XMLElement)), v)
}

func (e *Encoder) writeXMLBody(marker byte, xml string, v interface{}) error {
	if err := e.w.WriteByte(marker); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(len(xml))); err != nil {
		return err
	}
	return e.w.Write([]byte(xml))
}

func writeAnonymousObject(e *Encoder, v interface{}) error {
	obj, ok := v.(*amf.Object)
	if !ok {
		o := v.(amf.Object)
		obj = &o
	}
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	return e.writeDynamicBody(obj.TypeName, obj.Members)
}

// writeDynamicBody emits inline traits for a fully dynamic object (no sealed
// members) followed by its key/value pairs and the empty-key terminator.
func (e *Encoder) writeDynamicBody(typeName string, members []amf.Pair) error {
	if err := e.w.WriteUint29(traitsDynamic | traitsInline); err != nil {
		return err
	}
	if err := e.writeStringValue(typeName); err != nil {
		return err
	}
	for _, p := range members {
		if err := e.writeStringValue(p.Name); err != nil {
			return err
		}
		if err := e.WriteValue(p.Value); err != nil {
			return err
		}
	}
	return e.writeStringValue("")
}

func writeTypedObject(e *Encoder, v interface{}) error {
	obj, ok := v.(*amf.TypedObject)
	if !ok {
		o := v.(amf.TypedObject)
		obj = &o
	}
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	// Sealed inline traits. TypedObject carries no *ClassDescription, so its
	// traits cannot join the class-definition table and are re-emitted each time.
	if err := e.w.WriteUint29(uint32(len(obj.Members))<<4 | traitsInline); err != nil {
		return err
	}
	if err := e.writeStringValue(obj.ClassName); err != nil {
		return err
	}
	for _, p := range obj.Members {
		if err := e.writeStringValue(p.Name); err != nil {
			return err
		}
	}
	for _, p := range obj.Members {
		if err := e.WriteValue(p.Value); err != nil {
			return err
		}
	}
	return nil
}

// writeObjectValue is the default writer: it consults the class-description
// oracle and emits a class-described, externalizable or dynamic object body.
func writeObjectValue(e *Encoder, v interface{}) error {
	if err := e.w.WriteByte(TypeObject); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)

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
		return e.writeDynamicBody("", members)
	}
	return e.writeClassDescribed(desc, v)
}

func (e *Encoder) writeClassDescribed(desc *amf.ClassDescription, v interface{}) error {
	if idx, ok := e.classes.Lookup(desc); ok {
		if err := e.w.WriteUint29(uint32(idx)<<2 | traitsRef); err != nil {
			return err
		}
	} else {
		e.classes.Add(desc)
		traits := uint32(len(desc.Members))<<4 | traitsInline
		if desc.Dynamic {
			traits |= traitsDynamic
		}
		if desc.Externalizable {
			traits |= traitsExternalizable
		}
		if err := e.w.WriteUint29(traits); err != nil {
			return err
		}
		if err := e.writeStringValue(desc.Name); err != nil {
			return err
		}
		for _, m := range desc.Members {
			if err := e.writeStringValue(m.Name); err != nil {
				return err
			}
		}
	}

	if desc.Externalizable {
		ext, ok := v.(amf.Externalizable)
		if !ok {
			return errors.Wrapf(amf.ErrNotExternalizable, "class %q", desc.Name)
		}
		return ext.WriteExternal(e)
	}
	for _, m := range desc.Members {
		if err := e.WriteValue(m.Get(v)); err != nil {
			return err
		}
	}
	if desc.Dynamic {
		dyn, ok := v.(amf.DynamicValue)
		if !ok {
			return errors.Wrapf(amf.ErrNotDynamic, "class %q", desc.Name)
		}
		for _, p := range dyn.DynamicMembers() {
			if err := e.writeStringValue(p.Name); err != nil {
				return err
			}
			if err := e.WriteValue(p.Value); err != nil {
				return err
			}
		}
		return e.writeStringValue("")
	}
	return nil
}

func writeDictionary(e *Encoder, v interface{}) error {
	dict, ok := v.(*amf.Dictionary)
	if !ok {
		d := v.(amf.Dictionary)
		dict = &d
	}
	if err := e.w.WriteByte(TypeDictionary); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(len(dict.Entries))); err != nil {
		return err
	}
	// weak-reference flag, always off
	if err := e.w.WriteByte(0); err != nil {
		return err
	}
	for _, entry := range dict.Entries {
		if err := e.WriteValue(entry.Key); err != nil {
			return err
		}
		if err := e.WriteValue(entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// writeReflectedSlice covers application-defined slice types through the kind
// fallback. Elements go through the full dispatcher.
func writeReflectedSlice(e *Encoder, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return writeByteArray(e, amf.ByteArray(rv.Bytes()))
	}
	if err := e.w.WriteByte(TypeArray); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(rv.Len())); err != nil {
		return err
	}
	if err := e.writeStringValue(""); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.WriteValue(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// writeReflectedMap covers application-defined map types. String-keyed maps are
// the more specific case and emit as associative arrays; any other key type
// emits as a dictionary.
func writeReflectedMap(e *Encoder, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Type().Key().Kind() == reflect.String {
		if err := e.w.WriteByte(TypeArray); err != nil {
			return err
		}
		if idx, ok := e.objects.Lookup(v); ok {
			return e.writeReference(idx)
		}
		e.objects.Add(v)
		if err := e.writeInline(0); err != nil {
			return err
		}
		for _, key := range rv.MapKeys() {
			if err := e.writeStringValue(key.String()); err != nil {
				return err
			}
			if err := e.WriteValue(rv.MapIndex(key).Interface()); err != nil {
				return err
			}
		}
		return e.writeStringValue("")
	}

	if err := e.w.WriteByte(TypeDictionary); err != nil {
		return err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(rv.Len())); err != nil {
		return err
	}
	if err := e.w.WriteByte(0); err != nil {
		return err
	}
	for _, key := range rv.MapKeys() {
		if err := e.WriteValue(key.Interface()); err != nil {
			return err
		}
		if err := e.WriteValue(rv.MapIndex(key).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func writeVectorInt(e *Encoder, v interface{}) error {
	vec := v.(amf.VectorInt)
	wasRef, err := e.vectorHeader(TypeVectorInt, v, len(vec.Data), vec.Fixed)
	if err != nil || wasRef {
		return err
	}
	for _, n := range vec.Data {
		if err := e.w.WriteInt32(n); err != nil {
			return err
		}
	}
	return nil
}

func writeVectorUint(e *Encoder, v interface{}) error {
	vec := v.(amf.VectorUint)
	wasRef, err := e.vectorHeader(TypeVectorUint, v, len(vec.Data), vec.Fixed)
	if err != nil || wasRef {
		return err
	}
	for _, n := range vec.Data {
		if err := e.w.WriteUint32(n); err != nil {
			return err
		}
	}
	return nil
}

func writeVectorDouble(e *Encoder, v interface{}) error {
	vec := v.(amf.VectorDouble)
	wasRef, err := e.vectorHeader(TypeVectorDouble, v, len(vec.Data), vec.Fixed)
	if err != nil || wasRef {
		return err
	}
	for _, f := range vec.Data {
		if err := e.w.WriteFloat64(f); err != nil {
			return err
		}
	}
	return nil
}

func writeVectorObject(e *Encoder, v interface{}) error {
	vec := v.(amf.VectorObject)
	wasRef, err := e.vectorHeader(TypeVectorObject, v, len(vec.Data), vec.Fixed)
	if err != nil || wasRef {
		return err
	}
	// object vectors carry the element type name; "*" means any
	if err := e.writeStringValue("*"); err != nil {
		return err
	}
	for _, item := range vec.Data {
		if err := e.WriteValue(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) vectorHeader(marker byte, v interface{}, count int, fixed bool) (bool, error) {
	if err := e.w.WriteByte(marker); err != nil {
		return false, err
	}
	if idx, ok := e.objects.Lookup(v); ok {
		return true, e.writeReference(idx)
	}
	e.objects.Add(v)
	if err := e.writeInline(uint32(count)); err != nil {
		return false, err
	}
	flag := byte(0)
	if fixed {
		flag = 1
	}
	return false, e.w.WriteByte(flag)
}
