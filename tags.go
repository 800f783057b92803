package meterz

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the type held by a Value.
type Kind uint8

// Value kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a tag value: a string, integer, float, boolean or byte sequence.
type Value struct {
	s    string
	b    []byte
	n    uint64
	kind Kind
}

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// IntValue returns an integer Value.
func IntValue(v int64) Value { return Value{kind: KindInt, n: uint64(v)} }

// FloatValue returns a floating-point Value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, n: math.Float64bits(v)} }

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: KindBool, n: n}
}

// BytesValue returns a byte-sequence Value. The slice is copied.
func BytesValue(v []byte) Value {
	return Value{kind: KindBytes, b: append([]byte(nil), v...)}
}

// Kind returns the type of the value.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string held by a KindString value.
func (v Value) AsString() string { return v.s }

// AsInt returns the integer held by a KindInt value.
func (v Value) AsInt() int64 { return int64(v.n) }

// AsFloat returns the float held by a KindFloat value.
func (v Value) AsFloat() float64 { return math.Float64frombits(v.n) }

// AsBool returns the boolean held by a KindBool value.
func (v Value) AsBool() bool { return v.n == 1 }

// AsBytes returns a copy of the bytes held by a KindBytes value.
func (v Value) AsBytes() []byte { return append([]byte(nil), v.b...) }

// Interface returns the value as a plain Go value. Bytes come back
// hex-encoded, since backends cannot carry raw binary in an attribute.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.AsInt()
	case KindFloat:
		return v.AsFloat()
	case KindBool:
		return v.AsBool()
	case KindBytes:
		return hex.EncodeToString(v.b)
	default:
		return v.s
	}
}

// Emit renders the value as text.
func (v Value) Emit() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindBytes:
		return hex.EncodeToString(v.b)
	default:
		return v.s
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBytes:
		return string(v.b) == string(o.b)
	default:
		return v.n == o.n
	}
}

// Tagger contributes tags at a call site. It is implemented by Tag (a single
// keyword tag) and Tags (a tag dictionary).
type Tagger interface {
	tagger()
}

// Tag is a single key/value pair.
type Tag struct {
	Key   string
	Value Value
}

func (Tag) tagger() {}

// String returns a string tag.
func String(key, v string) Tag { return Tag{Key: key, Value: StringValue(v)} }

// Int returns an integer tag.
func Int(key string, v int) Tag { return Tag{Key: key, Value: IntValue(int64(v))} }

// Int64 returns an integer tag.
func Int64(key string, v int64) Tag { return Tag{Key: key, Value: IntValue(v)} }

// Float64 returns a floating-point tag.
func Float64(key string, v float64) Tag { return Tag{Key: key, Value: FloatValue(v)} }

// Bool returns a boolean tag.
func Bool(key string, v bool) Tag { return Tag{Key: key, Value: BoolValue(v)} }

// Bytes returns a byte-sequence tag.
func Bytes(key string, v []byte) Tag { return Tag{Key: key, Value: BytesValue(v)} }

// Any converts an arbitrary Go value into a tag. Types outside the supported
// scalars are formatted with fmt.
func Any(key string, v any) Tag {
	switch x := v.(type) {
	case Value:
		return Tag{Key: key, Value: x}
	case string:
		return String(key, x)
	case int:
		return Int(key, x)
	case int8:
		return Int64(key, int64(x))
	case int16:
		return Int64(key, int64(x))
	case int32:
		return Int64(key, int64(x))
	case int64:
		return Int64(key, x)
	case uint:
		return Int64(key, int64(x))
	case uint8:
		return Int64(key, int64(x))
	case uint16:
		return Int64(key, int64(x))
	case uint32:
		return Int64(key, int64(x))
	case uint64:
		return Int64(key, int64(x))
	case float32:
		return Float64(key, float64(x))
	case float64:
		return Float64(key, x)
	case bool:
		return Bool(key, x)
	case []byte:
		return Bytes(key, x)
	case TraceID:
		return Bytes(key, x[:])
	case SpanID:
		return Bytes(key, x[:])
	case fmt.Stringer:
		return String(key, x.String())
	default:
		return String(key, fmt.Sprint(x))
	}
}

// Tags is an ordered map from key to Value. Setting an existing key keeps its
// original position. The zero value is an empty set ready to use.
//
// Like a slice, a copied Tags shares storage with the original: Set or Delete
// through one copy can leave the other inconsistent. Clone a set before
// modifying it unless you own it. Merge and Clone always return owned sets,
// and tags handed to a Target belong to that Target.
type Tags struct {
	index map[string]int
	keys  []string
	vals  []Value
}

func (Tags) tagger() {}

// NewTags builds a set from the given tags, later tags winning.
func NewTags(tags ...Tag) Tags {
	var t Tags
	for _, tag := range tags {
		t.Set(tag.Key, tag.Value)
	}
	return t
}

// Set stores v under key.
func (t *Tags) Set(key string, v Value) {
	if i, ok := t.index[key]; ok {
		t.vals[i] = v
		return
	}
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[key] = len(t.keys)
	t.keys = append(t.keys, key)
	t.vals = append(t.vals, v)
}

// Get returns the value stored under key.
func (t Tags) Get(key string) (Value, bool) {
	i, ok := t.index[key]
	if !ok {
		return Value{}, false
	}
	return t.vals[i], true
}

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t.index[key]
	return ok
}

// Delete removes key, preserving the order of the remaining keys.
func (t *Tags) Delete(key string) {
	i, ok := t.index[key]
	if !ok {
		return
	}
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	t.vals = append(t.vals[:i], t.vals[i+1:]...)
	delete(t.index, key)
	for j := i; j < len(t.keys); j++ {
		t.index[t.keys[j]] = j
	}
}

// Len returns the number of tags.
func (t Tags) Len() int { return len(t.keys) }

// Keys returns the keys in insertion order.
func (t Tags) Keys() []string { return append([]string(nil), t.keys...) }

// Range calls fn for each tag in order until fn returns false.
func (t Tags) Range(fn func(key string, v Value) bool) {
	for i, k := range t.keys {
		if !fn(k, t.vals[i]) {
			return
		}
	}
}

// Clone returns an independent copy.
func (t Tags) Clone() Tags {
	if len(t.keys) == 0 {
		return Tags{}
	}
	c := Tags{
		index: make(map[string]int, len(t.keys)),
		keys:  append([]string(nil), t.keys...),
		vals:  append([]Value(nil), t.vals...),
	}
	for k, i := range t.index {
		c.index[k] = i
	}
	return c
}

// Map returns the tags as a plain map with bytes hex-encoded.
func (t Tags) Map() map[string]any {
	m := make(map[string]any, len(t.keys))
	for i, k := range t.keys {
		m[k] = t.vals[i].Interface()
	}
	return m
}

// Merge returns a new set containing t overridden by the given taggers.
// Tag dictionaries are applied first and single tags last, so an explicit
// keyword tag always beats a dictionary entry, which beats the receiver.
func (t Tags) Merge(taggers ...Tagger) Tags {
	merged := t.Clone()
	for _, tg := range taggers {
		if dict, ok := tg.(Tags); ok {
			dict.Range(func(k string, v Value) bool {
				merged.Set(k, v)
				return true
			})
		}
	}
	for _, tg := range taggers {
		if tag, ok := tg.(Tag); ok {
			merged.Set(tag.Key, tag.Value)
		}
	}
	return merged
}
