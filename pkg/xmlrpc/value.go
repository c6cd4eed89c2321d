package xmlrpc

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindDateTime
	KindBinary
	KindArray
	KindStruct
)

// String returns the XML-RPC type name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindDateTime:
		return "dateTime.iso8601"
	case KindBinary:
		return "base64"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Value is an XML-RPC value. The zero Value is Nil.
//
// Values are immutable once built; accessors never alias internal slices
// that the caller could use to modify a shared Value.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	s       string
	t       time.Time
	bin     []byte
	arr     []Value
	members []Member
}

// Member is one named entry of a Struct, in wire order.
type Member struct {
	Name  string
	Value Value
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double returns a floating point value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// DateTime returns a date/time value holding t as a UTC instant truncated
// to the second, which is all the wire format carries.
func DateTime(t time.Time) Value {
	return Value{kind: KindDateTime, t: t.UTC().Truncate(time.Second)}
}

// Binary returns a base64 value holding a copy of b.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: bytes.Clone(nonNil(b))}
}

// Array returns an array value.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value{}, items...)}
}

// Struct returns a struct value with members in the given order.
func Struct(members ...Member) Value {
	return Value{kind: KindStruct, members: append([]Member{}, members...)}
}

// StructOf builds a struct from alternating name/value pairs.
// It panics if the arguments are not name/Value pairs.
func StructOf(pairs ...any) Value {
	if len(pairs)%2 != 0 {
		panic("xmlrpc: StructOf needs name/value pairs")
	}
	members := make([]Member, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic("xmlrpc: StructOf member name must be a string")
		}
		v, ok := pairs[i+1].(Value)
		if !ok {
			panic("xmlrpc: StructOf member value must be a Value")
		}
		members = append(members, Member{Name: name, Value: v})
	}
	return Value{kind: KindStruct, members: members}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsDouble returns the float held by v. Integers are widened.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsText returns the string held by v, or the bytes of a Binary value.
// Smuggled base64 strings come back from the server as Binary.
func (v Value) AsText() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindBinary:
		return string(v.bin), true
	}
	return "", false
}

// AsDateTime returns the time held by v.
func (v Value) AsDateTime() (time.Time, bool) { return v.t, v.kind == KindDateTime }

// AsBinary returns a copy of the bytes held by v.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return bytes.Clone(v.bin), true
}

// AsArray returns a copy of the items held by v.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return append([]Value{}, v.arr...), true
}

// Members returns a copy of the struct members held by v.
func (v Value) Members() ([]Member, bool) {
	if v.kind != KindStruct {
		return nil, false
	}
	return append([]Member{}, v.members...), true
}

// Len returns the number of items of an Array or members of a Struct.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindStruct:
		return len(v.members)
	}
	return 0
}

// Index returns the i-th array item, or Nil when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Get returns the struct member named name. The first match wins.
func (v Value) Get(name string) (Value, bool) {
	if v.kind != KindStruct {
		return Value{}, false
	}
	for _, m := range v.members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Field returns the struct member named name, or Nil.
func (v Value) Field(name string) Value {
	f, _ := v.Get(name)
	return f
}

// Keys returns the struct member names in order.
func (v Value) Keys() []string {
	if v.kind != KindStruct {
		return nil
	}
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.Name
	}
	return keys
}

// With returns a copy of struct v with member name set to val, appended
// when absent.
func (v Value) With(name string, val Value) Value {
	if v.kind != KindStruct {
		return v
	}
	members := append([]Member{}, v.members...)
	for i := range members {
		if members[i].Name == name {
			members[i].Value = val
			return Value{kind: KindStruct, members: members}
		}
	}
	return Value{kind: KindStruct, members: append(members, Member{Name: name, Value: val})}
}

// Equal reports whether v and o hold the same variant and contents.
// Struct comparison is order-sensitive; DateTime compares instants.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindDateTime:
		return v.t.Equal(o.t)
	case KindBinary:
		return bytes.Equal(v.bin, o.bin)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Name != o.members[i].Name || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v compactly for logs and the console.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v Value) render(sb *strings.Builder) {
	switch v.kind {
	case KindNil:
		sb.WriteString("nil")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindDouble:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindDateTime:
		sb.WriteString(v.t.Format(DateTimeLayout))
	case KindBinary:
		sb.WriteString("base64(")
		sb.WriteString(strconv.Itoa(len(v.bin)))
		sb.WriteString(" bytes)")
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.render(sb)
		}
		sb.WriteByte(']')
	case KindStruct:
		sb.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(m.Name)
			sb.WriteString(": ")
			m.Value.render(sb)
		}
		sb.WriteByte('}')
	}
}
