package xmlrpc

import (
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// tagName is the struct tag read by FromNative and Unmarshal.
const tagName = "xmlrpc"

var (
	valueType = reflect.TypeOf(Value{})
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// FromNative converts a Go value into a Value.
//
// Maps whose keys are exactly the integers 0..n-1 become arrays; every
// other map becomes a struct with keys sorted. Structs use their exported
// fields in declaration order, named by the `xmlrpc` tag when present.
// An io.Reader is read to the end and sent as base64.
func FromNative(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Value{}, nil
		}
		return *x, nil
	case time.Time:
		return DateTime(x), nil
	case []byte:
		return Binary(x), nil
	case io.Reader:
		b, err := io.ReadAll(x)
		if err != nil {
			return Value{}, encErr("from native", err)
		}
		return Binary(b), nil
	}
	return fromReflect(reflect.ValueOf(v))
}

// FromNatives converts each argument with FromNative.
func FromNatives(args ...any) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := FromNative(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return Value{}, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Value{}, nil
		}
		return FromNative(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, encErr("from native", fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, u))
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, encErr("from native", fmt.Errorf("%w: non-finite double %v", ErrUnsupportedType, f))
		}
		return Double(f), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Array(), nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Binary(b), nil
		}
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := fromReflect(rv.Index(i))
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Array(items...), nil
	case reflect.Map:
		return fromMap(rv)
	case reflect.Struct:
		if rv.Type() == timeType {
			return DateTime(rv.Interface().(time.Time)), nil
		}
		return fromStruct(rv)
	}
	return Value{}, encErr("from native", fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type()))
}

func fromMap(rv reflect.Value) (Value, error) {
	if seq, ok := sequentialKeys(rv); ok {
		items := make([]Value, len(seq))
		for i, k := range seq {
			item, err := fromReflect(rv.MapIndex(k))
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Array(items...), nil
	}

	type entry struct {
		name string
		key  reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{name: fmt.Sprint(iter.Key().Interface()), key: iter.Key()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	members := make([]Member, 0, len(entries))
	for _, e := range entries {
		mv, err := fromReflect(rv.MapIndex(e.key))
		if err != nil {
			return Value{}, err
		}
		members = append(members, Member{Name: e.name, Value: mv})
	}
	return Struct(members...), nil
}

// sequentialKeys returns the keys of an integer-keyed map ordered 0..n-1
// when they are exactly that sequence.
func sequentialKeys(rv reflect.Value) ([]reflect.Value, bool) {
	n := rv.Len()
	if n == 0 {
		return nil, false
	}
	var idx func(reflect.Value) (int64, bool)
	switch rv.Type().Key().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		idx = func(k reflect.Value) (int64, bool) { return k.Int(), true }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		idx = func(k reflect.Value) (int64, bool) {
			u := k.Uint()
			return int64(u), u <= math.MaxInt64
		}
	default:
		return nil, false
	}

	keys := make([]reflect.Value, n)
	iter := rv.MapRange()
	for iter.Next() {
		i, ok := idx(iter.Key())
		if !ok || i < 0 || i >= int64(n) || keys[i].IsValid() {
			return nil, false
		}
		keys[i] = iter.Key()
	}
	return keys, true
}

func fromStruct(rv reflect.Value) (Value, error) {
	t := rv.Type()
	members := make([]Member, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseTag(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		mv, err := fromReflect(fv)
		if err != nil {
			return Value{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		members = append(members, Member{Name: name, Value: mv})
	}
	return Struct(members...), nil
}

func parseTag(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get(tagName)
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// Native returns v as plain Go values: nil, bool, int64, float64, string,
// time.Time, []byte, []any or map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindDateTime:
		return v.t
	case KindBinary:
		return append([]byte{}, v.bin...)
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Native()
		}
		return out
	case KindStruct:
		out := make(map[string]any, len(v.members))
		for _, m := range v.members {
			if _, dup := out[m.Name]; !dup {
				out[m.Name] = m.Value.Native()
			}
		}
		return out
	}
	return nil
}

// Unmarshal decodes v into out, which must be a non-nil pointer. Struct
// fields are matched by their `xmlrpc` tag or, case-insensitively, by
// name. Binary values decode into string fields, so smuggled base64 text
// reads back naturally.
func Unmarshal(v Value, out any) error {
	if target, ok := out.(*Value); ok && target != nil {
		*target = v
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    tagName,
		Result:     out,
		DecodeHook: decodeHook,
	})
	if err != nil {
		return encErr("unmarshal", err)
	}
	if err := dec.Decode(v.Native()); err != nil {
		return encErr("unmarshal", fmt.Errorf("%w: %w", ErrTypeMismatch, err))
	}
	return nil
}

// decodeHook adapts wire shapes the default mapstructure rules reject.
func decodeHook(from, to reflect.Type, data any) (any, error) {
	switch {
	case from == bytesType && to.Kind() == reflect.String:
		return string(data.([]byte)), nil
	case from.Kind() == reflect.String && to == bytesType:
		return []byte(data.(string)), nil
	case to == valueType:
		return FromNative(data)
	}
	return data, nil
}
