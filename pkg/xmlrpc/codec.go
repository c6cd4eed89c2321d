package xmlrpc

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DateTimeLayout is the compact dateTime.iso8601 form the server uses.
const DateTimeLayout = "20060102T15:04:05"

// dateTimeFallbacks are tried in order when the compact form does not parse.
var dateTimeFallbacks = []string{
	"2006-01-02T15:04:05",
	"20060102T15:04:05Z07:00",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// manialinkMarker flags strings sent as CDATA.
const manialinkMarker = "<manialink"

var base64Pattern = regexp.MustCompile(`^(?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithBase64Strings controls whether strings that are valid base64 are sent
// as base64 elements. On by default, matching what dedicated servers and
// existing controllers expect.
func WithBase64Strings(enabled bool) CodecOption {
	return func(c *Codec) { c.base64Strings = enabled }
}

// Codec maps Values to and from XML-RPC value elements.
// A Codec is safe for concurrent use.
type Codec struct {
	base64Strings bool
}

// NewCodec creates a codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{base64Strings: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsSmuggledBase64 reports whether s would be sent as a base64 element:
// non-empty, syntactically base64, and stable under decode/encode.
func IsSmuggledBase64(s string) bool {
	if s == "" || !base64Pattern.MatchString(s) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return base64.StdEncoding.EncodeToString(decoded) == s
}

// Serialize returns the typed element for v (the child of <value>).
func (c *Codec) Serialize(v Value) (*Element, error) {
	switch v.kind {
	case KindNil:
		return TextElement("nil", ""), nil
	case KindBool:
		if v.b {
			return TextElement("boolean", "1"), nil
		}
		return TextElement("boolean", "0"), nil
	case KindInt:
		return TextElement("int", strconv.FormatInt(v.i, 10)), nil
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, encErr("serialize", fmt.Errorf("%w: non-finite double %v", ErrUnsupportedType, v.f))
		}
		return TextElement("double", strconv.FormatFloat(v.f, 'f', -1, 64)), nil
	case KindString:
		return c.serializeString(v.s), nil
	case KindDateTime:
		return TextElement("dateTime.iso8601", v.t.Format(DateTimeLayout)), nil
	case KindBinary:
		return TextElement("base64", base64.StdEncoding.EncodeToString(v.bin)), nil
	case KindArray:
		data := NewElement("data")
		for _, item := range v.arr {
			ve, err := c.SerializeValue(item)
			if err != nil {
				return nil, err
			}
			data.Children = append(data.Children, ve)
		}
		return NewElement("array", data), nil
	case KindStruct:
		st := NewElement("struct")
		for _, m := range v.members {
			ve, err := c.SerializeValue(m.Value)
			if err != nil {
				return nil, err
			}
			st.Children = append(st.Children, NewElement("member", TextElement("name", m.Name), ve))
		}
		return st, nil
	}
	return nil, encErr("serialize", fmt.Errorf("%w: kind %d", ErrUnsupportedType, v.kind))
}

// SerializeValue returns v wrapped in a <value> element.
func (c *Codec) SerializeValue(v Value) (*Element, error) {
	typed, err := c.Serialize(v)
	if err != nil {
		return nil, err
	}
	return NewElement("value", typed), nil
}

func (c *Codec) serializeString(s string) *Element {
	if c.base64Strings && IsSmuggledBase64(s) {
		return TextElement("base64", s)
	}
	if !utf8.ValidString(s) || !isXMLText(s) {
		return TextElement("base64", base64.StdEncoding.EncodeToString([]byte(s)))
	}
	el := TextElement("string", s)
	el.CDATA = strings.Contains(s, manialinkMarker)
	return el
}

// isXMLText reports whether every rune of s may appear in XML 1.0 text.
func isXMLText(s string) bool {
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

// Deserialize decodes a <value> element or a typed element.
// Malformed scalar text decodes to Nil; unknown elements are an error.
func (c *Codec) Deserialize(el *Element) (Value, error) {
	if el == nil {
		return Value{}, nil
	}

	switch el.Name {
	case "value":
		if len(el.Children) > 1 {
			return Value{}, encErr("deserialize", fmt.Errorf("%w: <value> with %d typed children", ErrMalformed, len(el.Children)))
		}
		if typed := el.First(); typed != nil {
			return c.Deserialize(typed)
		}
		if el.Text == "" {
			return Value{}, nil
		}
		// Untyped content defaults to string.
		return String(el.Text), nil
	case "string":
		return String(el.Text), nil
	case "int", "i4":
		i, err := strconv.ParseInt(strings.TrimSpace(el.Text), 10, 64)
		if err != nil {
			return Value{}, nil
		}
		return Int(i), nil
	case "boolean":
		switch strings.ToLower(strings.TrimSpace(el.Text)) {
		case "1", "true":
			return Bool(true), nil
		case "0", "false":
			return Bool(false), nil
		}
		return Value{}, nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(el.Text), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, nil
		}
		return Double(f), nil
	case "dateTime.iso8601":
		t, ok := parseDateTime(el.Text)
		if !ok {
			return Value{}, nil
		}
		return DateTime(t), nil
	case "base64":
		b, err := decodeBase64(el.Text)
		if err != nil {
			return Value{}, nil
		}
		return Value{kind: KindBinary, bin: b}, nil
	case "nil":
		return Value{}, nil
	case "array":
		return c.deserializeArray(el)
	case "struct", "fault":
		return c.deserializeStruct(el)
	}
	return Value{}, unknownTag(el)
}

func unknownTag(el *Element) error {
	return encErr("deserialize", fmt.Errorf("%w: <%s>", ErrUnknownTag, el.Name))
}

// deserializeArray accepts one optional <data> holding only <value>
// elements.
func (c *Codec) deserializeArray(el *Element) (Value, error) {
	var data *Element
	for _, child := range el.Children {
		if child.Name != "data" {
			return Value{}, unknownTag(child)
		}
		if data != nil {
			return Value{}, encErr("deserialize", fmt.Errorf("%w: <array> with several <data>", ErrMalformed))
		}
		data = child
	}
	if data == nil {
		return Array(), nil
	}

	items := make([]Value, 0, len(data.Children))
	for _, ve := range data.Children {
		if ve.Name != "value" {
			return Value{}, unknownTag(ve)
		}
		item, err := c.Deserialize(ve)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return Value{kind: KindArray, arr: items}, nil
}

// deserializeStruct accepts only <member> children, each made of <name>
// and <value>. Members without a name are skipped.
func (c *Codec) deserializeStruct(el *Element) (Value, error) {
	var members []Member
	for _, me := range el.Children {
		if me.Name != "member" {
			return Value{}, unknownTag(me)
		}
		var ne, ve *Element
		for _, part := range me.Children {
			switch part.Name {
			case "name":
				ne = part
			case "value":
				ve = part
			default:
				return Value{}, unknownTag(part)
			}
		}
		if ne == nil {
			continue
		}
		mv, err := c.Deserialize(ve)
		if err != nil {
			return Value{}, err
		}
		members = append(members, Member{Name: strings.TrimSpace(ne.Text), Value: mv})
	}
	return Value{kind: KindStruct, members: nonNilMembers(members)}, nil
}

func nonNilMembers(m []Member) []Member {
	if m == nil {
		return []Member{}
	}
	return m
}

func parseDateTime(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(DateTimeLayout, text); err == nil {
		return t, true
	}
	for _, layout := range dateTimeFallbacks {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeBase64 accepts standard base64 with embedded line breaks.
func decodeBase64(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, text)
	return base64.StdEncoding.Strict().DecodeString(clean)
}
