package xmlrpc

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrUnknownTag indicates an element the codec does not know.
	ErrUnknownTag = errors.New("unknown element")

	// ErrUnsupportedType indicates a value that has no XML-RPC form.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrMalformed indicates a document missing required structure.
	ErrMalformed = errors.New("malformed document")

	// ErrTypeMismatch indicates a Value that cannot be decoded into the
	// requested Go type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// EncodingError reports a failure to serialize or deserialize a value.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("xmlrpc: %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func encErr(op string, err error) error {
	return &EncodingError{Op: op, Err: err}
}

// Fault is an error reply from the server. It is recoverable: the
// connection stays usable.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

// Value returns the fault in its wire shape.
func (f *Fault) Value() Value {
	return StructOf(
		"faultCode", Int(int64(f.Code)),
		"faultString", String(f.Message),
	)
}

// faultFromValue reads faultCode and faultString from a struct.
func faultFromValue(v Value) *Fault {
	f := &Fault{}
	if code, ok := v.Field("faultCode").AsInt(); ok {
		f.Code = int(code)
	}
	if msg, ok := v.Field("faultString").AsText(); ok {
		f.Message = msg
	}
	return f
}

// isFault reports whether v looks like a fault struct.
func isFault(v Value) bool {
	if v.Kind() != KindStruct {
		return false
	}
	_, ok := v.Get("faultCode")
	return ok
}

// AsFault returns the Fault wrapped in err, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
