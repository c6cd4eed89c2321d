package xmlrpc

import (
	"fmt"
	"strings"
)

// ParamNamer names the positional parameters of server callbacks.
//
// ParamName returns the name for position index of method. A known
// position with an empty name is skipped: it stays in Callback.Params but
// gets no entry in Callback.Args.
//
// Learn is called for positions without a name, with the placeholder name
// the parser assigned and the decoded value.
type ParamNamer interface {
	ParamName(method string, index int) (name string, known bool)
	Learn(method string, index int, name string, sample Value)
}

// PlaceholderName is the name given to a callback parameter at index
// when no table knows it.
func PlaceholderName(index int) string {
	return fmt.Sprintf("param%d", index)
}

// Callback is a server-initiated methodCall.
type Callback struct {
	// Method is the callback name, e.g. "TrackMania.PlayerChat".
	Method string

	// Args holds the named parameters in positional order.
	Args Value

	// Params holds every positional parameter as received.
	Params []Value

	// Handle is the frame handle the callback arrived with.
	Handle uint32
}

// Arg returns the named parameter, or Nil.
func (c Callback) Arg(name string) Value {
	return c.Args.Field(name)
}

// Result is one entry of a multicall reply.
type Result struct {
	Value Value
	Fault *Fault
}

// Err returns the entry's fault as an error, or nil.
func (r Result) Err() error {
	if r.Fault != nil {
		return r.Fault
	}
	return nil
}

// Parser decodes methodResponse and callback documents.
type Parser struct {
	codec *Codec
	namer ParamNamer
}

// NewParser creates a parser. A nil codec uses the defaults; a nil namer
// gives every callback parameter its placeholder name.
func NewParser(codec *Codec, namer ParamNamer) *Parser {
	if codec == nil {
		codec = NewCodec()
	}
	return &Parser{codec: codec, namer: namer}
}

// ParseResponse decodes a methodResponse. A fault reply is returned as a
// *Fault error; an empty <params/> decodes to Nil.
func (p *Parser) ParseResponse(data []byte) (Value, error) {
	root, err := ParseDocument(data)
	if err != nil {
		return Value{}, err
	}
	if root.Name != "methodResponse" {
		return Value{}, encErr("parse response", fmt.Errorf("%w: root <%s>", ErrMalformed, root.Name))
	}

	if fe := root.Child("fault"); fe != nil {
		fv, err := p.codec.Deserialize(fe.Child("value"))
		if err != nil {
			return Value{}, err
		}
		return Value{}, faultFromValue(fv)
	}

	params := root.Child("params")
	if params == nil {
		return Value{}, encErr("parse response", fmt.Errorf("%w: missing <params>", ErrMalformed))
	}
	param := params.Child("param")
	if param == nil {
		return Value{}, nil
	}
	return p.codec.Deserialize(param.Child("value"))
}

// ParseMulticallResponse decodes a system.multicall reply into results
// aligned with the calls. Each entry is a one-element array on success or
// a fault struct.
func (p *Parser) ParseMulticallResponse(data []byte) ([]Result, error) {
	v, err := p.ParseResponse(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindArray {
		return nil, encErr("parse multicall", fmt.Errorf("%w: reply is %s, not array", ErrMalformed, v.Kind()))
	}

	results := make([]Result, v.Len())
	for i := range results {
		entry := v.Index(i)
		switch {
		case isFault(entry):
			results[i].Fault = faultFromValue(entry)
		case entry.Kind() == KindArray:
			results[i].Value = entry.Index(0)
		default:
			results[i].Value = entry
		}
	}
	return results, nil
}

// ParseCallback decodes a server-pushed methodCall.
func (p *Parser) ParseCallback(data []byte) (Callback, error) {
	root, err := ParseDocument(data)
	if err != nil {
		return Callback{}, err
	}
	if root.Name != "methodCall" {
		return Callback{}, encErr("parse callback", fmt.Errorf("%w: root <%s>", ErrMalformed, root.Name))
	}
	ne := root.Child("methodName")
	if ne == nil {
		return Callback{}, encErr("parse callback", fmt.Errorf("%w: missing <methodName>", ErrMalformed))
	}

	cb := Callback{
		Method: strings.TrimSpace(ne.Text),
		Args:   Struct(),
	}

	params := root.Child("params")
	if params == nil {
		return cb, nil
	}

	var members []Member
	for i, pe := range params.ChildrenNamed("param") {
		v, err := p.codec.Deserialize(pe.Child("value"))
		if err != nil {
			return Callback{}, err
		}
		cb.Params = append(cb.Params, v)

		name, known := p.paramName(cb.Method, i)
		if !known {
			name = PlaceholderName(i)
			if p.namer != nil {
				p.namer.Learn(cb.Method, i, name, v)
			}
		} else if name == "" {
			continue
		}
		members = append(members, Member{Name: name, Value: v})
	}
	cb.Args = Struct(members...)
	return cb, nil
}

func (p *Parser) paramName(method string, index int) (string, bool) {
	if p.namer == nil {
		return "", false
	}
	return p.namer.ParamName(method, index)
}
