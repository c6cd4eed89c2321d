package xmlrpc

// MulticallMethod is the batching method every server implements.
const MulticallMethod = "system.multicall"

// Call is one entry of a multicall batch.
type Call struct {
	Method string
	Params []Value
}

// NewCall returns a Call with the given arguments.
func NewCall(method string, params ...Value) Call {
	return Call{Method: method, Params: params}
}

// Builder renders methodCall documents.
type Builder struct {
	codec *Codec
}

// NewBuilder creates a builder that serializes arguments with codec.
// A nil codec uses the defaults.
func NewBuilder(codec *Codec) *Builder {
	if codec == nil {
		codec = NewCodec()
	}
	return &Builder{codec: codec}
}

// BuildCall renders a methodCall for method with positional args.
func (b *Builder) BuildCall(method string, args []Value) ([]byte, error) {
	params := NewElement("params")
	for _, arg := range args {
		ve, err := b.codec.SerializeValue(arg)
		if err != nil {
			return nil, err
		}
		params.Children = append(params.Children, NewElement("param", ve))
	}
	return methodCall(method, params).MarshalDocument(), nil
}

// BuildMulticall renders a system.multicall whose single parameter is an
// array of {methodName, params} structs.
func (b *Builder) BuildMulticall(calls []Call) ([]byte, error) {
	data := NewElement("data")
	for _, call := range calls {
		args := NewElement("data")
		for _, p := range call.Params {
			ve, err := b.codec.SerializeValue(p)
			if err != nil {
				return nil, err
			}
			args.Children = append(args.Children, ve)
		}

		// The method name is never routed through base64 smuggling.
		entry := NewElement("struct",
			NewElement("member",
				TextElement("name", "methodName"),
				NewElement("value", TextElement("string", call.Method)),
			),
			NewElement("member",
				TextElement("name", "params"),
				NewElement("value", NewElement("array", args)),
			),
		)
		data.Children = append(data.Children, NewElement("value", entry))
	}

	param := NewElement("param", NewElement("value", NewElement("array", data)))
	return methodCall(MulticallMethod, NewElement("params", param)).MarshalDocument(), nil
}

func methodCall(method string, params *Element) *Element {
	return NewElement("methodCall", TextElement("methodName", method), params)
}

// BuildResponse renders a methodResponse carrying v.
func (b *Builder) BuildResponse(v Value) ([]byte, error) {
	ve, err := b.codec.SerializeValue(v)
	if err != nil {
		return nil, err
	}
	params := NewElement("params", NewElement("param", ve))
	return NewElement("methodResponse", params).MarshalDocument(), nil
}

// BuildFault renders a methodResponse carrying a fault.
func (b *Builder) BuildFault(f *Fault) ([]byte, error) {
	ve, err := b.codec.SerializeValue(f.Value())
	if err != nil {
		return nil, err
	}
	return NewElement("methodResponse", NewElement("fault", ve)).MarshalDocument(), nil
}

// BuildMulticallResponse renders the reply to a system.multicall: each
// success is wrapped in a one-element array, each fault is a fault struct.
func (b *Builder) BuildMulticallResponse(results []Result) ([]byte, error) {
	entries := make([]Value, len(results))
	for i, r := range results {
		if r.Fault != nil {
			entries[i] = r.Fault.Value()
			continue
		}
		entries[i] = Array(r.Value)
	}
	return b.BuildResponse(Array(entries...))
}
