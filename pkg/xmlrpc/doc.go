// Package xmlrpc implements the XML-RPC dialect spoken by GBXRemote 2
// dedicated servers.
//
// Value is a closed union of the XML-RPC types (nil, boolean, int, double,
// string, dateTime.iso8601, base64, array, struct). Codec maps Values to
// and from value elements, Builder renders methodCall documents including
// system.multicall batches, and Parser decodes methodResponse documents,
// faults and server callbacks.
//
// # Dialect notes
//
// Dates use the compact form 20060102T15:04:05 in UTC, whole seconds. A string
// that is already valid base64 (and survives a decode/encode round trip)
// is sent as a base64 element; servers answer such values as base64, so
// they come back as Binary. Use Value.AsText to read either form, or
// disable the behaviour with WithBase64Strings(false). Strings holding
// manialink XML are sent as CDATA.
//
// Malformed scalar content (for example <int>x</int>) decodes to Nil
// rather than failing the whole document. Unknown elements are an error.
package xmlrpc
