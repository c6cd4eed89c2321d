// Package transport implements the GBXRemote 2 stream transport.
//
// A session starts with a greeting: a little-endian uint32 length followed
// by that many bytes naming the protocol ("GBXRemote 2"). After that every
// message is a frame:
//
//	┌──────────────┬────────────────┬──────────────────┐
//	│ size (u32 LE)│ handle (u32 LE)│ XML-RPC payload  │
//	└──────────────┴────────────────┴──────────────────┘
//
// Handles issued by the client have the high bit set and are echoed in the
// matching response. Frames whose handle has the high bit clear are
// callbacks pushed by the server and may arrive at any time, including
// between a request and its response.
//
// # Timeouts
//
// A frame header is read under the header timeout (20 s by default). The
// payload is read in chunks, each under the chunk timeout (100 ms by
// default); the deadline is refreshed before every underlying read, so a
// large response only fails if the stream stalls.
//
// # Errors
//
// ConnectionError (I/O failure) and ProtocolError (peer misbehaviour) are
// fatal: the caller must discard the connection. ErrRequestTooLarge is
// returned before anything is written and leaves the stream intact.
package transport
