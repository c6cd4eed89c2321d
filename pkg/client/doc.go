// Package client implements the GBXRemote 2 RPC client.
//
// A Client owns one framed connection to a dedicated server. Queries are
// synchronous: Query writes a methodCall under a fresh handle and reads
// frames until the reply with that handle arrives. Callback frames that
// arrive in the meantime are parsed and queued in arrival order; callers
// drain them with PopCallback or DrainCallbacks, and pick up callbacks that
// arrive between queries with PollCallbacks.
//
// Connection and protocol errors are fatal: the client moves to the
// Faulted state, closes the connection, and returns the same error from
// every later call. A fault reply is an ordinary error and leaves the
// client usable.
//
// A Client is not safe for concurrent use. Use the pump package to share
// one client between goroutines.
package client
