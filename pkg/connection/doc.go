// Package connection keeps a GBXRemote client connected.
//
// The client itself never reconnects: a connection or protocol error
// leaves it Faulted. A Manager owns the dial-and-serve loop around it.
// It dials, hands the ready client to a session function, and when the
// session ends with a fatal error, closes the client and dials again
// after an exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Reset to 1s once a dial succeeds
//
// Each delay gets up to 25% random jitter added:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// Only fatal transport errors are retried. A rejected login or any other
// fault from the server ends Run with that error.
package connection
