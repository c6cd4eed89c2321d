// Package pump drives a client's callback queue from one goroutine.
//
// A Pump polls the client for callbacks on a fixed interval, drains the
// queue and hands each callback to a Dispatcher in arrival order. Other
// goroutines that need to query the server submit work with Do, which runs
// on the pump goroutine, so the client only ever has one caller.
package pump
