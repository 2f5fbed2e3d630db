// Package session owns the connection lifecycle: the credential store, the
// connection state machine and the reconnect loop that serializes transport
// events and posted jobs onto one goroutine.
package session
