// Package ws provides the websocket transport between the relay and its
// peers.
//
// The package implements:
//   - Conn: one websocket peer with a buffered outbound queue
//   - Hub: connection id to Conn lookup, used by the relay as its Transport
//   - Service: upgrades HTTP requests and runs the read and write pumps
//
// Every frame is a JSON text message of the form
//
//	{"event": "<name>", "data": {...}}
//
// Inbound frames on one connection are handed to the relay in arrival order
// by that connection's read pump.
package ws
