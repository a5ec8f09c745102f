// Package transport defines the interfaces between the medium independent client
// connector / server acceptor (package base) and a concrete transport medium.
//
// Key Components:
//
//   - IClientConnector: dials a single socket and applies socket options to it.
//
//   - IServerConnector: binds a listener with a backlog and applies socket options
//     to accepted sockets.
//
// The tcp subpackage provides the implementations for TCP sockets.
package transport
