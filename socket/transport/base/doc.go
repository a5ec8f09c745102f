// Package base implements the client connector and the server acceptor independent of
// the transport medium. Transport packages (see tcp) provide the dial / listen / upgrade
// operations through the transport.IClientConnector and transport.IServerConnector
// interfaces and wrap the types of this package in their factory functions.
//
// The package focuses on:
//   - Establishing one outbound connection with a synchronous connect boundary
//   - Automatic reconnect with capped exponential backoff
//   - Accepting inbound connections in a single guarded accept loop
//   - Lifecycle notification of registered event listeners
//
// Key Components:
//
//   - Client: Connect blocks up to a timeout for the outcome of the dial and returns it,
//     next to the ConnectionEstablished / ConnectionFailed events. With reconnect enabled,
//     a failed connect or a connection closed with a non success kind starts a single
//     reconnect sequence (guarded by an atomic flag). The n-th consecutive wait is
//     min(base * 2^(n-1), max); a successful connect resets it to the base interval.
//     Settings.ReconnectMaxAttempts limits the number of attempts (0 retries forever).
//
//   - Server: Start binds the listener with the given backlog and launches the accept
//     loop. Every accepted socket becomes a conn.Connection stored in a registry keyed by
//     connection id. Transient accept errors are retried with a growing pause, closing the
//     listener ends the loop. Settings.MaxConnections caps simultaneously open sockets.
//
// Messaging:
//
// Client.QueueMessage and Server.QueueMessage have no effect without a connection; callers
// rely on the connection events to know the state. Server.QueueMessage targets the most
// recently accepted connection, Server.QueueMessageTo and Server.Broadcast address the
// registry.
//
// Events are delivered synchronously from the goroutine that observed the transition.
// Listener panics are recovered and logged per listener.
package base
