// Package common provides the data structures and utilities shared by all socket
// packages. It defines the settings consumed by connections, client connectors and
// server acceptors, the error taxonomy and the ambient logging / metrics setup.
//
// The package focuses on:
//   - Settings with defaults, validation and a printable representation
//   - ErrorKind, the terminal state reported for failed connects and closed connections
//   - Sentinel errors for validation and lifecycle failures
//   - Custom logging implementation integrated with Dragonboat's logger registry
//   - Process wide counters exported in prometheus format
//
// Key Components:
//
//   - Settings: buffer sizes, timeouts, reconnect policy and tcp socket options.
//     DefaultSettings returns the defaults, Validate enforces the invariants
//     (buffer sizes > 0, intervals > 0 and max >= base when reconnect is enabled).
//
//   - Endpoint: host and port snapshot taken from a socket. Endpoints are values and
//     stay valid after the socket has been closed.
//
//   - ErrorKind / ClassifyError: maps errors of the net package (timeouts, refused,
//     reset, EOF, ...) to a small set of kinds that are reported to event listeners.
//
//   - Logger: every package obtains its logger via logger.GetLogger(name);
//     InitLoggers installs the custom factory and sets the level.
package common
