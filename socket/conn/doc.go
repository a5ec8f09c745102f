// Package conn implements the connection object shared by the client connector and the
// server acceptor. A Connection owns exactly one socket and moves opaque byte buffers in
// both directions; it never interprets or frames the payload.
//
// The package focuses on:
//   - Asynchronous, ordered sending through an unbounded queue of pooled buffers
//   - A receive loop with exactly one outstanding read
//   - Decoupled dispatch of received buffers to the caller supplied IDataHandler
//   - Idempotent close with a single terminal notification
//   - Fan-out of lifecycle events to IConnectionEventListener implementations
//
// Key Components:
//
//   - Connection: created by a connector after a successful connect / accept. Three loops
//     run per connection (send, receive, dispatch), each guarded by an atomic flag so that
//     at most one instance is active. Re-entrant triggers are coalesced, a loop that finds
//     its queue empty releases the guard and re-checks the queue to pick up buffers pushed
//     in the meantime.
//
//   - IDataHandler: called once per received buffer in arrival order. A buffer is exactly
//     what one read returned. Handler errors and panics are logged; the dispatch loop pauses
//     for Settings.DispatchRetryDelay and continues with the next buffer.
//
//   - ListenerSet: an insertion ordered set of event listeners. Every callback runs inside
//     its own recover boundary so a faulty listener cannot prevent delivery to the others.
//
// Lifecycle:
//
// NewConnection starts reading right away. PrepareConnection defers the receive loop until
// Start is called, which lets the owner announce the connection first.
//
// There is no cancellation token. Closing the socket (CloseSocket / Close, or a failing
// read or write) terminates the send and receive loops. The closed callback is invoked
// exactly once with the terminal error kind; common.Success marks a graceful, caller
// initiated close. Buffers queued but not yet written at that point are discarded, buffers
// already received are still dispatched.
package conn
