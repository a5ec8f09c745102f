package conn

// IDataHandler receives the payloads read from a connection. It is called once per
// received buffer, in arrival order, from the connection's dispatch loop. A buffer is
// exactly what one read returned: it may hold a partial message or several messages.
//
// Returning an error (or panicking) pauses the dispatch loop for the configured retry delay.
type IDataHandler interface {
	HandleData(data []byte, conn *Connection) error
}

// DataHandlerFunc adapts a function to IDataHandler
type DataHandlerFunc func(data []byte, conn *Connection) error

func (fn DataHandlerFunc) HandleData(data []byte, conn *Connection) error { return fn(data, conn) }

// DiscardHandler drops every payload
var DiscardHandler DataHandlerFunc = func(data []byte, conn *Connection) error { return nil }
