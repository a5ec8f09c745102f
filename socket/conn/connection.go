package conn

import (
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger(common.LoggerConn)

// ClosedFunc is invoked exactly once when a connection terminates
type ClosedFunc func(conn *Connection, kind common.ErrorKind)

// Stats is a snapshot of the traffic counters of one connection
type Stats struct {
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64
}

// Connection owns one live socket and moves opaque byte buffers in both directions.
//
// Outbound buffers are written by the send loop in enqueue order, inbound buffers are
// read by the receive loop and handed to the data handler by the dispatch loop in
// arrival order. Each loop has at most one running instance, guarded by an atomic flag.
// A connection is never reopened: once closed, a new instance has to be created.
type Connection struct {
	id       string
	remote   common.Endpoint
	local    common.Endpoint
	conn     net.Conn
	settings common.Settings
	handler  IDataHandler
	onClosed ClosedFunc

	sendQueue *fifo[*bytebufferpool.ByteBuffer]
	recvQueue *fifo[[]byte]

	// single active loop guards
	sending     atomic.Bool
	receiving   atomic.Bool
	dispatching atomic.Bool

	closed    atomic.Bool
	closeKind atomic.Int32
	done      chan struct{}
	loops     sync.WaitGroup

	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
}

// NewConnection takes ownership of netConn and starts the receive loop. onClosed may be nil.
func NewConnection(netConn net.Conn, settings common.Settings, handler IDataHandler, onClosed ClosedFunc) *Connection {
	c := PrepareConnection(netConn, settings, handler, onClosed)
	c.Start()
	return c
}

// PrepareConnection takes ownership of netConn without reading from it. The client
// connector and the server acceptor use it so that ConnectionEstablished is fanned
// out before any receive can close the connection; Start arms the receive loop.
func PrepareConnection(netConn net.Conn, settings common.Settings, handler IDataHandler, onClosed ClosedFunc) *Connection {
	if handler == nil {
		handler = DiscardHandler
	}

	c := &Connection{
		id:        uuid.NewString(),
		remote:    common.EndpointFromAddr(netConn.RemoteAddr().String()),
		local:     common.EndpointFromAddr(netConn.LocalAddr().String()),
		conn:      netConn,
		settings:  settings,
		handler:   handler,
		onClosed:  onClosed,
		sendQueue: newFIFO[*bytebufferpool.ByteBuffer](),
		recvQueue: newFIFO[[]byte](),
		done:      make(chan struct{}),
	}

	common.ConnectionsEstablished.Inc()
	common.ConnectionsActive.Inc()
	Logger.Debugf("Connection %s established (local %s, remote %s)", c.id, c.local, c.remote)
	return c
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the unique id of the connection
func (c *Connection) ID() string { return c.id }

// RemoteEndpoint returns the peer address captured when the connection was created
func (c *Connection) RemoteEndpoint() common.Endpoint { return c.remote }

// LocalEndpoint returns the local address captured when the connection was created
func (c *Connection) LocalEndpoint() common.Endpoint { return c.local }

// Connected reports whether the connection has not been closed yet
func (c *Connection) Connected() bool { return !c.closed.Load() }

// Done is closed after the connection has been closed and the closed callback returned
func (c *Connection) Done() <-chan struct{} { return c.done }

// CloseKind returns the terminal error kind. Only meaningful once Done is closed.
func (c *Connection) CloseKind() common.ErrorKind { return common.ErrorKind(c.closeKind.Load()) }

// PendingSends returns the number of queued outbound buffers
func (c *Connection) PendingSends() int { return c.sendQueue.Len() }

// Stats returns a snapshot of the traffic counters
func (c *Connection) Stats() Stats {
	return Stats{
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
	}
}

// Wait blocks until the send, receive and dispatch loops have exited.
// Call it after Close; on an open connection it blocks until the peer disconnects.
func (c *Connection) Wait() {
	<-c.done
	c.loops.Wait()
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection[%s %s->%s]", c.id, c.local, c.remote)
}

// --------------------------------------------------------------------------
// Send
// --------------------------------------------------------------------------

// QueueMessage enqueues data for transmission and returns immediately.
// The payload is copied, the caller may reuse data after the call.
//
// Returns common.ErrEmptyMessage or common.ErrMessageTooLarge (both wrap
// common.ErrInvalidMessage) for invalid payloads and common.ErrConnectionClosed
// if the connection has been closed.
func (c *Connection) QueueMessage(data []byte) error {
	if err := ValidateMessage(data, c.settings.SendBufferSize); err != nil {
		return err
	}
	if c.closed.Load() {
		return common.ErrConnectionClosed
	}

	buf := bytebufferpool.Get()
	buf.Set(data)
	c.sendQueue.Push(buf)

	c.trySend()
	return nil
}

// ValidateMessage checks that data is a valid outbound payload of 1..maxSize bytes
func ValidateMessage(data []byte, maxSize int) error {
	if len(data) == 0 {
		common.MessagesRejected.Inc()
		return common.ErrEmptyMessage
	}
	if len(data) > maxSize {
		common.MessagesRejected.Inc()
		return fmt.Errorf("%w (%d > %d bytes)", common.ErrMessageTooLarge, len(data), maxSize)
	}
	return nil
}

// trySend starts the send loop unless it is already running
func (c *Connection) trySend() {
	if c.closed.Load() || !c.sending.CompareAndSwap(false, true) {
		return
	}
	c.loops.Add(1)
	go c.sendLoop()
}

func (c *Connection) sendLoop() {
	defer c.loops.Done()

	for {
		if c.closed.Load() {
			c.releasePendingSends()
			c.sending.Store(false)
			return
		}

		buf, ok := c.sendQueue.Pop()
		if !ok {
			c.sending.Store(false)
			// a producer may have pushed between Pop and Store
			if c.sendQueue.Len() > 0 && !c.closed.Load() && c.sending.CompareAndSwap(false, true) {
				continue
			}
			return
		}

		n, err := c.write(buf.B)
		bytebufferpool.Put(buf)

		if err != nil {
			kind := common.ClassifyError(err)
			c.CloseSocket(fmt.Sprintf("send failed after %d bytes with %d buffers pending: %v", n, c.sendQueue.Len(), err), kind)
			continue
		}

		c.bytesSent.Add(uint64(n))
		c.messagesSent.Add(1)
		common.BytesSent.Add(n)
		common.MessagesSent.Inc()
	}
}

func (c *Connection) write(data []byte) (int, error) {
	if c.settings.SendTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.SendTimeout)); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(data)
}

func (c *Connection) releasePendingSends() {
	for _, buf := range c.sendQueue.Drain() {
		bytebufferpool.Put(buf)
	}
}

// --------------------------------------------------------------------------
// Receive
// --------------------------------------------------------------------------

// Start arms the receive loop. The loop runs at most once per connection, further
// calls and calls on a closed connection have no effect.
func (c *Connection) Start() {
	if c.closed.Load() || !c.receiving.CompareAndSwap(false, true) {
		return
	}
	c.loops.Add(1)
	go c.receiveLoop()
}

// receiveLoop keeps exactly one read outstanding. Every read is copied out of the
// shared buffer before the next read is issued.
func (c *Connection) receiveLoop() {
	defer c.loops.Done()
	defer c.receiving.Store(false)

	buf := make([]byte, c.settings.ReceiveBufferSize)

	for {
		if c.settings.ReceiveTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.settings.ReceiveTimeout)); err != nil {
				c.CloseSocket(fmt.Sprintf("set read deadline: %v", err), common.ClassifyError(err))
				return
			}
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			c.bytesReceived.Add(uint64(n))
			c.messagesReceived.Add(1)
			common.BytesReceived.Add(n)
			common.MessagesReceived.Inc()
			Logger.Debugf("Connection %s received %d bytes", c.id, n)

			c.recvQueue.Push(data)
			c.tryDispatch()
		}

		if err != nil {
			c.CloseSocket(fmt.Sprintf("receive failed: %v", err), common.ClassifyError(err))
			return
		}
		if n == 0 {
			c.CloseSocket("receive returned zero bytes", common.Disconnected)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// tryDispatch starts the dispatch loop unless it is already running
func (c *Connection) tryDispatch() {
	if !c.dispatching.CompareAndSwap(false, true) {
		return
	}
	c.loops.Add(1)
	go c.dispatchLoop()
}

// dispatchLoop hands received buffers to the data handler in arrival order.
// A failing handler pauses the loop for DispatchRetryDelay, the remaining buffers are kept,
// also once the connection has been closed.
func (c *Connection) dispatchLoop() {
	defer c.loops.Done()

	for {
		data, ok := c.recvQueue.Pop()
		if !ok {
			c.dispatching.Store(false)
			if c.recvQueue.Len() > 0 && c.dispatching.CompareAndSwap(false, true) {
				continue
			}
			return
		}

		err := c.handle(data)
		if err == nil {
			continue
		}

		common.HandlerErrors.Inc()
		Logger.Errorf("Connection %s: data handler failed, retrying in %s: %v", c.id, c.settings.DispatchRetryDelay, err)
		if c.settings.DispatchRetryDelay > 0 {
			time.Sleep(c.settings.DispatchRetryDelay)
		}
	}
}

// handle calls the data handler and converts a panic into an error
func (c *Connection) handle(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return c.handler.HandleData(data, c)
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close closes the connection gracefully (reported as common.Success)
func (c *Connection) Close() error {
	c.CloseSocket("closed by caller", common.Success)
	return nil
}

// CloseSocket closes the socket and reports kind to the closed callback.
// Only the first call has an effect; the return value reports whether this call closed the connection.
func (c *Connection) CloseSocket(reason string, kind common.ErrorKind) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	c.closeKind.Store(int32(kind))

	if err := c.conn.Close(); err != nil {
		Logger.Debugf("Connection %s: closing socket: %v", c.id, err)
	}

	pending := c.sendQueue.Len()
	if !c.sending.Load() {
		// no send loop left to release the buffers
		c.releasePendingSends()
	}

	common.ConnectionsClosed.Inc()
	common.ConnectionsActive.Dec()

	if kind.IsSuccess() {
		Logger.Infof("Connection %s to %s closed: %s", c.id, c.remote, reason)
	} else {
		Logger.Warningf("Connection %s to %s closed with %s (%d sends pending): %s", c.id, c.remote, kind, pending, reason)
	}

	c.notifyClosed(kind)
	close(c.done)
	return true
}

func (c *Connection) notifyClosed(kind common.ErrorKind) {
	if c.onClosed == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Connection %s: closed callback panicked: %v\n%s", c.id, r, debug.Stack())
		}
	}()
	c.onClosed(c, kind)
}
