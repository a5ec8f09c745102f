package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/net/netutil"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var ServerLogger = logger.GetLogger(common.LoggerServer)

const (
	// bounds of the pause after a failed accept
	minAcceptRetryDelay = 5 * time.Millisecond
	maxAcceptRetryDelay = time.Second
)

// Server accepts inbound connections on a port and creates a Connection per accepted socket.
// Live connections are tracked in a registry keyed by connection id; QueueMessage targets
// the most recently accepted connection, QueueMessageTo and Broadcast address the registry.
type Server struct {
	id        string
	port      int
	settings  common.Settings
	connector transport.IServerConnector
	handler   conn.IDataHandler
	listeners conn.ListenerSet

	started   atomic.Bool
	stopping  atomic.Bool
	accepting atomic.Bool

	listenerMu sync.RWMutex
	listener   net.Listener

	connections *xsync.MapOf[string, *conn.Connection]
	latest      atomic.Pointer[conn.Connection]
	wg          sync.WaitGroup
}

// NewServer creates a server acceptor for port (0 picks a free port on Start)
func NewServer(port int, connector transport.IServerConnector, handler conn.IDataHandler, settings common.Settings) (*Server, error) {
	if err := common.ValidateListenPort(port); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, fmt.Errorf("%w: connector must not be nil", common.ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: data handler must not be nil", common.ErrInvalidArgument)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		id:          uuid.NewString(),
		port:        port,
		settings:    settings,
		connector:   connector,
		handler:     handler,
		connections: xsync.NewMapOf[string, *conn.Connection](),
	}, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the unique id of the server
func (s *Server) ID() string { return s.id }

// Settings returns the settings of the server
func (s *Server) Settings() common.Settings { return s.settings }

// Addr returns the address the server is bound to, nil before Start
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port (the configured port before Start)
func (s *Server) Port() int {
	if addr := s.Addr(); addr != nil {
		if _, port, err := common.SplitHostPort(addr.String()); err == nil {
			return port
		}
	}
	return s.port
}

// Connection returns the live connection with the given id
func (s *Server) Connection(id string) (*conn.Connection, bool) {
	return s.connections.Load(id)
}

// Connections returns a snapshot of all live connections
func (s *Server) Connections() []*conn.Connection {
	out := make([]*conn.Connection, 0, s.connections.Size())
	s.connections.Range(func(_ string, c *conn.Connection) bool {
		out = append(out, c)
		return true
	})
	return out
}

// LatestConnection returns the most recently accepted live connection or nil
func (s *Server) LatestConnection() *conn.Connection { return s.latest.Load() }

// RegisterConnectionEventListener adds l to the listeners. Duplicate registrations are ignored.
func (s *Server) RegisterConnectionEventListener(l conn.IConnectionEventListener) {
	s.listeners.Register(l)
}

// UnregisterConnectionEventListener removes l from the listeners
func (s *Server) UnregisterConnectionEventListener(l conn.IConnectionEventListener) {
	s.listeners.Unregister(l)
}

// --------------------------------------------------------------------------
// Start / accept loop
// --------------------------------------------------------------------------

// Start binds the listener on all interfaces with the given backlog
// (common.DefaultBacklog if backlog <= 0) and launches the accept loop.
func (s *Server) Start(backlog int) error {
	if s.stopping.Load() {
		return common.ErrShutdown
	}
	if !s.started.CompareAndSwap(false, true) {
		return common.ErrAlreadyStarted
	}
	if backlog <= 0 {
		backlog = common.DefaultBacklog
	}

	listener, err := s.connector.Listen(s.port, backlog, s.settings)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("failed to create listener: %w", err)
	}
	if s.settings.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.settings.MaxConnections)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	ServerLogger.Infof("Starting %s server on %s (backlog %d)", s.connector.GetName(), listener.Addr(), backlog)

	s.startAccepting(listener)
	return nil
}

// startAccepting launches the accept loop unless it is already running
func (s *Server) startAccepting(listener net.Listener) {
	if !s.accepting.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.acceptLoop(listener)
}

// acceptLoop accepts sockets until the listener is closed. Other accept errors are
// logged and retried after a growing pause.
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	defer s.accepting.Store(false)

	var retryDelay time.Duration
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopping.Load() {
				ServerLogger.Debugf("Accept loop of %s stopped", listener.Addr())
				return
			}

			common.AcceptErrors.Inc()
			if retryDelay == 0 {
				retryDelay = minAcceptRetryDelay
			} else {
				retryDelay = min(retryDelay*2, maxAcceptRetryDelay)
			}
			ServerLogger.Errorf("Accept error (%s): %v; retrying in %s", common.ClassifyError(err), err, retryDelay)
			time.Sleep(retryDelay)
			continue
		}

		retryDelay = 0
		s.accept(netConn)
	}
}

// accept turns an accepted socket into a registered Connection
func (s *Server) accept(netConn net.Conn) {
	if err := s.connector.UpgradeConnection(netConn, s.settings); err != nil {
		ServerLogger.Warningf("Failed to upgrade connection from %s: %v", netConn.RemoteAddr(), err)
		netConn.Close()
		return
	}

	c := conn.PrepareConnection(netConn, s.settings, s.handler, s.onConnectionClosed)
	s.connections.Store(c.ID(), c)
	s.latest.Store(c)

	ServerLogger.Infof("Accepted connection %s from %s", c.ID(), c.RemoteEndpoint())
	s.listeners.NotifyEstablished(c)

	// reading starts only after the announcement, so ConnectionClosed cannot overtake it
	c.Start()
}

// onConnectionClosed is the closed callback of every accepted connection
func (s *Server) onConnectionClosed(c *conn.Connection, kind common.ErrorKind) {
	s.forget(c)
	s.listeners.NotifyClosed(c, kind)
}

func (s *Server) forget(c *conn.Connection) {
	s.connections.Delete(c.ID())
	s.latest.CompareAndSwap(c, nil)
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// QueueMessage forwards data to the most recently accepted connection. Without a
// connection the call has no effect and returns nil; invalid payloads are always rejected.
func (s *Server) QueueMessage(data []byte) error {
	if err := conn.ValidateMessage(data, s.settings.SendBufferSize); err != nil {
		return err
	}

	latest := s.latest.Load()
	if latest == nil {
		ServerLogger.Debugf("No connection, dropping %d bytes", len(data))
		return nil
	}

	err := latest.QueueMessage(data)
	if errors.Is(err, common.ErrConnectionClosed) {
		return nil
	}
	return err
}

// QueueMessageTo forwards data to the connection with the given id
func (s *Server) QueueMessageTo(id string, data []byte) error {
	c, ok := s.connections.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownConnection, id)
	}
	return c.QueueMessage(data)
}

// Broadcast queues data on every live connection and returns the number of
// connections it was queued on
func (s *Server) Broadcast(data []byte) (int, error) {
	if err := conn.ValidateMessage(data, s.settings.SendBufferSize); err != nil {
		return 0, err
	}

	var errs []error
	sent := 0
	s.connections.Range(func(id string, c *conn.Connection) bool {
		if err := c.QueueMessage(data); err != nil {
			if !errors.Is(err, common.ErrConnectionClosed) {
				errs = append(errs, fmt.Errorf("connection %s: %w", id, err))
			}
			return true
		}
		sent++
		return true
	})
	return sent, errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Shutdown closes the listener and all live connections gracefully and waits for the
// accept loop and the connection loops to end. It must not be called from an event
// listener or the data handler.
func (s *Server) Shutdown() error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("failed to close listener: %w", cerr)
		}
	}
	s.wg.Wait()

	open := s.Connections()
	for _, c := range open {
		c.Close()
	}
	for _, c := range open {
		c.Wait()
	}

	ServerLogger.Infof("Server %s shut down, closed %d connections", s.id, len(open))
	return err
}
