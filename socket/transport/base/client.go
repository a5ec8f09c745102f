package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
	"time"
)

var ClientLogger = logger.GetLogger(common.LoggerClient)

// --------------------------------------------------------------------------
// Client state
// --------------------------------------------------------------------------

// ClientState is the connection state of a client connector
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return fmt.Sprintf("ClientState(%d)", int32(s))
	}
}

// --------------------------------------------------------------------------
// Client connector
// --------------------------------------------------------------------------

// Client establishes one outbound connection and, if enabled, re-establishes it after
// failed attempts and non graceful closes using a capped exponential backoff.
type Client struct {
	id        string
	endpoint  common.Endpoint
	settings  common.Settings
	connector transport.IClientConnector
	handler   conn.IDataHandler
	listeners conn.ListenerSet

	connMu        sync.Mutex // orders connection installation and removal
	active        atomic.Pointer[conn.Connection]
	lastCloseKind atomic.Int32 // kind of the last active connection's close
	state         atomic.Int32

	reconnecting   atomic.Bool
	connectTimeout atomic.Int64
	backoffMu      sync.Mutex
	backoff        *backoff.Backoff

	stopping atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewClient creates a client connector for host:port. Nothing is dialed until Connect is called.
func NewClient(host string, port int, connector transport.IClientConnector, handler conn.IDataHandler, settings common.Settings) (*Client, error) {
	if err := common.ValidateHost(host); err != nil {
		return nil, err
	}
	if err := common.ValidatePort(port); err != nil {
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

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:        uuid.NewString(),
		endpoint:  common.Endpoint{Host: host, Port: port},
		settings:  settings,
		connector: connector,
		handler:   handler,
		backoff: &backoff.Backoff{
			Min:    settings.ReconnectBaseInterval,
			Max:    settings.ReconnectMaxInterval,
			Factor: 2,
			Jitter: false,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the unique id of the client
func (c *Client) ID() string { return c.id }

// RemoteEndpoint returns the configured target endpoint
func (c *Client) RemoteEndpoint() common.Endpoint { return c.endpoint }

// Settings returns the settings of the client
func (c *Client) Settings() common.Settings { return c.settings }

// State returns the current connection state
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

// Connection returns the active connection or nil
func (c *Client) Connection() *conn.Connection { return c.active.Load() }

// NextBackoff returns the wait before the next reconnect attempt without consuming it
func (c *Client) NextBackoff() time.Duration {
	c.backoffMu.Lock()
	defer c.backoffMu.Unlock()
	return c.backoff.ForAttempt(c.backoff.Attempt())
}

// RegisterConnectionEventListener adds l to the listeners. Duplicate registrations are ignored.
func (c *Client) RegisterConnectionEventListener(l conn.IConnectionEventListener) {
	c.listeners.Register(l)
}

// UnregisterConnectionEventListener removes l from the listeners
func (c *Client) UnregisterConnectionEventListener(l conn.IConnectionEventListener) {
	c.listeners.Unregister(l)
}

// --------------------------------------------------------------------------
// Connect
// --------------------------------------------------------------------------

// Connect dials the remote endpoint and blocks up to timeout for the outcome
// (common.DefaultConnectTimeout if timeout <= 0).
//
// On success the new connection is announced via ConnectionEstablished. On failure
// ConnectionFailed is fanned out, a reconnect is scheduled if enabled and a
// *common.ConnectError is returned. Connect on a connected client is a no-op.
func (c *Client) Connect(timeout time.Duration) error {
	if c.stopping.Load() {
		return common.ErrShutdown
	}
	if active := c.active.Load(); active != nil && active.Connected() {
		return nil
	}
	if timeout <= 0 {
		timeout = common.DefaultConnectTimeout
	}
	c.connectTimeout.Store(int64(timeout))

	c.state.Store(int32(StateConnecting))
	ClientLogger.Debugf("Connecting to %s using %s transport (timeout %s)", c.endpoint, c.connector.GetName(), timeout)

	connection, installed, err := c.dial(timeout)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		kind := common.ClassifyError(err)
		if c.stopping.Load() {
			kind = common.Shutdown
		}
		common.ConnectFailures.Inc()
		ClientLogger.Warningf("Connect to %s failed (%s): %v", c.endpoint, kind, err)

		c.listeners.NotifyFailed(c.endpoint, kind)
		c.scheduleReconnect()
		return &common.ConnectError{Endpoint: c.endpoint, Kind: kind, Err: err}
	}

	if !installed {
		ClientLogger.Debugf("Concurrent connect to %s won, keeping connection %s", c.endpoint, connection.ID())
		return nil
	}

	ClientLogger.Infof("Connected to %s (connection %s)", c.endpoint, connection.ID())
	c.listeners.NotifyEstablished(connection)
	connection.Start()
	return nil
}

// dial opens and upgrades the socket and installs the new connection. If a concurrent
// Connect installed a live connection first, the new socket is closed and the existing
// connection is returned with installed set to false.
func (c *Client) dial(timeout time.Duration) (connection *conn.Connection, installed bool, err error) {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	netConn, err := c.connector.Connect(ctx, c.endpoint)
	if err != nil {
		return nil, false, err
	}
	if err := c.connector.UpgradeConnection(netConn, c.settings); err != nil {
		netConn.Close()
		return nil, false, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.stopping.Load() {
		netConn.Close()
		return nil, false, common.ErrShutdown
	}
	if active := c.active.Load(); active != nil && active.Connected() {
		netConn.Close()
		return active, false, nil
	}

	c.resetBackoff()
	connection = conn.PrepareConnection(netConn, c.settings, c.handler, c.onConnectionClosed)
	c.active.Store(connection)
	c.lastCloseKind.Store(int32(common.Success))
	c.state.Store(int32(StateConnected))
	return connection, true, nil
}

// onConnectionClosed is the closed callback of every connection created by the client
func (c *Client) onConnectionClosed(connection *conn.Connection, kind common.ErrorKind) {
	c.connMu.Lock()
	wasActive := c.active.CompareAndSwap(connection, nil)
	if wasActive {
		c.lastCloseKind.Store(int32(kind))
		c.state.Store(int32(StateDisconnected))
	}
	c.connMu.Unlock()

	c.listeners.NotifyClosed(connection, kind)

	if wasActive && !kind.IsSuccess() {
		c.scheduleReconnect()
	}
}

// --------------------------------------------------------------------------
// Reconnect
// --------------------------------------------------------------------------

// scheduleReconnect starts the reconnect sequence unless one is already running
func (c *Client) scheduleReconnect() {
	if !c.settings.EnableReconnect || c.stopping.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		wait, attempt, ok := c.nextWait()
		if !ok {
			ClientLogger.Errorf("Giving up reconnecting to %s after %d attempts", c.endpoint, attempt)
			c.reconnecting.Store(false)
			return
		}

		ClientLogger.Infof("Reconnecting to %s in %s (attempt %d)", c.endpoint, wait, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		common.ReconnectAttempts.Inc()
		err := c.Connect(time.Duration(c.connectTimeout.Load()))
		if err == nil || errors.Is(err, common.ErrShutdown) {
			c.reconnecting.Store(false)
			// the new connection may have failed before the flag was released
			if err == nil && c.active.Load() == nil && !common.ErrorKind(c.lastCloseKind.Load()).IsSuccess() {
				c.scheduleReconnect()
			}
			return
		}
	}
}

// nextWait consumes the next backoff interval. ok is false once the attempt limit is reached.
func (c *Client) nextWait() (wait time.Duration, attempt int, ok bool) {
	c.backoffMu.Lock()
	defer c.backoffMu.Unlock()

	attempt = int(c.backoff.Attempt())
	if c.settings.ReconnectMaxAttempts > 0 && attempt >= c.settings.ReconnectMaxAttempts {
		return 0, attempt, false
	}
	return c.backoff.Duration(), attempt + 1, true
}

func (c *Client) resetBackoff() {
	c.backoffMu.Lock()
	c.backoff.Reset()
	c.backoffMu.Unlock()
}

// --------------------------------------------------------------------------
// Messaging / shutdown
// --------------------------------------------------------------------------

// QueueMessage forwards data to the active connection. Without a connection the call
// has no effect and returns nil; invalid payloads are always rejected.
func (c *Client) QueueMessage(data []byte) error {
	if err := conn.ValidateMessage(data, c.settings.SendBufferSize); err != nil {
		return err
	}

	active := c.active.Load()
	if active == nil {
		ClientLogger.Debugf("No connection to %s, dropping %d bytes", c.endpoint, len(data))
		return nil
	}

	err := active.QueueMessage(data)
	if errors.Is(err, common.ErrConnectionClosed) {
		return nil
	}
	return err
}

// Shutdown stops reconnecting and closes the active connection gracefully.
// It blocks until the connection loops and a running reconnect sequence have ended,
// so it must not be called from an event listener or the data handler.
func (c *Client) Shutdown() error {
	if !c.stopping.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.connMu.Lock()
	active := c.active.Load()
	c.connMu.Unlock()

	if active != nil {
		active.Close()
		active.Wait()
	}

	c.wg.Wait()
	c.state.Store(int32(StateDisconnected))
	ClientLogger.Infof("Client %s for %s shut down", c.id, c.endpoint)
	return nil
}
