package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport/base"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"time"
)

var Logger = logger.GetLogger(common.LoggerTCP)

// serverConnector implements the transport.IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(port int, backlog int, _ common.Settings) (net.Listener, error) {
	listener, err := listen(port, backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket on port %d: %w", port, err)
	}
	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, settings common.Settings) error {
	return upgradeConnection(conn, settings)
}

// upgradeConnection applies the tcp options and buffer sizes of settings to conn
func upgradeConnection(conn net.Conn, settings common.Settings) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(settings.TCPNoDelay); err != nil {
		return err
	}

	if settings.SendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(settings.SendBufferSize); err != nil {
			return err
		}
	}

	if settings.ReceiveBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(settings.ReceiveBufferSize); err != nil {
			return err
		}
	}

	if settings.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(settings.TCPKeepAlive); err != nil {
			return err
		}
	}

	if settings.TCPLinger >= 0 {
		if err := tcpConn.SetLinger(settings.TCPLinger); err != nil {
			return err
		}
	}

	Logger.Debugf("Upgraded connection %s (nodelay=%t, keepalive=%s)",
		conn.RemoteAddr(), settings.TCPNoDelay, settings.TCPKeepAlive.Round(time.Second))
	return nil
}

// --------------------------------------------------------------------------
// Server Factory Method
// --------------------------------------------------------------------------

// NewTCPServer creates a TCP server acceptor for port (0 picks a free port)
func NewTCPServer(port int, handler conn.IDataHandler, settings common.Settings) (*base.Server, error) {
	return base.NewServer(port, &serverConnector{}, handler, settings)
}
