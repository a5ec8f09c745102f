package transport

import (
	"context"
	"github.com/ValentinKolb/dSock/socket/common"
	"net"
)

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// IClientConnector defines the transport-specific operations of a client connector
type IClientConnector interface {
	// Connect opens a socket to endpoint. The attempt is aborted when ctx is done.
	Connect(ctx context.Context, endpoint common.Endpoint) (net.Conn, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies the socket options of settings to an established connection
	UpgradeConnection(conn net.Conn, settings common.Settings) error
}

// --------------------------------------------------------------------------
// Server side
// --------------------------------------------------------------------------

// IServerConnector defines the transport-specific operations of a server acceptor
type IServerConnector interface {
	// Listen binds a listener to port on all interfaces using the given backlog.
	// Port 0 picks a free port.
	Listen(port int, backlog int, settings common.Settings) (net.Listener, error)

	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// UpgradeConnection applies the socket options of settings to an accepted connection
	UpgradeConnection(conn net.Conn, settings common.Settings) error
}
