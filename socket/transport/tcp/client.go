package tcp

import (
	"context"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/ValentinKolb/dSock/socket/transport/base"
	"net"
)

// clientConnector implements the transport.IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint common.Endpoint) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", endpoint.String())
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, settings common.Settings) error {
	return upgradeConnection(conn, settings)
}

// --------------------------------------------------------------------------
// Client Factory Method
// --------------------------------------------------------------------------

// NewTCPClient creates a TCP client connector for host:port
func NewTCPClient(host string, port int, handler conn.IDataHandler, settings common.Settings) (*base.Client, error) {
	return base.NewClient(host, port, &clientConnector{}, handler, settings)
}
