//go:build !linux

package tcp

import (
	"context"
	"github.com/ValentinKolb/dSock/socket/common"
	"net"
)

// listen binds a wildcard socket to port. The backlog is chosen by the runtime.
func listen(port int, backlog int) (net.Listener, error) {
	Logger.Debugf("Ignoring backlog %d, using the system default", backlog)
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", common.JoinHostPort("", port))
}
