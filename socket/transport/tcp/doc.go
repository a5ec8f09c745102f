// Package tcp implements the TCP transport of the socket packages. It provides concrete
// implementations of the connector interfaces of package transport and factories that
// wrap them into base.Client and base.Server.
//
// Key Components:
//
//   - clientConnector: dials with a timeout (via the context passed by the client)
//
//   - serverConnector: binds 0.0.0.0:port. On linux the socket is created with
//     golang.org/x/sys/unix so that the backlog passed to Start reaches listen(2);
//     other platforms fall back to net.ListenConfig and the system default backlog.
//
//   - upgradeConnection: applies TCP_NODELAY, SO_SNDBUF / SO_RCVBUF (from the send and
//     receive buffer sizes), keep-alive and linger to every dialed or accepted socket.
//
// Usage:
//
//	server, _ := tcp.NewTCPServer(9000, handler, common.DefaultSettings())
//	_ = server.Start(common.DefaultBacklog)
//
//	client, _ := tcp.NewTCPClient("127.0.0.1", 9000, handler, common.DefaultSettings())
//	_ = client.Connect(5 * time.Second)
//	_ = client.QueueMessage([]byte{0x01, 0x02, 0x03})
package tcp
