package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/ValentinKolb/dSock/socket/conn"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test connectors (plain loopback sockets)
// --------------------------------------------------------------------------

type loopbackConnector struct {
	dials atomic.Int32
}

func (c *loopbackConnector) GetName() string { return "loopback" }

func (c *loopbackConnector) Connect(ctx context.Context, endpoint common.Endpoint) (net.Conn, error) {
	c.dials.Add(1)
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint.String())
}

func (c *loopbackConnector) Listen(port int, _ int, _ common.Settings) (net.Listener, error) {
	return net.Listen("tcp", common.JoinHostPort("127.0.0.1", port))
}

func (c *loopbackConnector) UpgradeConnection(net.Conn, common.Settings) error { return nil }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

type event struct {
	name string
	kind common.ErrorKind
	at   time.Time
	conn *conn.Connection
}

// eventLog is a listener recording every event
type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) add(e event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.at = time.Now()
	l.events = append(l.events, e)
}

func (l *eventLog) ConnectionEstablished(c *conn.Connection) {
	l.add(event{name: "established", conn: c})
}

func (l *eventLog) ConnectionClosed(c *conn.Connection, kind common.ErrorKind) {
	l.add(event{name: "closed", kind: kind, conn: c})
}

func (l *eventLog) ConnectionFailed(_ common.Endpoint, kind common.ErrorKind) {
	l.add(event{name: "failed", kind: kind})
}

func (l *eventLog) filter(name string) []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event
	for _, e := range l.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) count(name string) int { return len(l.filter(name)) }

// payloadRecorder collects the payloads dispatched to a handler per connection
type payloadRecorder struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newPayloadRecorder() *payloadRecorder {
	return &payloadRecorder{data: make(map[string][]byte)}
}

func (r *payloadRecorder) HandleData(data []byte, c *conn.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[c.ID()] = append(r.data[c.ID()], data...)
	return nil
}

func (r *payloadRecorder) get(id string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data[id]...)
}

// freePort returns a port nobody listens on
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func startServer(t *testing.T, handler conn.IDataHandler, settings common.Settings) *Server {
	t.Helper()
	server, err := NewServer(0, &loopbackConnector{}, handler, settings)
	require.NoError(t, err)
	require.NoError(t, server.Start(0))
	return server
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestNewClientValidation(t *testing.T) {
	connector := &loopbackConnector{}
	settings := common.DefaultSettings()

	_, err := NewClient("", 80, connector, conn.DiscardHandler, settings)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = NewClient("127.0.0.1", 0, connector, conn.DiscardHandler, settings)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = NewClient("127.0.0.1", 70000, connector, conn.DiscardHandler, settings)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = NewClient("127.0.0.1", 80, nil, conn.DiscardHandler, settings)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = NewClient("127.0.0.1", 80, connector, nil, settings)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	bad := settings
	bad.SendBufferSize = 0
	_, err = NewClient("127.0.0.1", 80, connector, conn.DiscardHandler, bad)
	require.ErrorIs(t, err, common.ErrInvalidSettings)

	client, err := NewClient("127.0.0.1", 80, connector, conn.DiscardHandler, settings)
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, client.State())
	require.Nil(t, client.Connection())
	require.Equal(t, common.Endpoint{Host: "127.0.0.1", Port: 80}, client.RemoteEndpoint())
	require.NoError(t, client.Shutdown())
}

func TestClientServerRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := common.DefaultSettings()
	recorder := newPayloadRecorder()
	server := startServer(t, recorder, settings)
	defer server.Shutdown()

	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	client, err := NewClient("127.0.0.1", server.Port(), &loopbackConnector{}, conn.DiscardHandler, settings)
	require.NoError(t, err)
	defer client.Shutdown()

	clientEvents := &eventLog{}
	client.RegisterConnectionEventListener(clientEvents)
	client.RegisterConnectionEventListener(clientEvents)

	require.NoError(t, client.Connect(time.Second))
	require.Equal(t, StateConnected, client.State())
	require.Equal(t, 1, clientEvents.count("established"))

	require.NoError(t, client.QueueMessage([]byte{0x01, 0x02, 0x03}))

	require.Eventually(t, func() bool { return serverEvents.count("established") == 1 }, time.Second, time.Millisecond)
	serverConn := serverEvents.filter("established")[0].conn
	require.Eventually(t, func() bool { return len(recorder.get(serverConn.ID())) == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, recorder.get(serverConn.ID()))

	// connect on a connected client is a no-op
	require.NoError(t, client.Connect(time.Second))
	require.Equal(t, 1, clientEvents.count("established"))

	// graceful close reports success and does not reconnect
	require.NoError(t, client.Shutdown())
	require.Equal(t, StateDisconnected, client.State())
	closed := clientEvents.filter("closed")
	require.Len(t, closed, 1)
	require.Equal(t, common.Success, closed[0].kind)

	// the server side observes the peer close as a failure
	require.Eventually(t, func() bool { return serverEvents.count("closed") == 1 }, time.Second, time.Millisecond)
	require.False(t, serverEvents.filter("closed")[0].kind.IsSuccess())
	require.Empty(t, server.Connections())
}

func TestClientQueueMessageWithoutConnection(t *testing.T) {
	client, err := NewClient("127.0.0.1", 1, &loopbackConnector{}, conn.DiscardHandler, common.DefaultSettings())
	require.NoError(t, err)
	defer client.Shutdown()

	require.NoError(t, client.QueueMessage([]byte("dropped")))
	require.ErrorIs(t, client.QueueMessage(nil), common.ErrInvalidMessage)
}

func TestConnectFailureFiresFailedEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, err := NewClient("127.0.0.1", freePort(t), &loopbackConnector{}, conn.DiscardHandler, common.DefaultSettings())
	require.NoError(t, err)
	defer client.Shutdown()

	events := &eventLog{}
	client.RegisterConnectionEventListener(events)

	err = client.Connect(time.Second)
	require.Error(t, err)

	var connectErr *common.ConnectError
	require.ErrorAs(t, err, &connectErr)
	require.False(t, connectErr.Kind.IsSuccess())

	failed := events.filter("failed")
	require.Len(t, failed, 1)
	require.Equal(t, connectErr.Kind, failed[0].kind)
	require.Equal(t, StateDisconnected, client.State())

	// reconnect is disabled
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, events.count("failed"))
}

func TestReconnectBackoffTiming(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := common.DefaultSettings()
	settings.EnableReconnect = true
	settings.ReconnectBaseInterval = 100 * time.Millisecond
	settings.ReconnectMaxInterval = 400 * time.Millisecond

	client, err := NewClient("127.0.0.1", freePort(t), &loopbackConnector{}, conn.DiscardHandler, settings)
	require.NoError(t, err)
	defer client.Shutdown()

	events := &eventLog{}
	client.RegisterConnectionEventListener(events)

	require.Equal(t, 100*time.Millisecond, client.NextBackoff())
	require.Error(t, client.Connect(time.Second))

	require.Eventually(t, func() bool { return events.count("failed") >= 5 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, client.Shutdown())

	failed := events.filter("failed")
	expected := []time.Duration{100, 200, 400, 400}
	for i, wait := range expected {
		gap := failed[i+1].at.Sub(failed[i].at)
		require.GreaterOrEqual(t, gap, wait*time.Millisecond-2*time.Millisecond, "wait %d", i+1)
	}
}

func TestReconnectMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := common.DefaultSettings()
	settings.EnableReconnect = true
	settings.ReconnectBaseInterval = 10 * time.Millisecond
	settings.ReconnectMaxInterval = 20 * time.Millisecond
	settings.ReconnectMaxAttempts = 2

	connector := &loopbackConnector{}
	client, err := NewClient("127.0.0.1", freePort(t), connector, conn.DiscardHandler, settings)
	require.NoError(t, err)
	defer client.Shutdown()

	events := &eventLog{}
	client.RegisterConnectionEventListener(events)

	require.Error(t, client.Connect(time.Second))
	require.Eventually(t, func() bool { return events.count("failed") == 3 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, events.count("failed"))
	require.Equal(t, int32(3), connector.dials.Load())
}

func TestReconnectAfterPeerCloseAndBackoffReset(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	defer server.Shutdown()

	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	settings := common.DefaultSettings()
	settings.EnableReconnect = true
	settings.ReconnectBaseInterval = 20 * time.Millisecond
	settings.ReconnectMaxInterval = 80 * time.Millisecond

	client, err := NewClient("127.0.0.1", server.Port(), &loopbackConnector{}, conn.DiscardHandler, settings)
	require.NoError(t, err)
	defer client.Shutdown()

	clientEvents := &eventLog{}
	client.RegisterConnectionEventListener(clientEvents)

	require.NoError(t, client.Connect(time.Second))
	first := client.Connection()
	require.NotNil(t, first)

	// close the socket from the server side
	require.Eventually(t, func() bool { return serverEvents.count("established") == 1 }, time.Second, time.Millisecond)
	serverEvents.filter("established")[0].conn.Close()

	require.Eventually(t, func() bool { return clientEvents.count("closed") == 1 }, time.Second, time.Millisecond)
	require.False(t, clientEvents.filter("closed")[0].kind.IsSuccess())

	// a new connection is established
	require.Eventually(t, func() bool { return clientEvents.count("established") == 2 }, 2*time.Second, 5*time.Millisecond)
	second := client.Connection()
	require.NotNil(t, second)
	require.NotEqual(t, first.ID(), second.ID())
	require.False(t, first.Connected())
	require.Equal(t, 20*time.Millisecond, client.NextBackoff())
}

func TestServerStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	require.ErrorIs(t, server.Start(0), common.ErrAlreadyStarted)
	require.NotZero(t, server.Port())
	require.NoError(t, server.Shutdown())
	require.ErrorIs(t, server.Start(0), common.ErrShutdown)
}

func TestServerMessagingAndBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := common.DefaultSettings()
	server := startServer(t, conn.DiscardHandler, settings)
	defer server.Shutdown()

	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	// without connections, QueueMessage is a no-op
	require.NoError(t, server.QueueMessage([]byte("nobody")))

	const numClients = 3
	recorders := make([]*payloadRecorder, numClients)
	clients := make([]*Client, numClients)
	for i := range clients {
		recorders[i] = newPayloadRecorder()
		client, err := NewClient("127.0.0.1", server.Port(), &loopbackConnector{}, recorders[i], settings)
		require.NoError(t, err)
		require.NoError(t, client.Connect(time.Second))
		require.Eventually(t, func() bool { return serverEvents.count("established") == i+1 }, time.Second, time.Millisecond)
		clients[i] = client
	}
	defer func() {
		for _, c := range clients {
			c.Shutdown()
		}
	}()

	require.Len(t, server.Connections(), numClients)

	// most recent connection
	latest := server.LatestConnection()
	require.Equal(t, serverEvents.filter("established")[numClients-1].conn, latest)
	require.NoError(t, server.QueueMessage([]byte("latest;")))

	// addressed
	firstID := serverEvents.filter("established")[0].conn.ID()
	require.NoError(t, server.QueueMessageTo(firstID, []byte("first;")))
	require.ErrorIs(t, server.QueueMessageTo("missing", []byte("x")), common.ErrUnknownConnection)

	// broadcast
	sent, err := server.Broadcast([]byte("all;"))
	require.NoError(t, err)
	require.Equal(t, numClients, sent)

	_, err = server.Broadcast(nil)
	require.ErrorIs(t, err, common.ErrEmptyMessage)

	expected := []string{"first;all;", "all;", "latest;all;"}
	for i, client := range clients {
		id := client.Connection().ID()
		want := expected[i]
		require.Eventually(t, func() bool { return len(recorders[i].get(id)) == len(want) }, time.Second, time.Millisecond,
			"client %d", i)
		require.Equal(t, want, string(recorders[i].get(id)), fmt.Sprintf("client %d", i))
	}
}

func TestServerShutdownClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	client, err := NewClient("127.0.0.1", server.Port(), &loopbackConnector{}, conn.DiscardHandler, common.DefaultSettings())
	require.NoError(t, err)
	defer client.Shutdown()

	clientEvents := &eventLog{}
	client.RegisterConnectionEventListener(clientEvents)
	require.NoError(t, client.Connect(time.Second))
	require.Eventually(t, func() bool { return serverEvents.count("established") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, server.Shutdown())
	require.Empty(t, server.Connections())

	closed := serverEvents.filter("closed")
	require.Len(t, closed, 1)
	require.Equal(t, common.Success, closed[0].kind)

	require.Eventually(t, func() bool { return clientEvents.count("closed") == 1 }, time.Second, time.Millisecond)
	require.Nil(t, client.Connection())
}

func TestListenerPanicDoesNotAbortEstablishment(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	defer server.Shutdown()

	client, err := NewClient("127.0.0.1", server.Port(), &loopbackConnector{}, conn.DiscardHandler, common.DefaultSettings())
	require.NoError(t, err)
	defer client.Shutdown()

	var established atomic.Int32
	client.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(*conn.Connection) { panic("faulty listener") },
	})
	client.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(*conn.Connection) { established.Add(1) },
	})

	require.NoError(t, client.Connect(time.Second))
	require.Equal(t, int32(1), established.Load())
	require.NotNil(t, client.Connection())
}

// slowConnector delays every dial so that concurrent connects overlap
type slowConnector struct {
	loopbackConnector
	delay time.Duration
}

func (c *slowConnector) Connect(ctx context.Context, endpoint common.Endpoint) (net.Conn, error) {
	time.Sleep(c.delay)
	return c.loopbackConnector.Connect(ctx, endpoint)
}

func TestConcurrentConnectKeepsOneConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	defer server.Shutdown()

	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	connector := &slowConnector{delay: 100 * time.Millisecond}
	client, err := NewClient("127.0.0.1", server.Port(), connector, conn.DiscardHandler, common.DefaultSettings())
	require.NoError(t, err)
	defer client.Shutdown()

	clientEvents := &eventLog{}
	client.RegisterConnectionEventListener(clientEvents)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = client.Connect(time.Second)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(2), connector.dials.Load())

	// the surplus socket is closed again, the server keeps one live connection
	require.Eventually(t, func() bool { return serverEvents.count("closed") == 1 }, time.Second, time.Millisecond)
	require.Len(t, server.Connections(), 1)

	require.Equal(t, 1, clientEvents.count("established"))
	require.Zero(t, clientEvents.count("closed"))
	active := client.Connection()
	require.NotNil(t, active)
	require.True(t, active.Connected())
	require.Equal(t, StateConnected, client.State())
}

func TestGracefulCloseAfterReconnectStaysClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	defer server.Shutdown()

	serverEvents := &eventLog{}
	server.RegisterConnectionEventListener(serverEvents)

	settings := common.DefaultSettings()
	settings.EnableReconnect = true
	settings.ReconnectBaseInterval = 10 * time.Millisecond
	settings.ReconnectMaxInterval = 20 * time.Millisecond

	connector := &loopbackConnector{}
	client, err := NewClient("127.0.0.1", server.Port(), connector, conn.DiscardHandler, settings)
	require.NoError(t, err)
	defer client.Shutdown()

	clientEvents := &eventLog{}
	client.RegisterConnectionEventListener(clientEvents)

	// the reconnected connection is closed gracefully while the reconnect sequence is still running
	var established atomic.Int32
	client.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(c *conn.Connection) {
			if established.Add(1) == 2 {
				c.Close()
			}
		},
	})

	require.NoError(t, client.Connect(time.Second))
	require.Eventually(t, func() bool { return serverEvents.count("established") == 1 }, time.Second, time.Millisecond)
	serverEvents.filter("established")[0].conn.Close()

	require.Eventually(t, func() bool { return clientEvents.count("closed") == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	closed := clientEvents.filter("closed")
	require.False(t, closed[0].kind.IsSuccess())
	require.Equal(t, common.Success, closed[1].kind)
	require.Equal(t, 2, clientEvents.count("established"))
	require.Equal(t, int32(2), connector.dials.Load())
	require.Nil(t, client.Connection())
}

func TestEstablishedIsAnnouncedBeforeClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := startServer(t, conn.DiscardHandler, common.DefaultSettings())
	defer server.Shutdown()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}
	server.RegisterConnectionEventListener(&conn.EventListenerFuncs{
		OnEstablished: func(*conn.Connection) {
			// the peer is gone by now
			time.Sleep(50 * time.Millisecond)
			record("established")
		},
		OnClosed: func(*conn.Connection, common.ErrorKind) { record("closed") },
	})

	raw, err := net.Dial("tcp", common.JoinHostPort("127.0.0.1", server.Port()))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"established", "closed"}, order)
}
