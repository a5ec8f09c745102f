package conn

import (
	"github.com/ValentinKolb/dSock/socket/common"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

// recordingListener appends every event it receives to a shared log
type recordingListener struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (l *recordingListener) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.log = append(*l.log, l.name+":"+event)
}

func (l *recordingListener) ConnectionEstablished(*Connection) { l.record("established") }
func (l *recordingListener) ConnectionClosed(_ *Connection, kind common.ErrorKind) {
	l.record("closed " + kind.String())
}
func (l *recordingListener) ConnectionFailed(_ common.Endpoint, kind common.ErrorKind) {
	l.record("failed " + kind.String())
}

// valueListener is a non comparable listener type
type valueListener struct {
	events []string
}

func (valueListener) ConnectionEstablished(*Connection)                  {}
func (valueListener) ConnectionClosed(*Connection, common.ErrorKind)     {}
func (valueListener) ConnectionFailed(common.Endpoint, common.ErrorKind) {}

func TestListenerSetRegisterIsDeduplicated(t *testing.T) {
	var mu sync.Mutex
	var log []string
	a := &recordingListener{name: "a", mu: &mu, log: &log}
	b := &recordingListener{name: "b", mu: &mu, log: &log}

	var set ListenerSet
	require.True(t, set.Register(a))
	require.False(t, set.Register(a))
	require.True(t, set.Register(b))
	require.False(t, set.Register(nil))
	require.Equal(t, 2, set.Len())

	set.NotifyEstablished(nil)
	set.NotifyFailed(common.Endpoint{Host: "127.0.0.1", Port: 1}, common.ConnectionRefused)
	set.NotifyClosed(nil, common.Success)

	require.Equal(t, []string{
		"a:established", "b:established",
		"a:failed ConnectionRefused", "b:failed ConnectionRefused",
		"a:closed Success", "b:closed Success",
	}, log)

	require.True(t, set.Unregister(a))
	require.False(t, set.Unregister(a))
	require.Equal(t, 1, set.Len())

	log = nil
	set.NotifyEstablished(nil)
	require.Equal(t, []string{"b:established"}, log)
}

func TestListenerSetNonComparableListener(t *testing.T) {
	var set ListenerSet
	require.True(t, set.Register(valueListener{}))
	require.True(t, set.Register(valueListener{}))
	require.Equal(t, 2, set.Len())
	require.False(t, set.Unregister(valueListener{}))
}

func TestListenerPanicDoesNotStopFanOut(t *testing.T) {
	var delivered []string
	panicking := &EventListenerFuncs{
		OnEstablished: func(*Connection) { panic("listener bug") },
		OnFailed:      func(common.Endpoint, common.ErrorKind) { panic("listener bug") },
	}
	healthy := &EventListenerFuncs{
		OnEstablished: func(*Connection) { delivered = append(delivered, "established") },
		OnFailed: func(_ common.Endpoint, kind common.ErrorKind) {
			delivered = append(delivered, "failed "+kind.String())
		},
	}

	var set ListenerSet
	set.Register(panicking)
	set.Register(healthy)

	before := common.ListenerPanics.Get()
	require.NotPanics(t, func() {
		set.NotifyEstablished(nil)
		set.NotifyFailed(common.Endpoint{}, common.TimedOut)
		// nil callbacks are skipped
		set.NotifyClosed(nil, common.Success)
	})

	require.Equal(t, []string{"established", "failed TimedOut"}, delivered)
	require.Equal(t, before+2, common.ListenerPanics.Get())
}

func TestFIFO(t *testing.T) {
	q := newFIFO[int]()
	_, ok := q.Pop()
	require.False(t, ok)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	require.Equal(t, 100, q.Len())

	for i := 0; i < 50; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	rest := q.Drain()
	require.Len(t, rest, 50)
	require.Equal(t, 50, rest[0])
	require.Equal(t, 99, rest[49])
	require.Zero(t, q.Len())
}
