package conn

import (
	"github.com/ValentinKolb/dSock/socket/common"
	"reflect"
	"runtime/debug"
	"sync"
)

// IConnectionEventListener observes the lifecycle of connections created by a client
// connector or a server acceptor. Callbacks are invoked synchronously by the host and
// must not block materially. A panicking callback is recovered and logged; it never
// prevents delivery to the other listeners.
type IConnectionEventListener interface {
	// ConnectionEstablished is called once for every new connection
	ConnectionEstablished(conn *Connection)

	// ConnectionClosed is called once when a connection terminates. kind is
	// common.Success for a graceful, caller initiated close.
	ConnectionClosed(conn *Connection, kind common.ErrorKind)

	// ConnectionFailed is called for connect attempts that never produced a connection
	ConnectionFailed(endpoint common.Endpoint, kind common.ErrorKind)
}

// EventListenerFuncs adapts optional functions to IConnectionEventListener.
// Register it by pointer; nil fields are skipped.
type EventListenerFuncs struct {
	OnEstablished func(conn *Connection)
	OnClosed      func(conn *Connection, kind common.ErrorKind)
	OnFailed      func(endpoint common.Endpoint, kind common.ErrorKind)
}

func (f *EventListenerFuncs) ConnectionEstablished(conn *Connection) {
	if f.OnEstablished != nil {
		f.OnEstablished(conn)
	}
}

func (f *EventListenerFuncs) ConnectionClosed(conn *Connection, kind common.ErrorKind) {
	if f.OnClosed != nil {
		f.OnClosed(conn, kind)
	}
}

func (f *EventListenerFuncs) ConnectionFailed(endpoint common.Endpoint, kind common.ErrorKind) {
	if f.OnFailed != nil {
		f.OnFailed(endpoint, kind)
	}
}

// --------------------------------------------------------------------------
// Listener set
// --------------------------------------------------------------------------

// ListenerSet is an insertion ordered set of event listeners.
// The zero value is ready to use.
type ListenerSet struct {
	mu        sync.RWMutex
	listeners []IConnectionEventListener
}

// Register adds l to the set. Registering the same listener twice is a no-op;
// the return value reports whether l was added.
func (s *ListenerSet) Register(l IConnectionEventListener) bool {
	if l == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(l) >= 0 {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

// Unregister removes l from the set and reports whether it was registered
func (s *ListenerSet) Unregister(l IConnectionEventListener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(l)
	if i < 0 {
		return false
	}
	s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
	return true
}

// Len returns the number of registered listeners
func (s *ListenerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// indexOf must be called with s.mu held
func (s *ListenerSet) indexOf(l IConnectionEventListener) int {
	// listeners of non comparable types can never be identified as duplicates
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return -1
	}
	for i, existing := range s.listeners {
		if reflect.TypeOf(existing) == reflect.TypeOf(l) && existing == l {
			return i
		}
	}
	return -1
}

func (s *ListenerSet) snapshot() []IConnectionEventListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IConnectionEventListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// NotifyEstablished fans the established event out to all listeners
func (s *ListenerSet) NotifyEstablished(c *Connection) {
	for _, l := range s.snapshot() {
		invokeListener(l, "ConnectionEstablished", func() { l.ConnectionEstablished(c) })
	}
}

// NotifyClosed fans the closed event out to all listeners
func (s *ListenerSet) NotifyClosed(c *Connection, kind common.ErrorKind) {
	for _, l := range s.snapshot() {
		invokeListener(l, "ConnectionClosed", func() { l.ConnectionClosed(c, kind) })
	}
}

// NotifyFailed fans the failed event out to all listeners
func (s *ListenerSet) NotifyFailed(endpoint common.Endpoint, kind common.ErrorKind) {
	for _, l := range s.snapshot() {
		invokeListener(l, "ConnectionFailed", func() { l.ConnectionFailed(endpoint, kind) })
	}
}

// invokeListener runs one callback inside its own recover boundary
func invokeListener(l IConnectionEventListener, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			common.ListenerPanics.Inc()
			Logger.Errorf("Invoke %s event failed! Target[%T]: %v\n%s", event, l, r, debug.Stack())
		}
	}()
	fn()
}
