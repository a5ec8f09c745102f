package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultReconnectBaseInterval = 3 * time.Second
	DefaultReconnectMaxInterval  = 60 * time.Second
	DefaultSendBufferSize        = 1024 * 1024 // 1 MB
	DefaultReceiveBufferSize     = 1024 * 1024 // 1 MB
	DefaultSendTimeout           = 2 * time.Second
	DefaultDispatchRetryDelay    = 1 * time.Second
	DefaultConnectTimeout        = 5 * time.Second
	DefaultBacklog               = 5000
)

// --------------------------------------------------------------------------
// Socket settings
// --------------------------------------------------------------------------

// Settings holds the configuration shared by connections, client connectors and
// server acceptors. A Settings value is treated as immutable once handed to a component.
type Settings struct {
	// reconnect policy (client only)
	EnableReconnect       bool
	ReconnectBaseInterval time.Duration
	ReconnectMaxInterval  time.Duration
	// ReconnectMaxAttempts is the number of consecutive failed attempts after which
	// the client stops reconnecting. 0 retries forever.
	ReconnectMaxAttempts int

	// buffers
	SendBufferSize    int
	ReceiveBufferSize int

	// timeouts (0 disables the deadline)
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	// DispatchRetryDelay is the pause of the dispatch loop after the data handler failed
	DispatchRetryDelay time.Duration

	// tcp socket options
	TCPNoDelay   bool
	TCPKeepAlive time.Duration
	TCPLinger    int // seconds, negative leaves the OS default

	// MaxConnections caps the number of simultaneously accepted sockets (server only, 0 = unlimited)
	MaxConnections int
}

// DefaultSettings returns the settings used when a component is created without explicit settings
func DefaultSettings() Settings {
	return Settings{
		EnableReconnect:       false,
		ReconnectBaseInterval: DefaultReconnectBaseInterval,
		ReconnectMaxInterval:  DefaultReconnectMaxInterval,
		SendBufferSize:        DefaultSendBufferSize,
		ReceiveBufferSize:     DefaultReceiveBufferSize,
		SendTimeout:           DefaultSendTimeout,
		ReceiveTimeout:        0,
		DispatchRetryDelay:    DefaultDispatchRetryDelay,
		TCPNoDelay:            true,
		TCPLinger:             -1,
	}
}

// Validate checks the invariants of the settings
func (s *Settings) Validate() error {
	if s.SendBufferSize <= 0 {
		return fmt.Errorf("%w: send buffer size must be > 0 (got %d)", ErrInvalidSettings, s.SendBufferSize)
	}
	if s.ReceiveBufferSize <= 0 {
		return fmt.Errorf("%w: receive buffer size must be > 0 (got %d)", ErrInvalidSettings, s.ReceiveBufferSize)
	}
	if s.SendTimeout < 0 || s.ReceiveTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidSettings)
	}
	if s.DispatchRetryDelay < 0 {
		return fmt.Errorf("%w: dispatch retry delay must not be negative", ErrInvalidSettings)
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("%w: max connections must not be negative", ErrInvalidSettings)
	}
	if s.EnableReconnect {
		if s.ReconnectBaseInterval <= 0 || s.ReconnectMaxInterval <= 0 {
			return fmt.Errorf("%w: reconnect intervals must be > 0 when reconnect is enabled", ErrInvalidSettings)
		}
		if s.ReconnectMaxInterval < s.ReconnectBaseInterval {
			return fmt.Errorf("%w: reconnect max interval (%s) is smaller than the base interval (%s)",
				ErrInvalidSettings, s.ReconnectMaxInterval, s.ReconnectBaseInterval)
		}
		if s.ReconnectMaxAttempts < 0 {
			return fmt.Errorf("%w: reconnect max attempts must not be negative", ErrInvalidSettings)
		}
	}
	return nil
}

// String returns a formatted string representation of the settings
func (s *Settings) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Reconnect")
	addField("Enabled", strconv.FormatBool(s.EnableReconnect))
	if s.EnableReconnect {
		addField("Base Interval", s.ReconnectBaseInterval.String())
		addField("Max Interval", s.ReconnectMaxInterval.String())
		if s.ReconnectMaxAttempts > 0 {
			addField("Max Attempts", strconv.Itoa(s.ReconnectMaxAttempts))
		} else {
			addField("Max Attempts", "unlimited")
		}
	}

	addSection("Buffers")
	addField("Send Buffer", fmt.Sprintf("%d bytes", s.SendBufferSize))
	addField("Receive Buffer", fmt.Sprintf("%d bytes", s.ReceiveBufferSize))

	addSection("Timeouts")
	addField("Send Timeout", durationOrOff(s.SendTimeout))
	addField("Receive Timeout", durationOrOff(s.ReceiveTimeout))
	addField("Dispatch Retry Delay", s.DispatchRetryDelay.String())

	addSection("TCP")
	addField("No Delay", strconv.FormatBool(s.TCPNoDelay))
	addField("Keep Alive", durationOrOff(s.TCPKeepAlive))
	if s.TCPLinger >= 0 {
		addField("Linger", fmt.Sprintf("%d sec", s.TCPLinger))
	}
	if s.MaxConnections > 0 {
		addField("Max Connections", strconv.Itoa(s.MaxConnections))
	}

	return sb.String()
}

func durationOrOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}

// --------------------------------------------------------------------------
// Endpoint
// --------------------------------------------------------------------------

// Endpoint is a host and port snapshot. It is a value type so it stays valid
// after the socket it was taken from has been closed.
type Endpoint struct {
	Host string
	Port int
}

// String returns the endpoint in host:port form
func (e Endpoint) String() string {
	return JoinHostPort(e.Host, e.Port)
}

// IsZero reports whether the endpoint is unset
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// EndpointFromAddr copies host and port out of a net.Addr-like string (host:port).
// Unparsable addresses keep the raw string as host.
func EndpointFromAddr(addr string) Endpoint {
	host, port, err := SplitHostPort(addr)
	if err != nil {
		return Endpoint{Host: addr}
	}
	return Endpoint{Host: host, Port: port}
}
