package common

import (
	"github.com/VictoriaMetrics/metrics"
	"io"
)

// --------------------------------------------------------------------------
// Process wide socket metrics (prometheus text format via WriteMetrics)
// --------------------------------------------------------------------------

var (
	ConnectionsEstablished = metrics.NewCounter(`dsock_connections_established_total`)
	ConnectionsClosed      = metrics.NewCounter(`dsock_connections_closed_total`)
	ConnectionsActive      = metrics.NewCounter(`dsock_connections_active`)
	ConnectFailures        = metrics.NewCounter(`dsock_connect_failures_total`)
	ReconnectAttempts      = metrics.NewCounter(`dsock_reconnect_attempts_total`)
	AcceptErrors           = metrics.NewCounter(`dsock_accept_errors_total`)

	BytesSent        = metrics.NewCounter(`dsock_bytes_sent_total`)
	BytesReceived    = metrics.NewCounter(`dsock_bytes_received_total`)
	MessagesSent     = metrics.NewCounter(`dsock_messages_sent_total`)
	MessagesReceived = metrics.NewCounter(`dsock_messages_received_total`)
	MessagesRejected = metrics.NewCounter(`dsock_messages_rejected_total`)

	HandlerErrors  = metrics.NewCounter(`dsock_handler_errors_total`)
	ListenerPanics = metrics.NewCounter(`dsock_listener_panics_total`)
)

// WriteMetrics writes all socket metrics in prometheus text format to w
func WriteMetrics(w io.Writer, exposeProcessMetrics bool) {
	metrics.WritePrometheus(w, exposeProcessMetrics)
}
