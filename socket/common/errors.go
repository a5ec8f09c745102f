package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// ErrInvalidMessage is the validation error class of QueueMessage
	ErrInvalidMessage = errors.New("invalid message")
	// ErrEmptyMessage is returned for an empty payload
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	// ErrMessageTooLarge is returned for a payload larger than the send buffer size
	ErrMessageTooLarge = fmt.Errorf("%w: message exceeds the send buffer size", ErrInvalidMessage)

	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAlreadyStarted    = errors.New("already started")
	ErrShutdown          = errors.New("shut down")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidSettings   = errors.New("invalid settings")
)

// ConnectError is returned by a failed connect attempt. It carries the endpoint
// and the classified error kind next to the underlying cause.
type ConnectError struct {
	Endpoint Endpoint
	Kind     ErrorKind
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect to %s failed: %s", e.Endpoint, e.Kind)
	}
	return fmt.Sprintf("connect to %s failed (%s): %v", e.Endpoint, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// --------------------------------------------------------------------------
// Error kinds
// --------------------------------------------------------------------------

// ErrorKind is the terminal state reported for failed connects and closed connections
type ErrorKind int

const (
	Success ErrorKind = iota
	TimedOut
	ConnectionRefused
	ConnectionReset
	ConnectionAborted
	HostUnreachable
	NetworkUnreachable
	Disconnected
	Shutdown
	AddressInUse
	InvalidArgument
	Unknown
)

var errorKindNames = map[ErrorKind]string{
	Success:            "Success",
	TimedOut:           "TimedOut",
	ConnectionRefused:  "ConnectionRefused",
	ConnectionReset:    "ConnectionReset",
	ConnectionAborted:  "ConnectionAborted",
	HostUnreachable:    "HostUnreachable",
	NetworkUnreachable: "NetworkUnreachable",
	Disconnected:       "Disconnected",
	Shutdown:           "Shutdown",
	AddressInUse:       "AddressInUse",
	InvalidArgument:    "InvalidArgument",
	Unknown:            "Unknown",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// IsSuccess reports whether the kind marks a graceful outcome
func (k ErrorKind) IsSuccess() bool {
	return k == Success
}

// ClassifyError maps an error returned by the net package to an ErrorKind
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return Success
	}

	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return connErr.Kind
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Disconnected
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, ErrShutdown):
		return Shutdown
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ConnectionReset
	case errors.Is(err, syscall.ECONNABORTED):
		return ConnectionAborted
	case errors.Is(err, syscall.EHOSTUNREACH):
		return HostUnreachable
	case errors.Is(err, syscall.ENETUNREACH):
		return NetworkUnreachable
	case errors.Is(err, syscall.EADDRINUSE):
		return AddressInUse
	case errors.Is(err, syscall.EINVAL), errors.Is(err, ErrInvalidArgument):
		return InvalidArgument
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}

	return Unknown
}
