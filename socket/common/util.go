package common

import (
	"fmt"
	"net"
	"strconv"
)

// JoinHostPort combines host and port into host:port (IPv6 hosts are bracketed)
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SplitHostPort splits host:port and parses the port
func SplitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

// ValidatePort checks that port is a usable tcp port (1-65535)
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port must be in 1-65535 (got %d)", ErrInvalidArgument, port)
	}
	return nil
}

// ValidateListenPort is like ValidatePort but allows 0 (pick any free port)
func ValidateListenPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port must be in 0-65535 (got %d)", ErrInvalidArgument, port)
	}
	return nil
}

// ValidateHost checks that host is either an IP literal or a syntactically valid host name
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidArgument)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("%w: host name too long", ErrInvalidArgument)
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return fmt.Errorf("%w: invalid character %q in host %q", ErrInvalidArgument, r, host)
		}
	}
	return nil
}
