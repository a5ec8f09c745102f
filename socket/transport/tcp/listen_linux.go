//go:build linux

package tcp

import (
	"fmt"
	"golang.org/x/sys/unix"
	"net"
	"os"
)

// listen binds an IPv4 wildcard socket to port and calls listen(2) with the given
// backlog. The standard library always uses the system maximum as backlog.
func listen(port int, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// net.FileListener duplicates the descriptor, the file is closed either way
	file := os.NewFile(uintptr(fd), fmt.Sprintf("tcp-listener-%d", port))
	defer file.Close()

	return net.FileListener(file)
}
