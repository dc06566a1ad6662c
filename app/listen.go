package app

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// ListenAll opens n listening sockets on addr with SO_REUSEPORT, so the
// kernel spreads connections over them. With port 0 every socket shares
// the port picked for the first one. It returns the bound address.
func ListenAll(addr string, n int) ([]int, string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", fmt.Errorf("app: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, "", fmt.Errorf("app: listen port %q: %w", portStr, err)
	}
	ip, err := resolve(host)
	if err != nil {
		return nil, "", err
	}

	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd, bound, err := listen(ip, port)
		if err != nil {
			for _, fd := range fds {
				unix.Close(fd)
			}
			return nil, "", fmt.Errorf("app: listen on %s: %w", addr, err)
		}
		port = bound
		fds = append(fds, fd)
	}
	return fds, net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func resolve(host string) (net.IP, error) {
	if host == "" {
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	a, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, fmt.Errorf("app: resolve %q: %w", host, err)
	}
	return a.IP, nil
}

func listen(ip net.IP, port int) (int, int, error) {
	var (
		sa     unix.Sockaddr
		family int
	)
	if ip4 := ip.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: port}
		copy(s.Addr[:], ip4)
		sa, family = s, unix.AF_INET
	} else {
		s := &unix.SockaddrInet6{Port: port}
		copy(s.Addr[:], ip.To16())
		sa, family = s, unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, err
	}
	unix.CloseOnExec(fd)

	fail := func(err error) (int, int, error) {
		unix.Close(fd)
		return -1, 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fail(err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail(err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail(err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail(err)
	}
	switch b := bound.(type) {
	case *unix.SockaddrInet4:
		port = b.Port
	case *unix.SockaddrInet6:
		port = b.Port
	}
	return fd, port, nil
}
