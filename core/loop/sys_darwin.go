//go:build darwin

package loop

import "golang.org/x/sys/unix"

func accept(fd int) (int, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}

// writev issues one write per call; tryWrite loops over the vector.
func writev(fd int, iovs [][]byte) (int, error) {
	return unix.Write(fd, iovs[0])
}
