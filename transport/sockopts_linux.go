//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSockopts is installed as a net.ListenConfig.Control hook,
// generalizing the teacher's transport/tcp/affinity_linux.go
// platform-split pattern to socket-option tuning instead of CPU
// affinity: SO_REUSEADDR lets a restarted server rebind immediately.
// No other socket option is set here.
func controlSockopts(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
