//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// controlSockopts mirrors sockopts_linux.go's SO_REUSEADDR tuning using
// the Windows socket option constant, following the teacher's
// affinity_windows.go / affinity_linux.go per-OS split.
func controlSockopts(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
