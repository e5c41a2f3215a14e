package broadcast

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// enableReuseAddrAndBroadcast sets SO_REUSEADDR (so multiple processes can
// bind the same discovery port) and SO_BROADCAST (required on most
// platforms to send to the limited broadcast address) on conn's
// underlying file descriptor.
func enableReuseAddrAndBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("broadcast: get raw conn: %w", err)
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			sockErr = fmt.Errorf("set SO_BROADCAST: %w", err)
			return
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("broadcast: control raw conn: %w", ctrlErr)
	}
	return sockErr
}
