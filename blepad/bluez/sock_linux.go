package bluez

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// probeSocket checks that the kernel provides Bluetooth sockets.
func probeSocket() error {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if nil != err {
		return fmt.Errorf("unix.Socket %s", err)
	}
	return unix.Close(fd)
}
