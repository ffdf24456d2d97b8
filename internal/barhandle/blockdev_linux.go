//go:build linux

package barhandle

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// probeBlockDeviceSize discovers a block device's size via BLKGETSIZE64,
// the platform-specific probe spec section 4.1 requires when sizes are not
// statically known from Stat(). BLKGETSIZE64 reports a uint64 byte count,
// which has no IoctlGet helper in x/sys/unix, hence the raw syscall.
func probeBlockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
