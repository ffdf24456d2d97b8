//go:build !linux

package barhandle

import (
	"errors"
	"os"
)

// probeBlockDeviceSize has no portable implementation outside linux
// (spec's Open Question on Windows/other-platform device parity: not
// mandated). Callers without Stream set will see ErrSizeUnavailable.
func probeBlockDeviceSize(f *os.File) (int64, error) {
	return 0, errors.New("block device size probe not implemented on this platform")
}
