//go:build linux

package barpass

import "golang.org/x/sys/unix"

const (
	termiosGetAttr = unix.TCGETS
	termiosSetAttr = unix.TCSETS
)
