//go:build !linux

package barpass

import "golang.org/x/sys/unix"

const (
	termiosGetAttr = unix.TIOCGETA
	termiosSetAttr = unix.TIOCSETA
)
