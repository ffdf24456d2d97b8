//go:build linux

package barpipeline

import "golang.org/x/sys/unix"

// listXattrs best-effort collects a path's extended attributes (spec
// section 3: Attributes.XAttrs). Missing support (ENOTSUP, common on
// tmpfs/overlay) and permission errors are swallowed: xattrs are metadata
// enrichment, not load-bearing for the backup itself.
func listXattrs(path string) map[string][]byte {
	names, err := unix.Llistxattr(path, nil)
	if err != nil || names <= 0 {
		return nil
	}
	buf := make([]byte, names)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil
	}
	var out map[string][]byte
	for _, name := range splitNames(buf[:n]) {
		size, err := unix.Lgetxattr(path, name, nil)
		if err != nil || size <= 0 {
			continue
		}
		val := make([]byte, size)
		n, err := unix.Lgetxattr(path, name, val)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string][]byte)
		}
		out[name] = val[:n]
	}
	return out
}

// splitNames splits the NUL-separated name list Llistxattr fills in.
func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
