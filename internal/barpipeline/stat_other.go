//go:build !linux

package barpipeline

import "os"

// lstatInfo falls back to the portable subset of os.FileInfo on platforms
// without syscall.Stat_t (spec's Open Question on cross-platform attribute
// parity: not mandated — uid/gid/rdev/hardlink detection are linux-only).
func lstatInfo(path string) (rawStat, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return rawStat{}, err
	}
	mt := fi.ModTime()
	return rawStat{
		info:  fi,
		mode:  uint32(fi.Mode().Perm()),
		mtime: mt,
		ctime: mt,
		atime: mt,
	}, nil
}
