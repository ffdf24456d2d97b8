//go:build linux

package barpipeline

import (
	"os"
	"syscall"
	"time"
)

// lstatInfo collects the platform attributes step (a) of the pipeline needs
// (spec section 4.6: "stat + attribute collection"), including the
// device/inode pair used to recognize hardlinks (spec section 3: "the
// hardlink entry stores the target entry id by value").
func lstatInfo(path string) (rawStat, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return rawStat{}, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return rawStat{}, errNoStatT
	}
	return rawStat{
		info:  fi,
		uid:   st.Uid,
		gid:   st.Gid,
		mode:  uint32(st.Mode),
		mtime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		ctime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		atime: time.Unix(st.Atim.Sec, st.Atim.Nsec),
		rdev:  uint64(st.Rdev),
		dev:   uint64(st.Dev),
		ino:   st.Ino,
		nlink: uint64(st.Nlink),
	}, nil
}
