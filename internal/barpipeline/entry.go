package barpipeline

import (
	"errors"
	"os"
	"time"

	"barchive/internal/bararchive"
)

var errNoStatT = errors.New("barpipeline: platform stat_t unavailable")

// rawStat is the platform-normalized result of lstatInfo, filled in by
// stat_linux.go/stat_other.go.
type rawStat struct {
	info  os.FileInfo
	uid   uint32
	gid   uint32
	mode  uint32
	mtime time.Time
	ctime time.Time
	atime time.Time
	rdev  uint64
	dev   uint64
	ino   uint64
	nlink uint64
}

// hardlinkKey identifies one inode within one device, the unit a prior
// Process call within the same job registers into Pipeline.seen so a later
// entry sharing it is written as a HardlinkEntry instead of re-reading the
// data (spec section 3: "the hardlink entry stores the target entry id by
// value, not by pointer").
type hardlinkKey struct {
	dev uint64
	ino uint64
}

// collected is what stat+attribute collection (spec 4.6 step (a)) produces
// for one source path.
type collected struct {
	kind  bararchive.EntryKind
	meta  bararchive.Metadata
	size  int64
	link  hardlinkKey
	multi bool // nlink > 1: eligible for hardlink tracking
}

func collect(path string, name string) (collected, error) {
	st, err := lstatInfo(path)
	if err != nil {
		return collected{}, err
	}

	meta := bararchive.Metadata{
		Name:   name,
		UID:    st.uid,
		GID:    st.gid,
		Mode:   st.mode,
		MTime:  st.mtime,
		CTime:  st.ctime,
		ATime:  st.atime,
		XAttrs: listXattrs(path),
	}

	mode := st.info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return collected{}, err
		}
		meta.LinkTarget = target
		return collected{kind: bararchive.KindLink, meta: meta}, nil

	case mode.IsDir():
		return collected{kind: bararchive.KindDirectory, meta: meta}, nil

	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0:
		meta.RDev = st.rdev
		return collected{kind: bararchive.KindImage, meta: meta, size: st.info.Size()}, nil

	case mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
		meta.RDev = st.rdev
		return collected{kind: bararchive.KindSpecial, meta: meta}, nil

	default:
		return collected{
			kind:  bararchive.KindFile,
			meta:  meta,
			size:  st.info.Size(),
			link:  hardlinkKey{dev: st.dev, ino: st.ino},
			multi: st.nlink > 1 && st.ino != 0,
		}, nil
	}
}
