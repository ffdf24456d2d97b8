// Package barhandle implements the Buffered Handle (spec section 4.1): a
// unified byte-stream abstraction over local files and block devices, with
// seek/read/write/truncate, drop-caches, and non-atime semantics.
package barhandle

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"barchive/internal/barerr"
)

// Mode is a bitset of handle open flags.
type Mode uint16

const (
	Read Mode = 1 << iota
	Write
	Append
	Create
	NoATime
	NoCache
	Sparse
	Stream // caller does not require a known size; Open never fails for an unprobeable size
)

// Handle is the buffered byte-stream abstraction spec section 4.1 describes.
type Handle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Tell() (int64, error)
	// Size reports the known size. ok is false only for a handle opened
	// with Stream whose size is not statically known (e.g. a block device
	// without a size probe); without Stream, Open fails in that case.
	Size() (size int64, ok bool, err error)
	Truncate(size int64) error
	Flush() error
	// DropCaches releases kernel page cache for [offset, offset+length).
	// No-op unless the handle was opened with NoCache.
	DropCaches(offset, length int64, sync bool) error
}

// fileHandle backs Handle with *os.File, used for both regular files and
// block devices (spec 4.1: "When the underlying backing is a block device").
type fileHandle struct {
	f *os.File

	mode Mode
	path string

	knownSize int64
	sizeKnown bool

	// origAtim is set when NoATime was requested but O_NOATIME wasn't
	// available; Close() restores it.
	origAtim   *unix.Timespec
	origMtim   *unix.Timespec

	touchMu  sync.Mutex
	touchMin int64
	touchMax int64
	touched  bool
}

// Open opens locator under mode. locator is a plain filesystem path; the
// scheme-based routing to remote/removable storage happens one layer up in
// barstorage, which hands this package only local paths or device nodes.
func Open(locator string, mode Mode) (Handle, error) {
	flags := 0
	switch {
	case mode&Write != 0 && mode&Append != 0:
		flags = os.O_WRONLY | os.O_APPEND
	case mode&Write != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if mode&Create != 0 {
		flags |= os.O_CREATE
	}

	noATimeFellBack := false
	openFlags := flags
	if mode&NoATime != 0 {
		openFlags |= unix.O_NOATIME
	}

	f, err := os.OpenFile(locator, openFlags, 0o644)
	if err != nil && mode&NoATime != 0 {
		// O_NOATIME requires ownership (or CAP_FOWNER); fall back to
		// recording the pre-open atime and restoring it at Close.
		f, err = os.OpenFile(locator, flags, 0o644)
		noATimeFellBack = true
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", locator, barerr.ErrSourceNotFound)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("open %s: %w", locator, barerr.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}

	h := &fileHandle{f: f, mode: mode, path: locator}

	if noATimeFellBack {
		var st unix.Stat_t
		if statErr := unix.Stat(locator, &st); statErr == nil {
			atim := st.Atim
			mtim := st.Mtim
			h.origAtim = &atim
			h.origMtim = &mtim
		}
	}

	size, ok, err := h.probeSize()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !ok && mode&Stream == 0 {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", locator, barerr.ErrSizeUnavailable)
	}
	h.knownSize = size
	h.sizeKnown = ok
	return h, nil
}

func (h *fileHandle) probeSize() (int64, bool, error) {
	info, err := h.f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", h.path, err)
	}
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), true, nil
	}
	// Block device: regular Stat().Size() is usually 0. Probe via ioctl.
	size, err := probeBlockDeviceSize(h.f)
	if err != nil {
		return 0, false, nil // unknown, not an error by itself
	}
	return size, true, nil
}

func (h *fileHandle) Read(p []byte) (int, error) {
	n, err := h.f.Read(p)
	h.trackTouch(n)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read %s: %w", h.path, err)
	}
	return n, err
}

func (h *fileHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	h.trackTouch(n)
	if h.mode&Append != 0 {
		h.sizeKnown = false // offset == size invariant; re-probe lazily if asked
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", h.path, err)
	}
	return n, nil
}

func (h *fileHandle) trackTouch(n int) {
	if h.mode&NoCache == 0 || n <= 0 {
		return
	}
	h.touchMu.Lock()
	defer h.touchMu.Unlock()
	off, _ := h.f.Seek(0, io.SeekCurrent)
	start := off - int64(n)
	end := off
	if !h.touched {
		h.touchMin, h.touchMax = start, end
		h.touched = true
		return
	}
	if start < h.touchMin {
		h.touchMin = start
	}
	if end > h.touchMax {
		h.touchMax = end
	}
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	n, err := h.f.Seek(offset, whence)
	if err != nil {
		return n, fmt.Errorf("seek %s: %w", h.path, err)
	}
	return n, nil
}

func (h *fileHandle) Tell() (int64, error) {
	return h.f.Seek(0, io.SeekCurrent)
}

func (h *fileHandle) Size() (int64, bool, error) {
	if h.sizeKnown {
		return h.knownSize, true, nil
	}
	size, ok, err := h.probeSize()
	if err != nil {
		return 0, false, err
	}
	h.knownSize, h.sizeKnown = size, ok
	return size, ok, nil
}

func (h *fileHandle) Truncate(size int64) error {
	if err := h.f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", h.path, err)
	}
	h.knownSize = size
	h.sizeKnown = true
	return nil
}

func (h *fileHandle) Flush() error {
	if err := h.f.Sync(); err != nil {
		return fmt.Errorf("flush %s: %w", h.path, err)
	}
	return nil
}

func (h *fileHandle) DropCaches(offset, length int64, sync bool) error {
	if h.mode&NoCache == 0 {
		return nil
	}
	if sync {
		if err := h.f.Sync(); err != nil {
			return fmt.Errorf("sync before drop-caches %s: %w", h.path, err)
		}
	}
	if err := unix.Fadvise(int(h.f.Fd()), offset, length, unix.FADV_DONTNEED); err != nil {
		return fmt.Errorf("drop caches %s: %w", h.path, err)
	}
	return nil
}

func (h *fileHandle) Close() error {
	if h.mode&NoCache != 0 && h.touched {
		_ = h.DropCaches(h.touchMin, h.touchMax-h.touchMin, true)
	}
	if h.origAtim != nil {
		_ = unix.UtimesNanoAt(unix.AT_FDCWD, h.path, []unix.Timespec{*h.origAtim, *h.origMtim}, 0)
	}
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", h.path, err)
	}
	return nil
}
