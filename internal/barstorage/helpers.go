package barstorage

import (
	"errors"
	"io"

	"barchive/internal/barhandle"
)

// readOnlyHandle adapts a plain io.ReadCloser (an S3/Azure object body) to
// barhandle.Handle for callers that only need to stream bytes out of
// Get — remote object bodies are not seekable or writable.
type readOnlyHandle struct {
	r io.ReadCloser
}

func newReadOnlyHandle(r io.ReadCloser) barhandle.Handle { return &readOnlyHandle{r: r} }

var errNotSupported = errors.New("barstorage: operation not supported on a remote object handle")

func (h *readOnlyHandle) Read(p []byte) (int, error)  { return h.r.Read(p) }
func (h *readOnlyHandle) Write(p []byte) (int, error) { return 0, errNotSupported }
func (h *readOnlyHandle) Seek(int64, int) (int64, error) {
	return 0, errNotSupported
}
func (h *readOnlyHandle) Tell() (int64, error)               { return 0, errNotSupported }
func (h *readOnlyHandle) Size() (int64, bool, error)          { return 0, false, nil }
func (h *readOnlyHandle) Truncate(int64) error                { return errNotSupported }
func (h *readOnlyHandle) Flush() error                        { return nil }
func (h *readOnlyHandle) DropCaches(int64, int64, bool) error { return nil }
func (h *readOnlyHandle) Close() error                        { return h.r.Close() }
