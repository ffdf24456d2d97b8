// Package barstorage implements the storage adapter trait (spec section
// 4.5): a small interface any archive destination satisfies, plus local,
// removable-media, S3, and Azure Blob implementations.
package barstorage

import (
	"context"
	"iter"

	"barchive/internal/barhandle"
)

// ObjectID identifies a stored archive object within one adapter.
type ObjectID string

// ObjectInfo describes one object returned by List.
type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime int64 // unix seconds
}

// Adapter is the storage trait spec.md 4.5 describes: put/get/list/delete
// plus an explicit mount/unmount lifecycle for removable or
// connection-oriented backends. Implementations that are always reachable
// (local disk) make Mount/Unmount no-ops and IsMounted always true.
type Adapter interface {
	Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error)
	Get(ctx context.Context, name string) (barhandle.Handle, error)
	List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error]
	Delete(ctx context.Context, name string) error
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
	IsMounted() bool
}
