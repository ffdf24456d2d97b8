package barstorage

import (
	"context"
	"iter"

	"barchive/internal/barhandle"
)

func (r *Removable) Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error) {
	l, err := r.backing()
	if err != nil {
		return "", err
	}
	return l.Put(ctx, name, src, progress)
}

func (r *Removable) Get(ctx context.Context, name string) (barhandle.Handle, error) {
	l, err := r.backing()
	if err != nil {
		return nil, err
	}
	return l.Get(ctx, name)
}

func (r *Removable) List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error] {
	l, err := r.backing()
	if err != nil {
		return func(yield func(ObjectInfo, error) bool) { yield(ObjectInfo{}, err) }
	}
	return l.List(ctx, prefix)
}

func (r *Removable) Delete(ctx context.Context, name string) error {
	l, err := r.backing()
	if err != nil {
		return err
	}
	return l.Delete(ctx, name)
}
