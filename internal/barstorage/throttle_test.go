package barstorage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"barchive/internal/barhandle"
)

func TestThrottledPutRespectsAdapter(t *testing.T) {
	dir := t.TempDir()
	local, _ := NewLocal(dir)
	throttled := NewThrottled(local, 1<<30) // high cap: shouldn't meaningfully delay this small write

	srcPath := filepath.Join(t.TempDir(), "s.bin")
	w, _ := barhandle.Open(srcPath, barhandle.Write|barhandle.Create)
	w.Write([]byte("small payload"))
	w.Close()
	src, _ := barhandle.Open(srcPath, barhandle.Read)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := throttled.Put(ctx, "obj.bar", src, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !throttled.IsMounted() {
		t.Fatal("Throttled should delegate IsMounted to the wrapped adapter")
	}
}
