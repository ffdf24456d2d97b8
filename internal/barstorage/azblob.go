package barstorage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"iter"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"barchive/internal/barerr"
	"barchive/internal/barhandle"
)

const azBlockSize = 8 << 20

// AzBlob stores archive objects as Azure block blobs: a second remote
// Storage Adapter alongside S3, resumable via the block-list API (staged
// blocks already committed to a blob survive across retries; Put restages
// from the first byte not yet covered by a committed block).
type AzBlob struct {
	client *azblob.Client
	Prefix string
}

// NewAzBlob wraps an already-configured *azblob.Client (auth/endpoint
// resolved by the caller).
func NewAzBlob(client *azblob.Client, prefix string) *AzBlob {
	return &AzBlob{client: client, Prefix: prefix}
}

func (a *AzBlob) name(n string) string {
	if a.Prefix == "" {
		return n
	}
	return a.Prefix + "/" + n
}

func (a *AzBlob) Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error) {
	blobName := a.name(name)
	blockClient := a.client.ServiceClient().NewContainerClient("").NewBlockBlobClient(blobName)

	var committed []string
	if list, err := blockClient.GetBlockList(ctx, blockblob.BlockListTypeCommitted, nil); err == nil {
		for _, b := range list.CommittedBlocks {
			committed = append(committed, *b.Name)
		}
	}

	skipBytes := int64(len(committed)) * azBlockSize
	if skipBytes > 0 {
		if _, err := src.Seek(skipBytes, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek past committed blocks: %w", err)
		}
	}

	blockIDs := append([]string(nil), committed...)
	var written int64 = skipBytes
	buf := make([]byte, azBlockSize)
	idx := len(committed)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			blockID := base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "block-%08d", idx))
			if _, err := blockClient.StageBlock(ctx, blockID, streaming(bytes.NewReader(buf[:n])), nil); err != nil {
				return "", fmt.Errorf("%w: stage block %d: %v", barerr.ErrNotReachable, idx, err)
			}
			blockIDs = append(blockIDs, blockID)
			idx++
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}

	if _, err := blockClient.CommitBlockList(ctx, blockIDs, nil); err != nil {
		return "", fmt.Errorf("%w: commit block list: %v", barerr.ErrNotReachable, err)
	}
	return ObjectID(blobName), nil
}

func (a *AzBlob) Get(ctx context.Context, name string) (barhandle.Handle, error) {
	resp, err := a.client.DownloadStream(ctx, "", a.name(name), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, barerr.ErrNotFound)
	}
	return newReadOnlyHandle(resp.Body), nil
}

func (a *AzBlob) List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		pager := a.client.NewListBlobsFlatPager("", &container.ListBlobsFlatOptions{
			Prefix: azStrPtr(a.name(prefix)),
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(ObjectInfo{}, fmt.Errorf("%w: list blobs: %v", barerr.ErrNotReachable, err))
				return
			}
			for _, b := range page.Segment.BlobItems {
				info := ObjectInfo{Name: *b.Name}
				if b.Properties != nil {
					if b.Properties.ContentLength != nil {
						info.Size = *b.Properties.ContentLength
					}
					if b.Properties.LastModified != nil {
						info.ModTime = b.Properties.LastModified.Unix()
					}
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

func (a *AzBlob) Delete(ctx context.Context, name string) error {
	if _, err := a.client.DeleteBlob(ctx, "", a.name(name), nil); err != nil {
		return fmt.Errorf("%w: delete blob: %v", barerr.ErrNotReachable, err)
	}
	return nil
}

func (a *AzBlob) Mount(ctx context.Context) error {
	return nil
}
func (a *AzBlob) Unmount(ctx context.Context) error { return nil }
func (a *AzBlob) IsMounted() bool                   { return true }

func azStrPtr(s string) *string { return &s }

// streaming adapts a *bytes.Reader to io.ReadSeekCloser, which StageBlock
// requires so the SDK can retry a failed upload by re-seeking to the start.
func streaming(r *bytes.Reader) io.ReadSeekCloser { return nopCloser{r} }

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
