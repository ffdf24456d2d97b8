package barstorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"barchive/internal/barerr"
	"barchive/internal/barhandle"
)

// s3PartSize is the multipart upload part size; AWS requires every part but
// the last to be at least 5 MiB.
const s3PartSize = 8 << 20

// S3 stores archive objects in a bucket via aws-sdk-go-v2. It is always
// "mounted" once constructed: connectivity is validated lazily on first
// call, matching the other always-on backends in this package.
type S3 struct {
	client *s3.Client
	Bucket string
	Prefix string
}

// NewS3 wraps an already-configured *s3.Client (credentials/region resolved
// by the caller via aws-sdk-go-v2/config, out of this package's scope).
func NewS3(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{client: client, Bucket: bucket, Prefix: prefix}
}

func (a *S3) key(name string) string {
	if a.Prefix == "" {
		return name
	}
	return a.Prefix + "/" + name
}

// Put uploads src as a multipart object, resuming an in-progress upload
// for the same key if one is found via ListMultipartUploads — matching
// section 4.5's "Put SHOULD resume a previously interrupted transfer where
// the backend supports it".
func (a *S3) Put(ctx context.Context, name string, src barhandle.Handle, progress func(n int64)) (ObjectID, error) {
	key := a.key(name)

	uploadID, completed, err := a.findResumableUpload(ctx, key)
	if err != nil {
		return "", err
	}
	if uploadID == "" {
		out, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(a.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", fmt.Errorf("%w: create multipart upload: %v", barerr.ErrNotReachable, err)
		}
		uploadID = aws.ToString(out.UploadId)
	}

	// Skip ahead past already-completed parts so a resumed upload doesn't
	// re-read and re-send bytes the backend already has.
	skipBytes := int64(len(completed)) * s3PartSize
	if skipBytes > 0 {
		if _, err := src.Seek(skipBytes, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek past completed parts: %w", err)
		}
	}

	parts := append([]types.CompletedPart(nil), completed...)
	partNum := int32(len(completed)) + 1
	var written int64 = skipBytes
	buf := make([]byte, s3PartSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			out, err := a.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(a.Bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(partNum),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return "", fmt.Errorf("%w: upload part %d: %v", barerr.ErrNotReachable, partNum, err)
			}
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)})
			partNum++
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

	if _, err := a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(a.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		return "", fmt.Errorf("%w: complete multipart upload: %v", barerr.ErrNotReachable, err)
	}

	return ObjectID(key), nil
}

// findResumableUpload looks for an in-progress multipart upload against
// key and, if found, lists its already-uploaded parts so Put can resume
// instead of restarting.
func (a *S3) findResumableUpload(ctx context.Context, key string) (string, []types.CompletedPart, error) {
	list, err := a.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(a.Bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: list multipart uploads: %v", barerr.ErrNotReachable, err)
	}
	for _, u := range list.Uploads {
		if aws.ToString(u.Key) != key {
			continue
		}
		uploadID := aws.ToString(u.UploadId)
		parts, err := a.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:   aws.String(a.Bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if err != nil {
			return "", nil, fmt.Errorf("%w: list parts: %v", barerr.ErrNotReachable, err)
		}
		completed := make([]types.CompletedPart, 0, len(parts.Parts))
		for _, p := range parts.Parts {
			completed = append(completed, types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
		}
		return uploadID, completed, nil
	}
	return "", nil, nil
}

func (a *S3) Get(ctx context.Context, name string) (barhandle.Handle, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, barerr.ErrNotFound)
	}
	return newReadOnlyHandle(out.Body), nil
}

func (a *S3) List(ctx context.Context, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		var token *string
		for {
			out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(a.Bucket),
				Prefix:            aws.String(a.key(prefix)),
				ContinuationToken: token,
			})
			if err != nil {
				yield(ObjectInfo{}, fmt.Errorf("%w: list objects: %v", barerr.ErrNotReachable, err))
				return
			}
			for _, obj := range out.Contents {
				info := ObjectInfo{Name: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
				if obj.LastModified != nil {
					info.ModTime = obj.LastModified.Unix()
				}
				if !yield(info, nil) {
					return
				}
			}
			if !aws.ToBool(out.IsTruncated) {
				return
			}
			token = out.NextContinuationToken
		}
	}
}

func (a *S3) Delete(ctx context.Context, name string) error {
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(a.key(name)),
	}); err != nil {
		return fmt.Errorf("%w: delete object: %v", barerr.ErrNotReachable, err)
	}
	return nil
}

func (a *S3) Mount(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.Bucket)})
	if err != nil {
		return fmt.Errorf("%w: head bucket: %v", barerr.ErrNotReachable, err)
	}
	return nil
}
func (a *S3) Unmount(ctx context.Context) error { return nil }
func (a *S3) IsMounted() bool                   { return true }
