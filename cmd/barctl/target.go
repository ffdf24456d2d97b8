package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"barchive/internal/barjob"
	"barchive/internal/barstorage"
)

// parseTarget turns one --target flag value into a barjob.Target. Accepted
// forms:
//
//	local:/path/to/root
//	s3:bucket/prefix
//
// name is the archive object name recorded within that backend's
// namespace, shared by every target of one job so a restore only needs
// the object name and a backend type.
func parseTarget(ctx context.Context, spec, name string) (barjob.Target, error) {
	scheme, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return barjob.Target{}, fmt.Errorf("target %q: expected scheme:destination", spec)
	}

	switch scheme {
	case "local":
		adapter, err := barstorage.NewLocal(rest)
		if err != nil {
			return barjob.Target{}, fmt.Errorf("target %q: %w", spec, err)
		}
		return barjob.Target{Name: name, Adapter: adapter}, nil

	case "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return barjob.Target{}, fmt.Errorf("target %q: load AWS config: %w", spec, err)
		}
		adapter := barstorage.NewS3(s3.NewFromConfig(awsCfg), bucket, prefix)
		return barjob.Target{Name: name, Adapter: adapter}, nil

	default:
		return barjob.Target{}, fmt.Errorf("target %q: unknown scheme %q (want local or s3)", spec, scheme)
	}
}
