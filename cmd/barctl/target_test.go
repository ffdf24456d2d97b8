package main

import (
	"context"
	"testing"

	"barchive/internal/barstorage"
)

func TestParseTargetLocal(t *testing.T) {
	dir := t.TempDir()
	target, err := parseTarget(context.Background(), "local:"+dir, "full-20260729")
	if err != nil {
		t.Fatalf("parseTarget: %v", err)
	}
	if target.Name != "full-20260729" {
		t.Errorf("Name = %q, want full-20260729", target.Name)
	}
	if _, ok := target.Adapter.(*barstorage.Local); !ok {
		t.Errorf("Adapter = %T, want *barstorage.Local", target.Adapter)
	}
}

func TestParseTargetUnknownScheme(t *testing.T) {
	if _, err := parseTarget(context.Background(), "ftp:example.com", "x"); err == nil {
		t.Error("expected an error for an unknown scheme")
	}
}

func TestParseTargetMissingScheme(t *testing.T) {
	if _, err := parseTarget(context.Background(), "/just/a/path", "x"); err == nil {
		t.Error("expected an error when no scheme: is present")
	}
}
