package barerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidPattern, KindConfiguration},
		{ErrSourceNotFound, KindSource},
		{ErrCorruptArchive, KindArchive},
		{ErrDecryptAuthFailure, KindCodec},
		{ErrNotReachable, KindStorage},
		{ErrIntegrityViolation, KindIndex},
		{ErrCancelled, KindLifecycle},
		{fmt.Errorf("wrapped: %w", ErrQuota), KindStorage},
		{errors.New("unrelated"), KindUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrNotReachable, true},
		{fmt.Errorf("dial: %w", ErrNotReachable), true},
		{ErrAuthFailed, false},
		{ErrDecryptAuthFailure, false},
		{ErrCorruptArchive, false},
		{ErrQuota, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestWithContext(t *testing.T) {
	if err := WithContext(nil, "name"); err != nil {
		t.Errorf("WithContext(nil, ...) = %v, want nil", err)
	}

	err := WithContext(ErrNotReachable, "vault-1")
	if !errors.Is(err, ErrNotReachable) {
		t.Errorf("WithContext result does not wrap the original error: %v", err)
	}
	if got := err.Error(); got != "vault-1: storage not reachable" {
		t.Errorf("WithContext error text = %q, want %q", got, "vault-1: storage not reachable")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration: "configuration",
		KindSource:        "source",
		KindArchive:       "archive",
		KindCodec:         "codec",
		KindStorage:       "storage",
		KindIndex:         "index",
		KindLifecycle:     "lifecycle",
		KindUnknown:       "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
