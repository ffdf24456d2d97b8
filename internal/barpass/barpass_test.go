package barpass

import (
	"bytes"
	"testing"
)

func newTestContext(t *testing.T) *ProcessContext {
	t.Helper()
	pc, err := NewProcessContext("test-host")
	if err != nil {
		t.Fatalf("NewProcessContext: %v", err)
	}
	return pc
}

func TestDeployRoundTrip(t *testing.T) {
	pc := newTestContext(t)
	pw, err := FromString(pc, "hunter2")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	defer pw.Close()

	plaintext, undeploy := pw.Deploy()
	defer undeploy()
	if string(plaintext) != "hunter2" {
		t.Fatalf("Deploy() = %q, want %q", plaintext, "hunter2")
	}
}

func TestUndeployZeroes(t *testing.T) {
	pc := newTestContext(t)
	pw, err := FromString(pc, "zero-me-out")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	defer pw.Close()

	plaintext, undeploy := pw.Deploy()
	undeploy()
	if !bytes.Equal(plaintext, make([]byte, len(plaintext))) {
		t.Fatalf("expected buffer zeroed after undeploy, got %v", plaintext)
	}
}

func TestEqual(t *testing.T) {
	pc := newTestContext(t)
	a, _ := FromString(pc, "same-secret")
	b, _ := FromString(pc, "same-secret")
	c, _ := FromString(pc, "different")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if !a.Equal(b) {
		t.Error("expected equal passwords to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different passwords to compare unequal")
	}
}

func TestNewRejectsOversizedPassword(t *testing.T) {
	pc := newTestContext(t)
	_, err := New(pc, make([]byte, MaxLength+1))
	if err == nil {
		t.Fatal("expected error for oversized password")
	}
}

func TestObfuscationNeverStoresPlaintext(t *testing.T) {
	pc := newTestContext(t)
	pw, err := FromString(pc, "plaintext-marker")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	defer pw.Close()
	if bytes.Contains(pw.obfuscated, []byte("plaintext-marker")) {
		t.Fatal("obfuscated storage should never contain the plaintext bytes")
	}
}
