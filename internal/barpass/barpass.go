// Package barpass implements the obfuscated in-memory Password container
// described in spec sections 3, 4.9, and 9: plaintext is XOR-obfuscated
// against a per-process random key immediately on construction and only
// rematerialized inside a scoped "deploy" region that guarantees zeroing on
// every exit path. Equality is constant-time.
package barpass

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"barchive/internal/barerr"
)

// MaxLength bounds the password's byte length.
const MaxLength = 8192

// ProcessContext carries process-wide state explicitly instead of through
// globals (spec section 9: "Replace [gethostname-style globals] with a
// ProcessContext constructed at startup, passed explicitly"). ObfuscationKey
// is generated once per process and shared by every Password it constructs.
type ProcessContext struct {
	HostName       string
	ObfuscationKey []byte // random, len == MaxLength
}

// NewProcessContext builds a ProcessContext with a fresh random obfuscation key.
func NewProcessContext(hostName string) (*ProcessContext, error) {
	key := make([]byte, MaxLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate obfuscation key: %w", err)
	}
	return &ProcessContext{HostName: hostName, ObfuscationKey: key}, nil
}

// Password holds up to MaxLength bytes, XOR-obfuscated against the owning
// ProcessContext's key so residual memory never contains plaintext outside
// a Deploy/undeploy region.
type Password struct {
	pc          *ProcessContext
	obfuscated  []byte
	locked      bool
}

func obfuscate(pc *ProcessContext, plaintext []byte) []byte {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ pc.ObfuscationKey[i%len(pc.ObfuscationKey)]
	}
	return out
}

// New constructs a Password from raw bytes, obfuscating immediately.
func New(pc *ProcessContext, plaintext []byte) (*Password, error) {
	if len(plaintext) > MaxLength {
		return nil, fmt.Errorf("password length %d exceeds maximum %d", len(plaintext), MaxLength)
	}
	p := &Password{pc: pc, obfuscated: obfuscate(pc, plaintext)}
	if err := unix.Mlock(p.obfuscated); err == nil {
		p.locked = true
	}
	return p, nil
}

// FromString constructs a Password from a string.
func FromString(pc *ProcessContext, s string) (*Password, error) {
	return New(pc, []byte(s))
}

// Deploy rematerializes the plaintext into a freshly allocated, swap-locked
// buffer and returns it along with an undeploy closure. Callers must
// `defer undeploy()` immediately: undeploy zeroes the buffer and unlocks it
// on every exit path, bounding the plaintext's lifetime to the deploy
// region (spec section 9's "Deploy region").
func (p *Password) Deploy() (plaintext []byte, undeploy func()) {
	buf := obfuscate(p.pc, p.obfuscated) // XOR twice == original plaintext
	locked := unix.Mlock(buf) == nil
	return buf, func() {
		for i := range buf {
			buf[i] = 0
		}
		if locked {
			_ = unix.Munlock(buf)
		}
	}
}

// Equal compares two passwords without revealing timing information about
// where they first differ. Length is compared first (itself not secret),
// then a constant-time compare runs over the deployed plaintexts.
func (p *Password) Equal(other *Password) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.obfuscated) != len(other.obfuscated) {
		return false
	}
	a, undeployA := p.Deploy()
	defer undeployA()
	b, undeployB := other.Deploy()
	defer undeployB()
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Close zeroes and unlocks the obfuscated buffer. After Close, p must not
// be used.
func (p *Password) Close() {
	for i := range p.obfuscated {
		p.obfuscated[i] = 0
	}
	if p.locked {
		_ = unix.Munlock(p.obfuscated)
	}
}

// FromTTY reads a password interactively from fd with echo disabled,
// restoring the original terminal settings on every exit path (including
// timeout). timeout <= 0 is replaced by a 24-hour timeout.
func FromTTY(pc *ProcessContext, fd int, prompt string, out *bufio.Writer, in *bufio.Reader, timeout time.Duration) (*Password, error) {
	orig, err := unix.IoctlGetTermios(fd, termiosGetAttr)
	if err != nil {
		return nil, fmt.Errorf("get terminal attributes: %w", err)
	}
	raw := *orig
	raw.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(fd, termiosSetAttr, &raw); err != nil {
		return nil, fmt.Errorf("disable echo: %w", err)
	}
	defer unix.IoctlSetTermios(fd, termiosSetAttr, orig)

	if out != nil {
		_, _ = out.WriteString(prompt)
		_ = out.Flush()
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := in.ReadString('\n')
		ch <- result{line, err}
	}()

	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("read password: %w", r.err)
		}
		line := trimNewline(r.line)
		return FromString(pc, line)
	case <-time.After(timeout):
		return nil, barerr.ErrNoPassword
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// FromAskPassHelper invokes program as a subprocess (an "ask-pass" helper)
// and reads its stdout to the first line as the password.
func FromAskPassHelper(ctx context.Context, pc *ProcessContext, program string, args ...string) (*Password, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ask-pass stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ask-pass helper %s: %w", program, err)
	}
	reader := bufio.NewReader(outPipe)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		_ = cmd.Wait()
		return nil, fmt.Errorf("read ask-pass output: %w", err)
	}
	if werr := cmd.Wait(); werr != nil {
		return nil, fmt.Errorf("ask-pass helper %s: %w", program, werr)
	}
	return FromString(pc, trimNewline(line))
}
