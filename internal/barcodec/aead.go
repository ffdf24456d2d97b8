package barcodec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"crypto/cipher"

	"barchive/internal/barerr"
)

// plainBlockSize is the plaintext block size sealed stages buffer input
// into before encryption: large enough to amortize per-block AEAD
// overhead, small enough to keep per-chunk memory bounded.
const plainBlockSize = 64 << 10 // 64 KiB

// aeadStage adapts any cipher.AEAD into a codec Stage. Each plaintext block
// is sealed independently under a nonce derived from a per-stream random
// prefix plus a monotonically increasing block counter, so ciphertext
// blocks can be decoded independently without reconstructing prior state —
// the property the archive's chunked, seekable layout depends on. The
// stream ends with an explicit zero-length block marker, so a stage wired
// as the outermost (wire-adjacent) layer is self-delimiting: any bytes
// after the marker are never mistaken for another sealed block.
type aeadStage struct {
	name    string
	newAEAD func() (cipher.AEAD, error)
}

func (s aeadStage) Name() string            { return s.name }
func (s aeadStage) FixedBlock() (int, bool) { return plainBlockSize, true }

func (s aeadStage) NewEncoder(w io.Writer) (Encoder, error) {
	aead, err := s.newAEAD()
	if err != nil {
		return nil, err
	}
	prefix := make([]byte, aead.NonceSize())
	if len(prefix) > 0 {
		if _, err := io.ReadFull(rand.Reader, prefix); err != nil {
			return nil, fmt.Errorf("generate nonce prefix: %w", err)
		}
	}
	if _, err := w.Write(prefix); err != nil {
		return nil, fmt.Errorf("write nonce prefix: %w", err)
	}
	return &aeadEncoder{w: w, aead: aead, prefix: prefix}, nil
}

func (s aeadStage) NewDecoder(r io.Reader) (Decoder, error) {
	aead, err := s.newAEAD()
	if err != nil {
		return nil, err
	}
	prefix := make([]byte, aead.NonceSize())
	if len(prefix) > 0 {
		if _, err := io.ReadFull(r, prefix); err != nil {
			return nil, fmt.Errorf("read nonce prefix: %w", err)
		}
	}
	return &aeadDecoder{r: r, aead: aead, prefix: prefix}, nil
}

// blockNonce derives the nonce for block index i: the stream prefix with
// its trailing bytes XORed against a big-endian counter, so each block
// gets a distinct nonce under the same key without storing one per block.
// A zero-length prefix (the identity "none" stage) yields a zero-length
// nonce regardless of i.
func blockNonce(prefix []byte, i uint64) []byte {
	n := append([]byte(nil), prefix...)
	if len(n) == 0 {
		return n
	}
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], i)
	m := len(ctr)
	if m > len(n) {
		m = len(n)
	}
	off := len(n) - m
	for j := 0; j < m; j++ {
		n[off+j] ^= ctr[j]
	}
	return n
}

type aeadEncoder struct {
	w       io.Writer
	aead    cipher.AEAD
	prefix  []byte
	blockNo uint64
	closed  bool
}

// Write always seals p as exactly one block: callers route writes through
// blockbuf, which only ever delivers plainBlockSize-or-smaller final
// blocks.
func (e *aeadEncoder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	nonce := blockNonce(e.prefix, e.blockNo)
	e.blockNo++
	ct := e.aead.Seal(nil, nonce, p, nil)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))
	if _, err := e.w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (e *aeadEncoder) Flush() error { return nil }

// Close writes a terminal zero-length block marker so the decoder knows
// the sealed stream has ended without relying on the underlying reader
// reaching end-of-file.
func (e *aeadEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var lenBuf [4]byte
	_, err := e.w.Write(lenBuf[:])
	return err
}

type aeadDecoder struct {
	r       io.Reader
	aead    cipher.AEAD
	prefix  []byte
	blockNo uint64
	buf     []byte
	eof     bool
}

func (d *aeadDecoder) Read(p []byte) (int, error) {
	for len(d.buf) == 0 {
		if d.eof {
			return 0, io.EOF
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
			return 0, fmt.Errorf("read sealed block length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 {
			// Terminal marker: the sealed stream ends here, regardless of
			// whether the underlying reader has more bytes to give (they
			// belong to whatever framing wraps this codec stream).
			d.eof = true
			return 0, io.EOF
		}
		ct := make([]byte, n)
		if _, err := io.ReadFull(d.r, ct); err != nil {
			return 0, fmt.Errorf("read sealed block: %w", err)
		}
		nonce := blockNonce(d.prefix, d.blockNo)
		d.blockNo++
		pt, err := d.aead.Open(nil, nonce, ct, nil)
		if err != nil {
			return 0, barerr.ErrDecryptAuthFailure
		}
		d.buf = pt
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}
