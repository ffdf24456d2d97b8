package bararchive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barchunk"
	"barchive/internal/barcodec"
	"barchive/internal/barconfig"
	"barchive/internal/barerr"
	"barchive/internal/barhandle"
	"barchive/internal/barstorage"
)

// knownChunkTypes is every chunk type nextChunk may encounter once past
// BAR0 (BAR0 itself is validated separately in openVolume, against its own
// single-entry type set). In strict mode (the ReaderConfig.Tolerant
// default) anything outside this set is rejected instead of skipped.
var knownChunkTypes = map[barchunk.Type]bool{
	barchunk.TypeContinue:    true,
	barchunk.TypeResume:      true,
	barchunk.TypeSalt:        true,
	barchunk.TypeKeyExchange: true,
	barchunk.TypeMeta:        true,
	barchunk.TypeFile:        true,
	barchunk.TypeImage:       true,
	barchunk.TypeDirectory:   true,
	barchunk.TypeLink:        true,
	barchunk.TypeHardlink:    true,
	barchunk.TypeSpecial:     true,
	barchunk.TypeSignature:   true,
	barchunk.TypeXAttr:       true,
	barchunk.TypeDeltaSource: true,
	barchunk.TypeData:        true,
	barchunk.TypeSparse:      true,
}

// chunkTok is one decoded chunk pulled off the volume: either consumed
// immediately by the caller, or buffered as a one-token lookahead when
// ReadData needs to recognize "this chunk ends the current entry" without
// losing it.
type chunkTok struct {
	hdr  barchunk.Header
	body []byte
}

// Reader walks an archive written by Writer, transparently following CONT
// chunks across volumes and verifying SIGN chunks as it encounters them.
type Reader struct {
	storage barstorage.Adapter
	cfg     ReaderConfig
	ctx     context.Context

	name   string
	handle barhandle.Handle
	digest hash.Hash
	raw    io.Reader // on-disk, digest-teed byte stream for the current volume
	pipe   *barcodec.Pipeline

	preChunkSum []byte // digest value immediately before the most recently read chunk
	peeked      *chunkTok

	pendingData []byte // literal bytes owed to the caller from an in-progress DATA chunk
	pendingZero int     // zero bytes owed to the caller from an in-progress SPRS chunk

	entryActive bool
	verified    bool
}

// Open fetches name from storage and positions a Reader at its first entry.
func Open(storage barstorage.Adapter, name string, cfg ReaderConfig) (*Reader, error) {
	r := &Reader{storage: storage, cfg: cfg, ctx: context.Background()}
	if err := r.openVolume(name); err != nil {
		return nil, err
	}
	return r, nil
}

// openVolume fetches name, reads and validates its raw BAR0 header, and
// builds the codec pipeline every later chunk in this volume seals its
// body through.
func (r *Reader) openVolume(name string) error {
	h, err := r.storage.Get(r.ctx, name)
	if err != nil {
		return fmt.Errorf("get volume %s: %w", name, err)
	}
	r.handle = h
	r.name = name
	r.digest = sha256.New()
	r.raw = io.TeeReader(h, r.digest)

	hdr, body, err := barchunk.ReadChunk(r.raw, false, map[barchunk.Type]bool{barchunk.TypeHeader: true})
	if err != nil {
		return fmt.Errorf("read BAR0 chunk of %s: %w", name, err)
	}
	if hdr.Type != barchunk.TypeHeader {
		return fmt.Errorf("archive reader: %w: volume %s does not start with BAR0", barerr.ErrCorruptArchive, name)
	}
	var bh bar0Header
	if err := msgpack.Unmarshal(body, &bh); err != nil {
		return fmt.Errorf("decode BAR0 header of %s: %w", name, err)
	}
	if bh.VersionMajor != headerVersionMajor {
		return fmt.Errorf("archive reader: %w: volume %s has unsupported format version %d.%d",
			barerr.ErrCorruptArchive, name, bh.VersionMajor, bh.VersionMinor)
	}

	comp := compressionFromID(bh.CompressionID)
	enc := encryptionFromID(bh.EncryptionID)
	var key []byte
	if enc != barconfig.EncryptionNone {
		key = barcodec.DeriveKey(r.cfg.Password, bh.Salt, encryptionKeyLen)
	}
	pipe, err := buildPipeline(comp, enc, key)
	if err != nil {
		return err
	}
	r.pipe = pipe

	// The digest accumulates BAR0's raw bytes (above) and then every
	// chunk's on-disk bytes read from r.raw, in the exact order and over
	// the exact bytes Writer folded into its own digest.
	r.preChunkSum = append([]byte(nil), r.digest.Sum(nil)...)
	return nil
}

// unsealBody reverses Writer.sealBody: physBody is one chunk's complete
// sealed byte stream as it sat on disk, decoded independently of any
// chunk around it.
func unsealBody(pipe *barcodec.Pipeline, physBody []byte) ([]byte, error) {
	cr, err := pipe.Reader(bytes.NewReader(physBody))
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(cr)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// nextChunk returns the next chunk meaningful to a caller (an entry chunk,
// DATA, or SPRS), transparently following CONT into the next volume and
// verifying SIGN chunks against the digest snapshot taken immediately
// before each one was read. Reading a chunk's body validates its CRC
// against the exact on-disk bytes for that chunk, then unseals those bytes
// through the volume's codec pipeline.
func (r *Reader) nextChunk() (*chunkTok, error) {
	for {
		if r.peeked != nil {
			t := r.peeked
			r.peeked = nil
			return t, nil
		}

		sumBefore := r.preChunkSum
		hdr, physBody, err := barchunk.ReadChunk(r.raw, r.cfg.Tolerant, knownChunkTypes)
		if err != nil {
			if err == io.EOF {
				if len(r.cfg.TrustedSigners) > 0 && !r.verified && !r.cfg.AllowUnverified {
					return nil, barerr.ErrUnverifiedSignature
				}
				return nil, io.EOF
			}
			return nil, fmt.Errorf("archive reader: read chunk from %s: %w", r.name, err)
		}
		r.preChunkSum = append([]byte(nil), r.digest.Sum(nil)...)

		if physBody == nil {
			// Tolerant-mode skip of an unknown chunk type: well-formed and
			// CRC-verified, but nothing this reader understands.
			continue
		}

		body, err := unsealBody(r.pipe, physBody)
		if err != nil {
			return nil, fmt.Errorf("archive reader: decode chunk %s of %s: %w", hdr.Type, r.name, err)
		}

		switch hdr.Type {
		case barchunk.TypeSignature:
			if r.verifySignature(body, sumBefore) {
				r.verified = true
			} else if !r.cfg.AllowUnverified {
				return nil, barerr.ErrUnverifiedSignature
			}
		case barchunk.TypeResume:
			// Informational linkage to the predecessor volume; nothing to do
			// on read, the Writer already ordered volumes correctly.
		case barchunk.TypeContinue:
			r.verified = false
			if err := r.openVolume(string(body)); err != nil {
				return nil, err
			}
		default:
			return &chunkTok{hdr: hdr, body: body}, nil
		}
	}
}

func (r *Reader) verifySignature(sig, digestSum []byte) bool {
	for _, pub := range r.cfg.TrustedSigners {
		if verifyDigest(pub, digestSum, sig) {
			return true
		}
	}
	return false
}

// NextEntry advances to the next entry, discarding any unread data from the
// previous one, and returns its metadata and kind. It returns io.EOF once
// the archive (all of its volumes) is exhausted.
func (r *Reader) NextEntry() (*Metadata, EntryKind, error) {
	if r.entryActive {
		if err := r.drainEntryData(); err != nil {
			return nil, 0, err
		}
	}
	for {
		tok, err := r.nextChunk()
		if err != nil {
			return nil, 0, err
		}
		kind, ok := kindFromChunkName(tok.hdr.Type.String())
		if !ok {
			// A DATA/SPRS chunk with no entry open is malformed; skip it
			// rather than failing the whole archive.
			continue
		}
		var meta Metadata
		if err := msgpack.Unmarshal(tok.body, &meta); err != nil {
			return nil, 0, fmt.Errorf("archive reader: decode entry metadata: %w", err)
		}
		r.entryActive = true
		r.pendingData = nil
		r.pendingZero = 0
		return &meta, kind, nil
	}
}

// drainEntryData discards whatever data remains for the current entry so
// NextEntry can move past it.
func (r *Reader) drainEntryData() error {
	var buf [32 * 1024]byte
	for {
		_, err := r.ReadData(buf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ReadData fills p with the current entry's data, reconstructing sparse
// runs as zero-fill, and returns io.EOF once the entry's data is exhausted
// (at the next entry chunk or true end of archive; a CONT chunk is followed
// into the next volume and the entry's data continues there).
func (r *Reader) ReadData(p []byte) (int, error) {
	if !r.entryActive {
		return 0, fmt.Errorf("archive reader: %w: no active entry", barerr.ErrConflict)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if r.pendingZero > 0 {
		n := len(p)
		if n > r.pendingZero {
			n = r.pendingZero
		}
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		r.pendingZero -= n
		return n, nil
	}
	if len(r.pendingData) > 0 {
		n := copy(p, r.pendingData)
		r.pendingData = r.pendingData[n:]
		return n, nil
	}

	tok, err := r.nextChunk()
	if err != nil {
		if err == io.EOF {
			r.entryActive = false
		}
		return 0, err
	}

	switch tok.hdr.Type {
	case barchunk.TypeData:
		n := copy(p, tok.body)
		if n < len(tok.body) {
			r.pendingData = tok.body[n:]
		}
		return n, nil
	case barchunk.TypeSparse:
		zeroLen, _ := binary.Uvarint(tok.body)
		n := len(p)
		if uint64(n) > zeroLen {
			n = int(zeroLen)
		}
		for i := 0; i < n; i++ {
			p[i] = 0
		}
		if remaining := zeroLen - uint64(n); remaining > 0 {
			r.pendingZero = int(remaining)
		}
		return n, nil
	default:
		// Any other chunk ends this entry's data; stash it for the next
		// NextEntry call and report the entry as exhausted.
		r.peeked = tok
		r.entryActive = false
		return 0, io.EOF
	}
}

// Close releases the underlying volume handle.
func (r *Reader) Close() error {
	if r.handle == nil {
		return nil
	}
	return r.handle.Close()
}

// Verified reports whether the most recently encountered SIGN chunk (if
// any) was validated against one of cfg.TrustedSigners.
func (r *Reader) Verified() bool { return r.verified }
