package bararchive

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barchunk"
	"barchive/internal/barcodec"
	"barchive/internal/barconfig"
	"barchive/internal/barerr"
	"barchive/internal/barhandle"
	"barchive/internal/barstorage"
)

// Writer streams entries into one or more chunk-framed archive volumes,
// rotating to a new storage object before the next chunk once the current
// volume's on-disk size has reached VolumeMaxBytes.
// Only the BAR0 header chunk is written raw; every other chunk (RESM,
// entries, DATA/SPRS, CONT, SIGN) has its body sealed through its own,
// independent run of the codec pipeline before being framed, so a chunk's
// CRC covers exactly the bytes landing on disk for that chunk and nothing
// else.
type Writer struct {
	storage  barstorage.Adapter
	baseName string
	cfg      WriterConfig
	key      []byte // nil when encryption is none
	salt     []byte
	pipe     *barcodec.Pipeline

	ctx context.Context

	volumeIndex int
	tempPath    string
	tempFile    *os.File
	physical    *countingWriter // on-disk bytes written to the current volume so far
	digest      hash.Hash       // sha256 over the volume's on-disk bytes, signed at volume end
	out         io.Writer       // physical, teed into digest; every chunk is written here

	entryOpen bool
	sealed    bool // true once this volume's SIGN chunk (if any) is written and tempFile is closed
	results   []VolumeResult
}

// Create opens the first archive volume named name (subsequent volumes are
// named name+".partNNNN") against storage, ready for BeginEntry.
func Create(storage barstorage.Adapter, name string, cfg WriterConfig) (*Writer, error) {
	if cfg.VolumeMaxBytes <= 0 {
		return nil, fmt.Errorf("archive writer: %w: volume_max_bytes must be positive", barerr.ErrInvalidPattern)
	}

	w := &Writer{storage: storage, baseName: name, cfg: cfg, ctx: context.Background()}

	if cfg.Encryption != barconfig.EncryptionNone && cfg.Encryption != "" {
		salt := make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		w.salt = salt
		w.key = barcodec.DeriveKey(cfg.Password, salt, encryptionKeyLen)
	}

	pipe, err := buildPipeline(cfg.Compression, cfg.Encryption, w.key)
	if err != nil {
		return nil, err
	}
	w.pipe = pipe

	if err := w.openVolume(""); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) volumeName(index int) string {
	if index == 0 {
		return w.baseName
	}
	return fmt.Sprintf("%s.part%04d", w.baseName, index)
}

// openVolume creates a fresh temp file and writes its raw BAR0 header.
// resumeOf, when non-empty, names the predecessor volume and is written as
// a sealed RESM chunk.
func (w *Writer) openVolume(resumeOf string) error {
	f, err := os.CreateTemp("", "barchive-vol-*")
	if err != nil {
		return fmt.Errorf("create volume temp file: %w", err)
	}
	w.tempFile = f
	w.tempPath = f.Name()
	w.physical = &countingWriter{w: f}
	w.digest = sha256.New()
	w.out = io.MultiWriter(w.physical, w.digest)
	w.sealed = false

	header := bar0Header{
		VersionMajor:  headerVersionMajor,
		VersionMinor:  headerVersionMinor,
		CompressionID: compressionID(w.cfg.Compression),
		EncryptionID:  encryptionID(w.cfg.Encryption),
		Salt:          w.salt,
	}
	hdrBody, err := msgpack.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode BAR0 header: %w", err)
	}
	// BAR0 is the one chunk the reader needs before it can even build a
	// codec pipeline (it carries the algorithm IDs and salt), so it is
	// written raw rather than sealed.
	if err := barchunk.WriteChunk(w.out, barchunk.TypeHeader, true, hdrBody); err != nil {
		return fmt.Errorf("write BAR0 chunk: %w", err)
	}

	if resumeOf != "" {
		if err := w.writeSealedChunk(barchunk.TypeResume, []byte(resumeOf)); err != nil {
			return fmt.Errorf("write RESM chunk: %w", err)
		}
	}
	return nil
}

// bar0Header is the msgpack-encoded body of a BAR0 chunk.
type bar0Header struct {
	VersionMajor  byte
	VersionMinor  byte
	CompressionID byte
	EncryptionID  byte
	Salt          []byte
}

// countingWriter tracks how many raw bytes have landed in the underlying
// writer, used to decide when a volume has grown past VolumeMaxBytes.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeSealedChunk seals body through one complete run of the volume's
// codec pipeline, then frames the sealed bytes as typ with a CRC over
// exactly those bytes — the bytes landing on disk for this chunk.
func (w *Writer) writeSealedChunk(typ barchunk.Type, body []byte) error {
	sealed, err := sealBody(w.pipe, body)
	if err != nil {
		return fmt.Errorf("seal %s chunk: %w", typ, err)
	}
	return barchunk.WriteChunk(w.out, typ, true, sealed)
}

// sealBody encodes body through a fresh encoder of pipe and returns the
// complete sealed byte stream, including whatever trailing bytes the
// pipeline's Close appends (AEAD terminal markers, compressor flush). A
// fresh encoder per call means every chunk's sealed bytes decode on their
// own, independent of any chunk written before or after it.
func sealBody(pipe *barcodec.Pipeline, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	cw, err := pipe.Writer(&buf)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if _, err := cw.Write(body); err != nil {
			return nil, err
		}
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BeginEntry starts a new entry: meta is msgpack-encoded into the entry's
// type chunk (FILE/IMAG/DIRE/LINK/HLNK/SPEC).
func (w *Writer) BeginEntry(kind EntryKind, meta Metadata) error {
	if w.entryOpen {
		return fmt.Errorf("archive writer: %w: previous entry not ended", barerr.ErrConflict)
	}
	name, ok := entryChunkKind(kind)
	if !ok {
		return fmt.Errorf("archive writer: unknown entry kind %d", kind)
	}
	body, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode entry metadata: %w", err)
	}
	if err := w.writeSealedChunk(barchunk.NewType(name), body); err != nil {
		return fmt.Errorf("write entry chunk: %w", err)
	}
	w.entryOpen = true
	return nil
}

// WriteData streams p as one or more DATA/SPRS chunks, detecting runs of
// zero bytes at least sparseThreshold long and collapsing them to SPRS
// chunks instead of compressing/encrypting literal zeroes.
func (w *Writer) WriteData(p []byte) (int, error) {
	if !w.entryOpen {
		return 0, fmt.Errorf("archive writer: %w: no open entry", barerr.ErrConflict)
	}
	total := len(p)
	for len(p) > 0 {
		if err := w.rotateIfNeeded(); err != nil {
			return total - len(p), err
		}
		zeroRun := leadingZeroRun(p)
		if zeroRun >= sparseThreshold {
			var lenBuf [10]byte
			n := putUvarint(lenBuf[:], uint64(zeroRun))
			if err := w.writeSealedChunk(barchunk.TypeSparse, lenBuf[:n]); err != nil {
				return total - len(p), err
			}
			p = p[zeroRun:]
			continue
		}
		// Consume up to the next zero run (or the rest of p) as one DATA chunk.
		end := nextZeroRunStart(p, sparseThreshold)
		chunk := p[:end]
		if err := w.writeSealedChunk(barchunk.TypeData, chunk); err != nil {
			return total - len(p), err
		}
		p = p[end:]
	}
	return total, nil
}

// rotateIfNeeded writes a CONT chunk naming the next volume and opens it,
// linked by RESM, when the current volume has grown past VolumeMaxBytes.
// Every chunk is sealed and written to the temp file as soon as it's
// produced, so physical.n always reflects the volume's true on-disk size
// at the time of the check.
func (w *Writer) rotateIfNeeded() error {
	if w.physical.n < w.cfg.VolumeMaxBytes {
		return nil
	}
	next := w.volumeName(w.volumeIndex + 1)
	if err := w.writeSealedChunk(barchunk.TypeContinue, []byte(next)); err != nil {
		return fmt.Errorf("write CONT chunk: %w", err)
	}
	if err := w.finishVolume(); err != nil {
		return err
	}
	w.volumeIndex++
	return w.openVolume(w.volumeName(w.volumeIndex - 1))
}

// EndEntry closes the currently open entry. Entry boundaries carry no wire
// representation beyond the chunks already written; EndEntry only clears
// writer-side state.
func (w *Writer) EndEntry() error {
	if !w.entryOpen {
		return fmt.Errorf("archive writer: %w: no open entry", barerr.ErrConflict)
	}
	w.entryOpen = false
	return nil
}

// finishVolume appends a SIGN chunk (if configured) signing the volume's
// on-disk digest, closes the temp file, and ships it to storage. Sealing
// (the SIGN chunk plus closing tempFile) happens at most once per volume;
// a caller that retries a failed finishVolume call after a transient
// upload error re-attempts only the upload, against the same sealed
// tempFile, rather than appending a second SIGN chunk to it.
func (w *Writer) finishVolume() error {
	if !w.sealed {
		if len(w.cfg.SigningKey) > 0 {
			sum := w.digest.Sum(nil)
			sig := signDigest(w.cfg.SigningKey, sum)
			if err := w.writeSealedChunk(barchunk.TypeSignature, sig); err != nil {
				return fmt.Errorf("write SIGN chunk: %w", err)
			}
		}
		if err := w.tempFile.Close(); err != nil {
			return fmt.Errorf("close volume temp file: %w", err)
		}
		w.sealed = true
	}
	return w.uploadVolume()
}

// uploadVolume ships the sealed tempFile to storage. The local temp file is
// only removed after a successful Put: a volume that closed cleanly but
// failed to ship stays on local disk for the caller to retry.
func (w *Writer) uploadVolume() error {
	name := w.volumeName(w.volumeIndex)
	src, err := barhandle.Open(w.tempPath, barhandle.Read)
	if err != nil {
		return fmt.Errorf("reopen volume for upload: %w", err)
	}
	defer src.Close()

	if _, err := w.storage.Put(w.ctx, name, src, nil); err != nil {
		return fmt.Errorf("put volume %s: %w", name, err)
	}
	if err := os.Remove(w.tempPath); err != nil {
		return fmt.Errorf("remove volume temp file: %w", err)
	}
	w.results = append(w.results, VolumeResult{Name: name, Bytes: w.physical.n})
	return nil
}

// Close finalizes the current (final) volume and returns every volume
// written by this writer.
func (w *Writer) Close() ([]VolumeResult, error) {
	if w.entryOpen {
		return nil, fmt.Errorf("archive writer: %w: entry still open at close", barerr.ErrConflict)
	}
	if err := w.finishVolume(); err != nil {
		return w.results, err
	}
	return w.results, nil
}
