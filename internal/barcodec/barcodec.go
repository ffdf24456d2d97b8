// Package barcodec implements the codec pipeline (spec section 4.3): an
// ordered chain of compress / encrypt / integrity-tag stages composed into
// a single streaming Writer/Reader pair. Each Stage is independently
// testable and the Pipeline composes them in declaration order for
// encoding, reverse order for decoding.
package barcodec

import (
	"fmt"
	"io"

	"barchive/internal/barerr"
)

// Stage is one link of a codec pipeline: a pair of streaming encode/decode
// constructors. FixedBlock reports whether this stage requires input in
// fixed-size blocks (true for the AEAD stages, which operate per nonce-sized
// chunk); callers route writes through blockbuf when it is.
type Stage interface {
	Name() string
	FixedBlock() (size int, ok bool)
	NewEncoder(w io.Writer) (Encoder, error)
	NewDecoder(r io.Reader) (Decoder, error)
}

// Encoder is a single stage's streaming write side.
type Encoder interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Decoder is a single stage's streaming read side.
type Decoder interface {
	Read(p []byte) (int, error)
}

// Pipeline chains Stages: compress, then encrypt, then integrity-tag, for
// encoding; the reverse for decoding.
type Pipeline struct {
	stages []Stage
}

// New builds a Pipeline from stages in encode order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// pipelineWriter chains each stage's Encoder, writing through buffering
// adapters for any stage that demands fixed-size blocks.
type pipelineWriter struct {
	layers []io.WriteCloser // wire-nearest (last stage) first
	head   io.Writer        // what callers actually Write to
}

func (p *pipelineWriter) Write(b []byte) (int, error) { return p.head.Write(b) }

func (p *pipelineWriter) Close() error {
	// Close in declared stage order: closing the first stage (e.g.
	// compress) flushes its buffered bytes into the next stage's writer
	// (e.g. encrypt), which must itself still be open to receive them;
	// closing front-to-back lets each stage's trailing bytes (flush
	// padding, AEAD tag) land before the stage downstream of it finalizes.
	var firstErr error
	for i := len(p.layers) - 1; i >= 0; i-- {
		if err := p.layers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Writer builds the encode-side chain. Stages are declared in the order
// they transform data (e.g. compress, then encrypt): stages[0] is what the
// caller writes plaintext into, and its output feeds stages[1], and so on
// down to the wire. Each Encoder is adapted to io.WriteCloser, and any
// FixedBlock stage is preceded by a blockbuf accumulator.
func (p *Pipeline) Writer(w io.Writer) (io.WriteCloser, error) {
	cur := w
	// layers is built wire-first (last stage nearest w) so that Close, run
	// in reverse over layers, closes stages in declared (stage0-first)
	// order.
	layers := make([]io.WriteCloser, 0, len(p.stages))
	for i := len(p.stages) - 1; i >= 0; i-- {
		st := p.stages[i]
		enc, err := st.NewEncoder(cur)
		if err != nil {
			return nil, fmt.Errorf("codec stage %s: new encoder: %w", st.Name(), err)
		}
		wrapped := &encoderWriteCloser{enc: enc, name: st.Name()}
		var next io.WriteCloser = wrapped
		if size, ok := st.FixedBlock(); ok {
			next = newBlockBuf(wrapped, size)
		}
		layers = append(layers, next)
		cur = next
	}
	if len(layers) == 0 {
		return nopWriteCloser{w}, nil
	}
	return &pipelineWriter{layers: layers, head: cur}, nil
}

// Reader builds the decode-side chain in reverse stage order: the last
// stage applied at encode time is the first one undone at decode time.
func (p *Pipeline) Reader(r io.Reader) (io.Reader, error) {
	cur := r
	for i := len(p.stages) - 1; i >= 0; i-- {
		st := p.stages[i]
		dec, err := st.NewDecoder(cur)
		if err != nil {
			return nil, fmt.Errorf("codec stage %s: new decoder: %w", st.Name(), err)
		}
		cur = &decoderReader{dec: dec, name: st.Name()}
	}
	return cur, nil
}

type encoderWriteCloser struct {
	enc  Encoder
	name string
}

func (e *encoderWriteCloser) Write(p []byte) (int, error) { return e.enc.Write(p) }

func (e *encoderWriteCloser) Close() error {
	if err := e.enc.Flush(); err != nil {
		return fmt.Errorf("codec stage %s: flush: %w", e.name, err)
	}
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("codec stage %s: close: %w", e.name, err)
	}
	return nil
}

type decoderReader struct {
	dec  Decoder
	name string
}

func (d *decoderReader) Read(p []byte) (int, error) {
	n, err := d.dec.Read(p)
	if err != nil && err != io.EOF {
		if isAuthFailure(err) {
			return n, fmt.Errorf("codec stage %s: %w", d.name, barerr.ErrDecryptAuthFailure)
		}
		return n, fmt.Errorf("codec stage %s: %w", d.name, err)
	}
	return n, err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// isAuthFailure recognizes the stdlib/x-crypto AEAD "message authentication
// failed" sentinel, surfaced distinctly so C7's retry classifier treats
// tampered/misencrypted input as fatal rather than a transient I/O error.
func isAuthFailure(err error) bool {
	return err != nil && err.Error() == "cipher: message authentication failed"
}
