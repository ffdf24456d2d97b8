package barcodec

import (
	"io"

	"github.com/andybalholm/brotli"
)

// brotliStage is the second compression option alongside zstd, using the
// same library a static-asset compression tool would reach for.
type brotliStage struct {
	quality int
}

// Brotli is the alternate compression Stage.
var Brotli Stage = brotliStage{quality: brotli.DefaultCompression}

func (brotliStage) Name() string            { return "brotli" }
func (brotliStage) FixedBlock() (int, bool) { return 0, false }

func (b brotliStage) NewEncoder(w io.Writer) (Encoder, error) {
	return &brotliEncoder{enc: brotli.NewWriterLevel(w, b.quality)}, nil
}

func (brotliStage) NewDecoder(r io.Reader) (Decoder, error) {
	return &brotliDecoder{dec: brotli.NewReader(r)}, nil
}

type brotliEncoder struct{ enc *brotli.Writer }

func (e *brotliEncoder) Write(p []byte) (int, error) { return e.enc.Write(p) }
func (e *brotliEncoder) Flush() error                { return e.enc.Flush() }
func (e *brotliEncoder) Close() error                { return e.enc.Close() }

type brotliDecoder struct{ dec *brotli.Reader }

func (d *brotliDecoder) Read(p []byte) (int, error) { return d.dec.Read(p) }
