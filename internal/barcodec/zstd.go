package barcodec

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdStage compresses with klauspost/compress/zstd, the same library used
// for sealed-chunk compression and for streaming body compression.
type zstdStage struct {
	level zstd.EncoderLevel
}

// Zstd is the default compression Stage.
var Zstd Stage = zstdStage{level: zstd.SpeedDefault}

func (zstdStage) Name() string            { return "zstd" }
func (zstdStage) FixedBlock() (int, bool) { return 0, false }

func (z zstdStage) NewEncoder(w io.Writer) (Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, err
	}
	return &zstdEncoder{enc: enc}, nil
}

func (zstdStage) NewDecoder(r io.Reader) (Decoder, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	return &zstdDecoder{dec: dec}, nil
}

type zstdEncoder struct{ enc *zstd.Encoder }

func (e *zstdEncoder) Write(p []byte) (int, error) { return e.enc.Write(p) }
func (e *zstdEncoder) Flush() error                { return e.enc.Flush() }
func (e *zstdEncoder) Close() error                { return e.enc.Close() }

type zstdDecoder struct{ dec *zstd.Decoder }

func (d *zstdDecoder) Read(p []byte) (int, error) { return d.dec.Read(p) }
