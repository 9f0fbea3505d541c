// Package compression compresses encoded profile batches before they are
// handed to a sink.
//
// Supported algorithms are none, gzip, deflate, snappy, s2, zstd and lz4,
// each with four levels (Fastest, Default, Better, Best). Algorithms that
// have no notion of levels ignore them.
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	payload, err := comp.Compress(encoded)
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip/Deflate.
// Ratio (best to worst): Zstd > Gzip/Deflate > Snappy/S2 > LZ4.
package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/stacksampler/pkg/errors"
	"github.com/ajitpratap0/stacksampler/pkg/pool"
)

// Algorithm names a compression algorithm.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
	Snappy  Algorithm = "snappy"
	S2      Algorithm = "s2"
	Zstd    Algorithm = "zstd"
	LZ4     Algorithm = "lz4"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{None, Gzip, Deflate, Snappy, S2, Zstd, LZ4}

// Level controls the speed/ratio trade-off.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// ParseLevel maps a config string to a Level. Unknown names yield Default
// and false.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "fastest":
		return Fastest, true
	case "", "default":
		return Default, true
	case "better":
		return Better, true
	case "best":
		return Best, true
	}
	return Default, false
}

// Compressor compresses and decompresses whole payloads. Implementations
// are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
	Level() Level
	// Extension is appended to object names, without the dot. It is empty
	// for None.
	Extension() string
}

// Config selects the algorithm and level.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// DefaultConfig returns zstd at the default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: Zstd, Level: Default}
}

// NewCompressor builds a compressor. A nil config selects DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{algorithm: config.Algorithm, level: config.Level}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, flateLevel: mapDeflateLevel(config.Level)}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case S2:
		return &s2Compressor{base}, nil
	case Zstd:
		return newZstdCompressor(base)
	case LZ4:
		return &lz4Compressor{baseCompressor: base, lz4Level: mapLZ4Level(config.Level)}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
}

func (bc *baseCompressor) Algorithm() Algorithm { return bc.algorithm }

func (bc *baseCompressor) Level() Level { return bc.level }

func (bc *baseCompressor) Extension() string {
	if bc.algorithm == None {
		return ""
	}
	return string(bc.algorithm)
}

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// writeThrough runs data through a streaming writer into a pooled buffer and
// returns a copy of the result.
func writeThrough(data []byte, wrap func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	w, err := wrap(buf)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create compressor")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "compression failed")
	}
	return pool.CopyBytes(buf), nil
}

// readThrough drains a streaming reader into a pooled buffer and returns a
// copy of the result.
func readThrough(r io.Reader) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r); err != nil { //nolint:gosec // payloads are produced by this process
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompression failed")
	}
	return pool.CopyBytes(buf), nil
}

type gzipCompressor struct {
	baseCompressor
	writers sync.Pool
}

func newGzipCompressor(base baseCompressor) *gzipCompressor {
	level := mapGzipLevel(base.level)
	gc := &gzipCompressor{baseCompressor: base}
	gc.writers.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writers.Get().(*gzip.Writer)
	defer gc.writers.Put(w)

	return writeThrough(data, func(dst io.Writer) (io.WriteCloser, error) {
		w.Reset(dst)
		return w, nil
	})
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid gzip stream")
	}
	defer r.Close()
	return readThrough(r)
}

type deflateCompressor struct {
	baseCompressor
	flateLevel int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	return writeThrough(data, func(dst io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(dst, dc.flateLevel)
	})
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return readThrough(r)
}

type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid snappy block")
	}
	return out, nil
}

type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	switch sc.level {
	case Better:
		return s2.EncodeBetter(nil, data), nil
	case Best:
		return s2.EncodeBest(nil, data), nil
	default:
		return s2.Encode(nil, data), nil
	}
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid s2 block")
	}
	return out, nil
}

type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// zstd EncodeAll and DecodeAll are safe for concurrent use, so one encoder
// and one decoder serve every caller.
func newZstdCompressor(base baseCompressor) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(mapZstdLevel(base.level)),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd decoder")
	}
	return &zstdCompressor{baseCompressor: base, encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid zstd frame")
	}
	return out, nil
}

type lz4Compressor struct {
	baseCompressor
	lz4Level lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	return writeThrough(data, func(dst io.Writer) (io.WriteCloser, error) {
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(lc.lz4Level)); err != nil {
			return nil, err
		}
		return w, nil
	})
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return readThrough(lz4.NewReader(bytes.NewReader(data)))
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Better:
		return lz4.Level7
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
