// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"fmt"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressionMethod identifies the algorithm used for an entry's payload,
// using the method numbers assigned by the ZIP specification.
type CompressionMethod uint16

// Supported compression methods.
const (
	Stored    CompressionMethod = 0  // No compression - payload stored as-is
	Deflated  CompressionMethod = 8  // DEFLATE compression (most common)
	BZip2     CompressionMethod = 12 // BZIP2 compression
	Zstandard CompressionMethod = 93 // Zstandard compression
	XZ        CompressionMethod = 95 // XZ (LZMA2) compression
)

// Compression levels for the DEFLATE method.
const (
	DeflateNormal    = 6 // Default level (balance between speed and ratio)
	DeflateMaximum   = 9 // Best ratio, slowest
	DeflateFast      = 3 // Lower ratio, faster
	DeflateSuperFast = 1 // Lowest ratio, fastest
)

// CompressorFactory creates a Compressor for a specific compression
// level. Implementations should normalize invalid levels to defaults.
type CompressorFactory func(level int) Compressor

// Compressor transforms raw data into compressed data.
type Compressor interface {
	// Compress reads from src and writes compressed data to dest.
	// Returns the number of uncompressed bytes read.
	Compress(src io.Reader, dest io.Writer) (int64, error)
}

// Decompressor transforms compressed data back into raw data.
type Decompressor interface {
	// Decompress returns a stream of uncompressed data. Read errors from
	// the returned stream surface as ErrCorrupted when the compressed
	// bytes cannot be decoded.
	Decompress(src io.Reader) (io.ReadCloser, error)
}

type compressorKey struct {
	method CompressionMethod
	level  int
}

type factoriesMap map[CompressionMethod]CompressorFactory
type compressorsMap map[compressorKey]Compressor
type decompressorsMap map[CompressionMethod]Decompressor

func builtinDecompressors(custom decompressorsMap) decompressorsMap {
	m := make(decompressorsMap, len(custom)+5)
	m[Stored] = new(StoredDecompressor)
	m[Deflated] = new(DeflateDecompressor)
	m[BZip2] = new(BZip2Decompressor)
	m[Zstandard] = new(ZstdDecompressor)
	m[XZ] = new(XZDecompressor)
	for method, d := range custom {
		m[method] = d
	}
	return m
}

func builtinCompressor(method CompressionMethod, level int) (Compressor, error) {
	switch method {
	case Stored:
		return new(StoredCompressor), nil
	case Deflated:
		return NewDeflateCompressor(level), nil
	case BZip2:
		return NewBZip2Compressor(level), nil
	case Zstandard:
		return new(ZstdCompressor), nil
	case XZ:
		return new(XZCompressor), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, method)
	}
}

// StoredCompressor implements no compression (the Store method).
type StoredCompressor struct{}

func (sc *StoredCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	return io.Copy(dest, src)
}

// DeflateCompressor implements DEFLATE compression with writer pooling.
type DeflateCompressor struct {
	pool sync.Pool
}

// NewDeflateCompressor creates a reusable compressor for a specific level.
func NewDeflateCompressor(level int) *DeflateCompressor {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = DeflateNormal
	}
	return &DeflateCompressor{
		pool: sync.Pool{
			New: func() interface{} {
				w, _ := flate.NewWriter(io.Discard, level)
				return w
			},
		},
	}
}

func (d *DeflateCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	w := d.pool.Get().(*flate.Writer)
	defer d.pool.Put(w)

	w.Reset(dest)

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}

	return n, w.Close()
}

// BZip2Compressor implements BZIP2 compression.
type BZip2Compressor struct {
	level int
}

// NewBZip2Compressor creates a compressor for a specific level (1-9).
func NewBZip2Compressor(level int) *BZip2Compressor {
	if level < bzip2.BestSpeed || level > bzip2.BestCompression {
		level = bzip2.DefaultCompression
	}
	return &BZip2Compressor{level: level}
}

func (b *BZip2Compressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	w, err := bzip2.NewWriter(dest, &bzip2.WriterConfig{Level: b.level})
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}

	return n, w.Close()
}

// ZstdCompressor implements Zstandard compression.
type ZstdCompressor struct{}

func (z *ZstdCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	w, err := zstd.NewWriter(dest)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}

	return n, w.Close()
}

// XZCompressor implements XZ compression.
type XZCompressor struct{}

func (x *XZCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	w, err := xz.NewWriter(dest)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}

	return n, w.Close()
}

// StoredDecompressor implements the Store method (no compression).
type StoredDecompressor struct{}

func (sd *StoredDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	if rc, ok := src.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(src), nil
}

// DeflateDecompressor implements the Deflate method.
type DeflateDecompressor struct{}

func (dd *DeflateDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

// BZip2Decompressor implements the BZIP2 method.
type BZip2Decompressor struct{}

func (bd *BZip2Decompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	r, err := bzip2.NewReader(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return r, nil
}

// ZstdDecompressor implements the Zstandard method.
type ZstdDecompressor struct{}

func (zd *ZstdDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	r, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return r.IOReadCloser(), nil
}

// XZDecompressor implements the XZ method.
type XZDecompressor struct{}

func (xd *XZDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return io.NopCloser(r), nil
}
