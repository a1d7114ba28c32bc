// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/cosmicexplorer/zip/internal/record"
)

// The end record is found by scanning backward from the end of the
// store. The scan is bounded by the largest possible comment plus the
// record itself.
const maxEndRecordScan = 65535 + record.EndOfCentralDirLen

// Archive is a read-only view of a ZIP file backed by a random-access
// store. It is safe for concurrent entry reads.
type Archive struct {
	src  io.ReaderAt
	size int64

	entries []*Entry
	byName  map[string]int
	comment string

	dirOffset uint64
	dirSize   uint64

	password      []byte
	decoder       TextDecoder
	decompressors decompressorsMap
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	password      []byte
	decoder       TextDecoder
	decompressors decompressorsMap
}

// WithPassword sets the password used to open encrypted entries.
func WithPassword(password string) OpenOption {
	return func(c *openConfig) { c.password = []byte(password) }
}

// WithTextDecoder replaces the decoder applied to names and comments
// that are not flagged as UTF-8. The default is CP437.
func WithTextDecoder(decoder TextDecoder) OpenOption {
	return func(c *openConfig) { c.decoder = decoder }
}

// WithDecompressor registers or replaces a decompressor for a method.
func WithDecompressor(method CompressionMethod, d Decompressor) OpenOption {
	return func(c *openConfig) {
		if c.decompressors == nil {
			c.decompressors = make(decompressorsMap)
		}
		c.decompressors[method] = d
	}
}

// Open reads the central directory from the last size bytes of src and
// builds the entry index. The index is built once; src must not change
// while the Archive is in use.
func Open(src io.ReaderAt, size int64, opts ...OpenOption) (*Archive, error) {
	var cfg openConfig
	cfg.decoder = CP437Decoder
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Archive{
		src:           src,
		size:          size,
		password:      cfg.password,
		decoder:       cfg.decoder,
		decompressors: builtinDecompressors(cfg.decompressors),
	}
	if err := a.readIndex(); err != nil {
		return nil, err
	}
	return a, nil
}

// FileArchive is an Archive over an opened file.
type FileArchive struct {
	*Archive
	f *os.File
}

// OpenFile opens the named file as an archive.
func OpenFile(name string, opts ...OpenOption) (*FileArchive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := Open(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileArchive{Archive: a, f: f}, nil
}

// Close closes the underlying file.
func (fa *FileArchive) Close() error {
	return fa.f.Close()
}

// Entries returns the archive's entries in central directory order.
// The returned slice is shared; callers must not modify it.
func (a *Archive) Entries() []*Entry {
	return a.entries
}

// ByName returns the entry with the given name. When the archive
// contains duplicates the last one wins, matching what sequential
// extractors leave on disk. ErrNotFound is returned for unknown names.
func (a *Archive) ByName(name string) (*Entry, error) {
	i, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a.entries[i], nil
}

// Comment returns the archive-level comment from the end record.
func (a *Archive) Comment() string {
	return a.comment
}

func (a *Archive) readIndex() error {
	end, endPos, err := a.findEndRecord()
	if err != nil {
		return err
	}
	a.comment = end.Comment

	if end.DiskNumber != end.DirDiskNumber {
		return ErrMultiDisk
	}

	totalEntries := uint64(end.TotalEntries)
	a.dirSize = uint64(end.DirSize)
	a.dirOffset = uint64(end.DirOffset)

	// Sentinel fields defer to the ZIP64 end record, reached through
	// the locator that directly precedes the classic end record.
	if end.TotalEntries == record.Sentinel16 ||
		end.DirSize == record.Sentinel32 ||
		end.DirOffset == record.Sentinel32 {
		end64, err := a.findZip64EndRecord(endPos)
		if err != nil {
			return err
		}
		if end64.DiskNumber != end64.DirDiskNumber {
			return ErrMultiDisk
		}
		totalEntries = end64.TotalEntries
		a.dirSize = end64.DirSize
		a.dirOffset = end64.DirOffset
	}

	if a.dirOffset+a.dirSize > uint64(a.size) {
		return fmt.Errorf("%w: directory extends past end of store", ErrCorruptArchive)
	}

	src := bufio.NewReader(io.NewSectionReader(a.src, int64(a.dirOffset), int64(a.dirSize)))
	a.entries = make([]*Entry, 0, totalEntries)
	a.byName = make(map[string]int, totalEntries)

	for i := uint64(0); i < totalEntries; i++ {
		h, err := record.DecodeCentralDirHeader(src)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrCorruptArchive, i, err)
		}
		if h.DiskNumber != 0 && h.DiskNumber != record.Sentinel16 {
			return ErrMultiDisk
		}
		e, err := newEntry(a, h)
		if err != nil {
			return err
		}
		a.byName[e.Name] = len(a.entries)
		a.entries = append(a.entries, e)
	}

	return nil
}

// findEndRecord scans backward over the archive tail for the end of
// central directory signature and decodes the record it starts.
func (a *Archive) findEndRecord() (record.EndOfCentralDir, int64, error) {
	scanLen := int64(maxEndRecordScan)
	if scanLen > a.size {
		scanLen = a.size
	}
	if scanLen < record.EndOfCentralDirLen {
		return record.EndOfCentralDir{}, 0, fmt.Errorf("%w: store too small", ErrCorruptArchive)
	}

	tail := make([]byte, scanLen)
	tailPos := a.size - scanLen
	if _, err := a.src.ReadAt(tail, tailPos); err != nil {
		return record.EndOfCentralDir{}, 0, fmt.Errorf("zip: reading archive tail: %w", err)
	}

	for i := len(tail) - record.EndOfCentralDirLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:i+4]) != record.EndOfCentralDirSignature {
			continue
		}
		end, err := record.DecodeEndOfCentralDir(bytes.NewReader(tail[i:]))
		if err != nil {
			continue
		}
		// The comment must run exactly to the end of the store,
		// otherwise the signature was payload bytes.
		if i+record.EndOfCentralDirLen+len(end.Comment) != len(tail) {
			continue
		}
		return end, tailPos + int64(i), nil
	}

	return record.EndOfCentralDir{}, 0, fmt.Errorf("%w: end of central directory not found", ErrCorruptArchive)
}

func (a *Archive) findZip64EndRecord(endPos int64) (record.Zip64EndOfCentralDir, error) {
	locPos := endPos - record.Zip64LocatorLen
	if locPos < 0 {
		return record.Zip64EndOfCentralDir{}, fmt.Errorf("%w: zip64 locator missing", ErrCorruptArchive)
	}

	loc, err := record.DecodeZip64Locator(io.NewSectionReader(a.src, locPos, record.Zip64LocatorLen))
	if err != nil {
		return record.Zip64EndOfCentralDir{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if loc.TotalDisks > 1 {
		return record.Zip64EndOfCentralDir{}, ErrMultiDisk
	}

	end64, err := record.DecodeZip64EndOfCentralDir(
		io.NewSectionReader(a.src, int64(loc.Offset), record.Zip64EndOfCentralDirLen))
	if err != nil {
		return record.Zip64EndOfCentralDir{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return end64, nil
}

// Open returns a reader over the entry's uncompressed payload. The
// CRC-32 is verified only once the payload has been read to EOF.
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.open(nil)
}

// open builds the decrypt-then-decompress pipeline. When ctx is
// non-nil, every store read checks cancellation first; the transforms
// between store and caller never block on anything else.
func (e *Entry) open(ctx context.Context) (io.ReadCloser, error) {
	lfh, headerSize, err := e.readLocalHeader()
	if err != nil {
		return nil, err
	}
	if err := e.crossCheck(lfh); err != nil {
		return nil, err
	}

	payloadStart := int64(e.offset) + headerSize
	if payloadStart+int64(e.CompressedSize) > e.archive.size {
		return nil, fmt.Errorf("%w: payload extends past end of store", ErrCorruptArchive)
	}

	var src io.Reader = io.NewSectionReader(e.archive.src, payloadStart, int64(e.CompressedSize))
	if ctx != nil {
		src = &contextReader{ctx: ctx, src: src}
	}

	src, err = e.decrypt(src)
	if err != nil {
		return nil, err
	}

	d, ok := e.archive.decompressors[e.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, e.Method)
	}
	rc, err := d.Decompress(src)
	if err != nil {
		return nil, err
	}

	cr := &checksumReader{
		rc:   rc,
		hash: crc32.NewIEEE(),
		want: e.CRC32,
		size: e.UncompressedSize,
		// AE-2 entries store no CRC; the HMAC covers integrity.
		verify: e.aesVendor != 2,
	}
	return cr, nil
}

func (e *Entry) readLocalHeader() (record.LocalFileHeader, int64, error) {
	src := bufio.NewReader(io.NewSectionReader(e.archive.src, int64(e.offset), e.archive.size-int64(e.offset)))
	lfh, err := record.DecodeLocalFileHeader(src)
	if err != nil {
		if errors.Is(err, record.ErrSignature) {
			return record.LocalFileHeader{}, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		return record.LocalFileHeader{}, 0, fmt.Errorf("zip: %w", err)
	}
	size := int64(record.LocalFileHeaderLen + len(lfh.Name) + len(lfh.Extra))
	return lfh, size, nil
}

// crossCheck compares the local header against the central directory
// record. The central record is authoritative; disagreement on the raw
// name, or on sizes and CRC when they were not deferred to a data
// descriptor, marks the entry inconsistent.
func (e *Entry) crossCheck(lfh record.LocalFileHeader) error {
	if lfh.Name != e.header.Name {
		return fmt.Errorf("%w: name %q vs %q", ErrInconsistentEntry, lfh.Name, e.header.Name)
	}
	if e.sizeDeferred() {
		return nil
	}
	if lfh.CRC32 != e.header.CRC32 {
		return fmt.Errorf("%w: checksum mismatch", ErrInconsistentEntry)
	}
	if lfh.CompressedSize != record.Sentinel32 && uint64(lfh.CompressedSize) != e.CompressedSize {
		return fmt.Errorf("%w: compressed size mismatch", ErrInconsistentEntry)
	}
	if lfh.UncompressedSize != record.Sentinel32 && uint64(lfh.UncompressedSize) != e.UncompressedSize {
		return fmt.Errorf("%w: uncompressed size mismatch", ErrInconsistentEntry)
	}
	return nil
}

func (e *Entry) decrypt(src io.Reader) (io.Reader, error) {
	if e.Encryption == NotEncrypted {
		return src, nil
	}
	if len(e.archive.password) == 0 {
		return nil, fmt.Errorf("%w: password required", ErrPasswordMismatch)
	}
	switch e.Encryption {
	case ZipCrypto:
		return newZipCryptoReader(src, e.archive.password, e.header.CRC32, e.header.ModTime)
	case AES128, AES192, AES256:
		return newAESReader(src, e.archive.password, e.Encryption, e.CompressedSize)
	default:
		return nil, fmt.Errorf("%w: method %d", ErrEncryption, e.Encryption)
	}
}

// checksumReader hashes the uncompressed payload as it passes through
// and verifies checksum and size once the stream is exhausted.
type checksumReader struct {
	rc     io.ReadCloser
	hash   hash.Hash32
	want   uint32
	size   uint64
	verify bool
	nread  uint64
	err    error
}

func (r *checksumReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	n, err := r.rc.Read(p)
	r.hash.Write(p[:n])
	r.nread += uint64(n)

	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		if r.nread != r.size {
			r.err = fmt.Errorf("%w: size mismatch", ErrCorrupted)
		} else if r.verify && r.hash.Sum32() != r.want {
			r.err = fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
		} else {
			r.err = io.EOF
		}
	default:
		r.err = wrapDecodeErr(err)
	}
	if n > 0 && r.err != io.EOF {
		// Deliver the bytes; the error surfaces on the next call.
		return n, nil
	}
	return n, r.err
}

func (r *checksumReader) Close() error {
	return r.rc.Close()
}

// wrapDecodeErr classifies a mid-stream failure: cancellation and the
// package's own sentinels pass through, anything else means the
// compressed bytes could not be decoded.
func wrapDecodeErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrCorrupted),
		errors.Is(err, ErrPasswordMismatch):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
}
