// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/cosmicexplorer/zip/internal/record"
)

// Minimum reader versions advertised per feature.
const (
	versionDefault = 20
	versionZip64   = 45
	versionBZip2   = 46
	versionAES     = 51
	versionZstd    = 63
)

// Writer produces a ZIP archive on a streaming sink. Entries are
// written one at a time; Close writes the central directory and the
// end records.
type Writer struct {
	dest *byteCountWriter

	// Central directory records accumulate here until Close.
	cd         *bytebufferpool.ByteBuffer
	numEntries uint64

	comment string
	cur     *EntryWriter
	closed  bool

	factories   factoriesMap
	compressors compressorsMap
}

// NewWriter returns a Writer that emits the archive to dest starting at
// its current position.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{
		dest:        &byteCountWriter{dest: dest},
		cd:          bytebufferpool.Get(),
		factories:   make(factoriesMap),
		compressors: make(compressorsMap),
	}
}

// WriteStore is a random-access store an existing archive can be
// appended to. os.File satisfies it.
type WriteStore interface {
	io.ReaderAt
	io.WriteSeeker
}

// Append opens the existing archive in store and returns a Writer that
// adds entries after the last pre-existing one. The old central
// directory is overwritten; pre-existing payloads stay at their
// offsets and are carried into the new directory by raw record copy,
// never recompressed. The archive comment is preserved until replaced
// with SetComment.
func Append(store WriteStore, size int64, opts ...OpenOption) (*Writer, error) {
	a, err := Open(store, size, opts...)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dest:        &byteCountWriter{dest: store, count: int64(a.dirOffset)},
		cd:          bytebufferpool.Get(),
		numEntries:  uint64(len(a.entries)),
		comment:     a.comment,
		factories:   make(factoriesMap),
		compressors: make(compressorsMap),
	}
	for _, e := range a.entries {
		w.cd.Write(e.header.Encode())
	}

	if _, err := store.Seek(int64(a.dirOffset), io.SeekStart); err != nil {
		bytebufferpool.Put(w.cd)
		return nil, fmt.Errorf("zip: seeking to central directory: %w", err)
	}
	return w, nil
}

// RegisterCompressor installs a custom compressor factory for a
// method, replacing the built-in one if present.
func (w *Writer) RegisterCompressor(method CompressionMethod, factory CompressorFactory) {
	w.factories[method] = factory
}

func (w *Writer) compressor(method CompressionMethod, level int) (Compressor, error) {
	key := compressorKey{method: method, level: level}
	if c, ok := w.compressors[key]; ok {
		return c, nil
	}

	var c Compressor
	if factory, ok := w.factories[method]; ok {
		c = factory(level)
	} else {
		var err error
		if c, err = builtinCompressor(method, level); err != nil {
			return nil, err
		}
	}
	w.compressors[key] = c
	return c, nil
}

// SetComment sets the archive-level comment written with the end
// record.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > math.MaxUint16 {
		return ErrCommentTooLong
	}
	w.comment = comment
	return nil
}

// EntryOption configures one entry passed to Create.
type EntryOption func(*entryConfig)

type entryConfig struct {
	method     CompressionMethod
	level      int
	encryption EncryptionMethod
	password   []byte
	modified   time.Time
	comment    string
	mode       fs.FileMode
	streaming  bool
}

// WithMethod selects the entry's compression method.
func WithMethod(method CompressionMethod) EntryOption {
	return func(c *entryConfig) { c.method = method }
}

// WithLevel selects the compression level for methods that have one.
func WithLevel(level int) EntryOption {
	return func(c *entryConfig) { c.level = level }
}

// WithEncryption encrypts the entry. ZipCrypto is weak and should only
// be used for compatibility with old extractors.
func WithEncryption(method EncryptionMethod, password string) EntryOption {
	return func(c *entryConfig) {
		c.encryption = method
		c.password = []byte(password)
	}
}

// WithModTime sets the entry's modification time. The default is the
// time Create is called.
func WithModTime(t time.Time) EntryOption {
	return func(c *entryConfig) { c.modified = t }
}

// WithEntryComment attaches a central directory comment to the entry.
func WithEntryComment(comment string) EntryOption {
	return func(c *entryConfig) { c.comment = comment }
}

// WithMode sets the entry's Unix permission and mode bits.
func WithMode(mode fs.FileMode) EntryOption {
	return func(c *entryConfig) { c.mode = mode }
}

// WithStreaming writes the payload as it arrives instead of buffering
// it: the local header carries zero sizes and a data descriptor trails
// the payload. Streamed entries must stay below 4 GiB; buffer instead
// when they may not.
func WithStreaming() EntryOption {
	return func(c *entryConfig) { c.streaming = true }
}

// EntryWriter writes one entry's payload. Close finalizes the entry;
// Create and Writer.Close call it implicitly for a still-open entry.
type EntryWriter struct {
	w      *Writer
	cfg    entryConfig
	name   string
	flags  uint16
	isDir  bool
	crc    hash.Hash32
	nraw   uint64
	offset uint64
	closed bool

	// Buffered mode holds the raw payload until Close.
	raw *bytebufferpool.ByteBuffer

	// Streaming mode pushes through a pipe into the compressor.
	payload  *byteCountWriter
	pipe     *io.PipeWriter
	compDone chan error
}

// Create starts a new entry. A name with a trailing slash creates a
// directory entry that takes no payload. An entry still open from a
// previous Create is finalized first.
func (w *Writer) Create(name string, opts ...EntryOption) (*EntryWriter, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return nil, err
		}
	}
	if len(name) > math.MaxUint16 {
		return nil, ErrNameTooLong
	}
	if name == "" {
		return nil, fmt.Errorf("zip: empty entry name")
	}

	cfg := entryConfig{
		method:   Deflated,
		level:    DeflateNormal,
		modified: time.Now(),
		mode:     0644,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.comment) > math.MaxUint16 {
		return nil, ErrCommentTooLong
	}
	if cfg.encryption != NotEncrypted && len(cfg.password) == 0 {
		return nil, fmt.Errorf("%w: empty password", ErrEncryption)
	}

	ew := &EntryWriter{
		w:     w,
		cfg:   cfg,
		name:  name,
		isDir: strings.HasSuffix(name, "/"),
		crc:   crc32.NewIEEE(),
	}
	if ew.isDir {
		ew.cfg.method = Stored
		ew.cfg.encryption = NotEncrypted
		ew.cfg.mode |= fs.ModeDir
	}

	if !isASCII(name) || !isASCII(cfg.comment) {
		ew.flags |= utf8Flag
	}
	if ew.cfg.encryption != NotEncrypted {
		ew.flags |= 1
	}

	if cfg.streaming && !ew.isDir {
		ew.flags |= 0x8
		if err := ew.startStreaming(); err != nil {
			return nil, err
		}
	} else {
		ew.raw = bytebufferpool.Get()
	}

	w.cur = ew
	return ew, nil
}

func (ew *EntryWriter) Write(p []byte) (int, error) {
	if ew.closed {
		return 0, ErrWriterClosed
	}
	if ew.isDir {
		return 0, fmt.Errorf("zip: write to directory entry %q", ew.name)
	}

	ew.crc.Write(p)
	ew.nraw += uint64(len(p))

	if ew.pipe != nil {
		return ew.pipe.Write(p)
	}
	return ew.raw.Write(p)
}

// Close finalizes the entry: in buffered mode it compresses the held
// payload and writes the local header with real sizes; in streaming
// mode it flushes the compressor and writes the trailing data
// descriptor. Either way the central directory record is queued.
func (ew *EntryWriter) Close() error {
	if ew.closed {
		return ErrWriterClosed
	}
	ew.closed = true
	ew.w.cur = nil

	if ew.pipe != nil {
		return ew.finishStreaming()
	}
	defer bytebufferpool.Put(ew.raw)
	return ew.finishBuffered()
}

// localExtra builds the extra field blocks shared by both finalize
// modes: the extended timestamp, the AES envelope descriptor, and
// optionally a ZIP64 sizes block.
func (ew *EntryWriter) localExtra(zip64 bool, uncompressed, compressed uint64) []byte {
	var extra []byte

	ts := make([]byte, 5)
	ts[0] = 1 // modification time present
	binary.LittleEndian.PutUint32(ts[1:], uint32(ew.cfg.modified.Unix()))
	extra = record.AppendExtra(extra, record.ExtTimeExtraTag, ts)

	if isAES(ew.cfg.encryption) {
		strength, _, _ := aesStrength(ew.cfg.encryption)
		aesExtra := record.AESExtra{
			VendorVersion: ew.aesVendor(),
			Strength:      strength,
			Method:        uint16(ew.cfg.method),
		}
		extra = record.AppendExtra(extra, record.AESExtraTag, aesExtra.Encode())
	}

	if zip64 {
		z := make([]byte, 16)
		binary.LittleEndian.PutUint64(z[0:8], uncompressed)
		binary.LittleEndian.PutUint64(z[8:16], compressed)
		extra = record.AppendExtra(extra, record.Zip64ExtraTag, z)
	}
	return extra
}

func isAES(method EncryptionMethod) bool {
	return method == AES128 || method == AES192 || method == AES256
}

// aesVendor picks AE-1 or AE-2 for an AES entry. Streamed entries are
// always AE-2 since the size is unknown when the header goes out.
func (ew *EntryWriter) aesVendor() uint16 {
	if ew.cfg.streaming {
		return aesVersionFor(0, false)
	}
	return aesVersionFor(ew.nraw, true)
}

// headerMethod is the method stored in the headers: the AES marker
// hides the real method in the extra field.
func (ew *EntryWriter) headerMethod() uint16 {
	if isAES(ew.cfg.encryption) {
		return uint16(winZipAESMarker)
	}
	return uint16(ew.cfg.method)
}

// headerCRC is the checksum stored in the headers. AE-2 entries omit
// it; the HMAC authenticates the payload instead.
func (ew *EntryWriter) headerCRC() uint32 {
	if isAES(ew.cfg.encryption) && ew.aesVendor() == 2 {
		return 0
	}
	return ew.crc.Sum32()
}

func (ew *EntryWriter) readerVersion(zip64 bool) uint16 {
	v := uint16(versionDefault)
	if ew.cfg.method == BZip2 {
		v = versionBZip2
	}
	if ew.cfg.method == Zstandard || ew.cfg.method == XZ {
		v = versionZstd
	}
	if zip64 && v < versionZip64 {
		v = versionZip64
	}
	if isAES(ew.cfg.encryption) {
		v = versionAES
	}
	return v
}

// encrypt wraps dest in the configured encryption envelope, returning
// the writer payload bytes go to and a closer that appends any
// trailer. checkByte is used by the legacy cipher only.
func (ew *EntryWriter) encrypt(dest io.Writer, checkByte byte) (io.Writer, io.Closer, error) {
	switch {
	case ew.cfg.encryption == ZipCrypto:
		enc, err := newZipCryptoWriter(dest, ew.cfg.password, checkByte)
		return enc, nil, err
	case isAES(ew.cfg.encryption):
		enc, err := newAESWriter(dest, ew.cfg.password, ew.cfg.encryption)
		if err != nil {
			return nil, nil, err
		}
		return enc, enc, nil
	default:
		return dest, nil, nil
	}
}

func (ew *EntryWriter) finishBuffered() error {
	comp, err := ew.w.compressor(ew.cfg.method, ew.cfg.level)
	if err != nil {
		return err
	}

	payload := bytebufferpool.Get()
	defer bytebufferpool.Put(payload)

	// The checksum is known before any payload byte goes out, so the
	// legacy cipher verifies against the CRC high byte.
	dest, closer, err := ew.encrypt(payload, byte(ew.crc.Sum32()>>24))
	if err != nil {
		return err
	}
	if _, err := comp.Compress(bytes.NewReader(ew.raw.B), dest); err != nil {
		return fmt.Errorf("zip: compressing %q: %w", ew.name, err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return err
		}
	}

	compressed := uint64(payload.Len())
	uncompressed := ew.nraw
	zip64 := compressed >= uint64(record.Sentinel32) || uncompressed >= uint64(record.Sentinel32)

	dosDate, dosTime := record.TimeToDos(ew.cfg.modified)
	lfh := record.LocalFileHeader{
		ReaderVersion:    ew.readerVersion(zip64),
		Flags:            ew.flags,
		Method:           ew.headerMethod(),
		ModTime:          dosTime,
		ModDate:          dosDate,
		CRC32:            ew.headerCRC(),
		CompressedSize:   uint32(compressed),
		UncompressedSize: uint32(uncompressed),
		Name:             ew.name,
		Extra:            ew.localExtra(zip64, uncompressed, compressed),
	}
	if zip64 {
		lfh.CompressedSize = record.Sentinel32
		lfh.UncompressedSize = record.Sentinel32
	}

	ew.offset = uint64(ew.w.dest.count)
	if _, err := ew.w.dest.Write(lfh.Encode()); err != nil {
		return fmt.Errorf("zip: writing local header: %w", err)
	}
	if _, err := ew.w.dest.Write(payload.B); err != nil {
		return fmt.Errorf("zip: writing payload: %w", err)
	}

	return ew.queueCentralRecord(compressed, uncompressed)
}

// startStreaming writes the local header immediately with zero sizes
// and stands up a pipe feeding the compressor, which writes through
// the encryption envelope into the sink.
func (ew *EntryWriter) startStreaming() error {
	comp, err := ew.w.compressor(ew.cfg.method, ew.cfg.level)
	if err != nil {
		return err
	}

	dosDate, dosTime := record.TimeToDos(ew.cfg.modified)
	lfh := record.LocalFileHeader{
		ReaderVersion: ew.readerVersion(false),
		Flags:         ew.flags,
		Method:        ew.headerMethod(),
		ModTime:       dosTime,
		ModDate:       dosDate,
		Name:          ew.name,
		Extra:         ew.localExtra(false, 0, 0),
	}

	ew.offset = uint64(ew.w.dest.count)
	if _, err := ew.w.dest.Write(lfh.Encode()); err != nil {
		return fmt.Errorf("zip: writing local header: %w", err)
	}

	ew.payload = &byteCountWriter{dest: ew.w.dest}

	// The checksum is unknown up front, so the legacy cipher verifies
	// against the MS-DOS time high byte.
	dest, closer, err := ew.encrypt(ew.payload, byte(dosTime>>8))
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	ew.pipe = pw
	ew.compDone = make(chan error, 1)
	go func() {
		_, err := comp.Compress(pr, dest)
		if err == nil && closer != nil {
			err = closer.Close()
		}
		pr.CloseWithError(err)
		ew.compDone <- err
	}()
	return nil
}

func (ew *EntryWriter) finishStreaming() error {
	ew.pipe.Close()
	if err := <-ew.compDone; err != nil {
		return fmt.Errorf("zip: compressing %q: %w", ew.name, err)
	}

	compressed := uint64(ew.payload.count)
	uncompressed := ew.nraw
	if compressed >= uint64(record.Sentinel32) || uncompressed >= uint64(record.Sentinel32) {
		return fmt.Errorf("zip: entry %q too large for streaming; buffer it instead", ew.name)
	}

	desc := record.DataDescriptor{
		CRC32:            ew.headerCRC(),
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
	}
	if _, err := ew.w.dest.Write(desc.Encode(false)); err != nil {
		return fmt.Errorf("zip: writing data descriptor: %w", err)
	}

	return ew.queueCentralRecord(compressed, uncompressed)
}

// queueCentralRecord appends the entry's central directory record to
// the directory buffer written out at Close.
func (ew *EntryWriter) queueCentralRecord(compressed, uncompressed uint64) error {
	zip64Sizes := compressed >= uint64(record.Sentinel32) || uncompressed >= uint64(record.Sentinel32)
	zip64Offset := ew.offset >= uint64(record.Sentinel32)

	h := record.CentralDirHeader{
		CreatorVersion:   hostUnix<<8 | versionDefault,
		ReaderVersion:    ew.readerVersion(zip64Sizes || zip64Offset),
		Flags:            ew.flags,
		Method:           ew.headerMethod(),
		CRC32:            ew.headerCRC(),
		CompressedSize:   uint32(compressed),
		UncompressedSize: uint32(uncompressed),
		ExternalAttrs:    fsModeToUnix(ew.cfg.mode) << 16,
		Offset:           uint32(ew.offset),
		Name:             ew.name,
		Comment:          ew.cfg.comment,
	}
	h.ModDate, h.ModTime = record.TimeToDos(ew.cfg.modified)
	if ew.isDir {
		h.ExternalAttrs |= msdosDir
	}

	extra := ew.localExtra(false, 0, 0)
	if zip64Sizes || zip64Offset {
		// ZIP64 values appear in header field order, only for the
		// fields that carry the sentinel.
		var z []byte
		if zip64Sizes {
			z = binary.LittleEndian.AppendUint64(z, uncompressed)
			z = binary.LittleEndian.AppendUint64(z, compressed)
			h.UncompressedSize = record.Sentinel32
			h.CompressedSize = record.Sentinel32
		}
		if zip64Offset {
			z = binary.LittleEndian.AppendUint64(z, ew.offset)
			h.Offset = record.Sentinel32
		}
		extra = record.AppendExtra(extra, record.Zip64ExtraTag, z)
	}
	h.Extra = extra

	ew.w.cd.Write(h.Encode())
	ew.w.numEntries++
	return nil
}

// Close finalizes any open entry, writes the central directory and the
// end records. The underlying sink is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return err
		}
	}
	w.closed = true
	defer func() {
		bytebufferpool.Put(w.cd)
		w.cd = nil
	}()

	dirOffset := uint64(w.dest.count)
	dirSize := uint64(w.cd.Len())
	if _, err := w.dest.Write(w.cd.B); err != nil {
		return fmt.Errorf("zip: writing central directory: %w", err)
	}

	needs64 := w.numEntries >= uint64(record.Sentinel16) ||
		dirOffset >= uint64(record.Sentinel32) ||
		dirSize >= uint64(record.Sentinel32)
	if needs64 {
		end64 := record.Zip64EndOfCentralDir{
			CreatorVersion: hostUnix<<8 | versionZip64,
			ReaderVersion:  versionZip64,
			DiskEntries:    w.numEntries,
			TotalEntries:   w.numEntries,
			DirSize:        dirSize,
			DirOffset:      dirOffset,
		}
		end64Offset := uint64(w.dest.count)
		if _, err := w.dest.Write(end64.Encode()); err != nil {
			return fmt.Errorf("zip: writing zip64 end record: %w", err)
		}
		loc := record.Zip64Locator{Offset: end64Offset, TotalDisks: 1}
		if _, err := w.dest.Write(loc.Encode()); err != nil {
			return fmt.Errorf("zip: writing zip64 locator: %w", err)
		}
	}

	end := record.EndOfCentralDir{
		DiskEntries:  clamp16(w.numEntries),
		TotalEntries: clamp16(w.numEntries),
		DirSize:      clamp32(dirSize),
		DirOffset:    clamp32(dirOffset),
		Comment:      w.comment,
	}
	if _, err := w.dest.Write(end.Encode()); err != nil {
		return fmt.Errorf("zip: writing end record: %w", err)
	}
	return nil
}

func clamp16(v uint64) uint16 {
	if v >= uint64(record.Sentinel16) {
		return record.Sentinel16
	}
	return uint16(v)
}

func clamp32(v uint64) uint32 {
	if v >= uint64(record.Sentinel32) {
		return record.Sentinel32
	}
	return uint32(v)
}
