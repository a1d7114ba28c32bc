// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package record implements the binary codec for the fixed ZIP record
// types: local file headers, data descriptors, central directory file
// headers, the end of central directory record, and their ZIP64
// extensions. All functions are pure byte transformations; callers own
// positioning and I/O.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Each record type is identified by a header signature. Signature values
// begin with the two byte constant marker 0x4b50, the characters "PK".
const (
	LocalFileSignature                   uint32 = 0x04034b50
	DataDescriptorSignature              uint32 = 0x08074b50
	CentralDirSignature                  uint32 = 0x02014b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
)

// Fixed record sizes, excluding variable-length trailers and, where
// noted, the leading signature.
const (
	LocalFileHeaderLen      = 30 // includes signature
	CentralDirHeaderLen     = 46 // includes signature
	EndOfCentralDirLen      = 22 // includes signature, excludes comment
	DataDescriptorLen       = 16 // includes optional signature, 32-bit sizes
	DataDescriptor64Len     = 24 // includes optional signature, 64-bit sizes
	Zip64EndOfCentralDirLen = 56
	Zip64LocatorLen         = 20
)

// Extra field tags understood by this package. Unknown tags are skipped,
// never rejected.
const (
	Zip64ExtraTag   uint16 = 0x0001
	NTFSExtraTag    uint16 = 0x000A
	ExtTimeExtraTag uint16 = 0x5455
	AESExtraTag     uint16 = 0x9901
)

// Sentinel values indicating that the real size, offset or count lives in
// a ZIP64 record.
const (
	Sentinel16 uint16 = math.MaxUint16
	Sentinel32 uint32 = math.MaxUint32
)

// ErrSignature is returned when a decoded record does not start with the
// signature expected for its type.
var ErrSignature = errors.New("record: signature mismatch")

// LocalFileHeader is the per-entry header immediately preceding the
// entry's payload bytes.
type LocalFileHeader struct {
	ReaderVersion    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Name             string
	Extra            []byte
}

// Encode serializes the header, its name and its extra field.
func (h LocalFileHeader) Encode() []byte {
	buf := make([]byte, LocalFileHeaderLen+len(h.Name)+len(h.Extra))

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.ReaderVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], h.ModTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.Extra)))

	copy(buf[LocalFileHeaderLen:], h.Name)
	copy(buf[LocalFileHeaderLen+len(h.Name):], h.Extra)

	return buf
}

// DecodeLocalFileHeader reads one local file header, including its name
// and extra field, from src. ErrSignature is returned when the record
// does not start with PK\x03\x04.
func DecodeLocalFileHeader(src io.Reader) (LocalFileHeader, error) {
	var buf [LocalFileHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read local header: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != LocalFileSignature {
		return LocalFileHeader{}, fmt.Errorf("%w: want local file header", ErrSignature)
	}

	h := LocalFileHeader{
		ReaderVersion:    binary.LittleEndian.Uint16(buf[4:6]),
		Flags:            binary.LittleEndian.Uint16(buf[6:8]),
		Method:           binary.LittleEndian.Uint16(buf[8:10]),
		ModTime:          binary.LittleEndian.Uint16(buf[10:12]),
		ModDate:          binary.LittleEndian.Uint16(buf[12:14]),
		CRC32:            binary.LittleEndian.Uint32(buf[14:18]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[18:22]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[22:26]),
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(buf[28:30]))

	trailer := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(src, trailer); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read local header trailer: %w", err)
	}
	h.Name = string(trailer[:nameLen])
	h.Extra = trailer[nameLen:]

	return h, nil
}

// DataDescriptor trails an entry's payload when sizes and CRC were not
// known while the payload streamed out. The leading signature is optional
// in the wild; this codec always writes it and tolerates its absence on
// decode.
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// Encode serializes the descriptor. When zip64 is set the size fields are
// 8 bytes wide, matching a local header that carried a ZIP64 extra field.
func (d DataDescriptor) Encode(zip64 bool) []byte {
	if zip64 {
		buf := make([]byte, DataDescriptor64Len)
		binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
		binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
		binary.LittleEndian.PutUint64(buf[8:16], d.CompressedSize)
		binary.LittleEndian.PutUint64(buf[16:24], d.UncompressedSize)
		return buf
	}
	buf := make([]byte, DataDescriptorLen)
	binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.CompressedSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.UncompressedSize))
	return buf
}

// DecodeDataDescriptor reads one descriptor from src, accepting both the
// signed and the signature-less historical layouts.
func DecodeDataDescriptor(src io.Reader, zip64 bool) (DataDescriptor, error) {
	fixed := 12
	if zip64 {
		fixed = 20
	}
	buf := make([]byte, fixed+4)
	if _, err := io.ReadFull(src, buf[:fixed]); err != nil {
		return DataDescriptor{}, fmt.Errorf("read data descriptor: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) == DataDescriptorSignature {
		// Signed layout: the fields start after the signature.
		if _, err := io.ReadFull(src, buf[fixed:]); err != nil {
			return DataDescriptor{}, fmt.Errorf("read data descriptor: %w", err)
		}
		buf = buf[4:]
	} else {
		buf = buf[:fixed]
	}

	d := DataDescriptor{CRC32: binary.LittleEndian.Uint32(buf[0:4])}
	if zip64 {
		d.CompressedSize = binary.LittleEndian.Uint64(buf[4:12])
		d.UncompressedSize = binary.LittleEndian.Uint64(buf[12:20])
	} else {
		d.CompressedSize = uint64(binary.LittleEndian.Uint32(buf[4:8]))
		d.UncompressedSize = uint64(binary.LittleEndian.Uint32(buf[8:12]))
	}
	return d, nil
}

// CentralDirHeader is one entry of the archive-wide index stored near the
// end of the file.
type CentralDirHeader struct {
	CreatorVersion   uint16
	ReaderVersion    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	DiskNumber       uint16
	InternalAttrs    uint16
	ExternalAttrs    uint32
	Offset           uint32
	Name             string
	Extra            []byte
	Comment          string
}

// Encode serializes the header with its name, extra field and comment.
func (h CentralDirHeader) Encode() []byte {
	buf := make([]byte, CentralDirHeaderLen+len(h.Name)+len(h.Extra)+len(h.Comment))

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.CreatorVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.ReaderVersion)
	binary.LittleEndian.PutUint16(buf[8:10], h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.Method)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModTime)
	binary.LittleEndian.PutUint16(buf[14:16], h.ModDate)
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(h.Extra)))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(len(h.Comment)))
	binary.LittleEndian.PutUint16(buf[34:36], h.DiskNumber)
	binary.LittleEndian.PutUint16(buf[36:38], h.InternalAttrs)
	binary.LittleEndian.PutUint32(buf[38:42], h.ExternalAttrs)
	binary.LittleEndian.PutUint32(buf[42:46], h.Offset)

	n := CentralDirHeaderLen
	n += copy(buf[n:], h.Name)
	n += copy(buf[n:], h.Extra)
	copy(buf[n:], h.Comment)

	return buf
}

// DecodeCentralDirHeader reads one central directory file header,
// including its variable-length trailer, from src.
func DecodeCentralDirHeader(src io.Reader) (CentralDirHeader, error) {
	var buf [CentralDirHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return CentralDirHeader{}, fmt.Errorf("read central header: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != CentralDirSignature {
		return CentralDirHeader{}, fmt.Errorf("%w: want central directory header", ErrSignature)
	}

	h := CentralDirHeader{
		CreatorVersion:   binary.LittleEndian.Uint16(buf[4:6]),
		ReaderVersion:    binary.LittleEndian.Uint16(buf[6:8]),
		Flags:            binary.LittleEndian.Uint16(buf[8:10]),
		Method:           binary.LittleEndian.Uint16(buf[10:12]),
		ModTime:          binary.LittleEndian.Uint16(buf[12:14]),
		ModDate:          binary.LittleEndian.Uint16(buf[14:16]),
		CRC32:            binary.LittleEndian.Uint32(buf[16:20]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[20:24]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[24:28]),
		DiskNumber:       binary.LittleEndian.Uint16(buf[34:36]),
		InternalAttrs:    binary.LittleEndian.Uint16(buf[36:38]),
		ExternalAttrs:    binary.LittleEndian.Uint32(buf[38:42]),
		Offset:           binary.LittleEndian.Uint32(buf[42:46]),
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:34]))

	trailer := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(src, trailer); err != nil {
		return CentralDirHeader{}, fmt.Errorf("read central header trailer: %w", err)
	}
	h.Name = string(trailer[:nameLen])
	h.Extra = trailer[nameLen : nameLen+extraLen]
	h.Comment = string(trailer[nameLen+extraLen:])

	return h, nil
}

// EndOfCentralDir closes the archive. A variable-length comment may
// follow it, which is why it has to be located by a backward signature
// scan.
type EndOfCentralDir struct {
	DiskNumber    uint16
	DirDiskNumber uint16
	DiskEntries   uint16
	TotalEntries  uint16
	DirSize       uint32
	DirOffset     uint32
	Comment       string
}

// Encode serializes the record with its comment.
func (e EndOfCentralDir) Encode() []byte {
	buf := make([]byte, EndOfCentralDirLen+len(e.Comment))

	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], e.DiskNumber)
	binary.LittleEndian.PutUint16(buf[6:8], e.DirDiskNumber)
	binary.LittleEndian.PutUint16(buf[8:10], e.DiskEntries)
	binary.LittleEndian.PutUint16(buf[10:12], e.TotalEntries)
	binary.LittleEndian.PutUint32(buf[12:16], e.DirSize)
	binary.LittleEndian.PutUint32(buf[16:20], e.DirOffset)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(e.Comment)))

	copy(buf[EndOfCentralDirLen:], e.Comment)

	return buf
}

// DecodeEndOfCentralDir reads the record from src. src must be positioned
// at the signature.
func DecodeEndOfCentralDir(src io.Reader) (EndOfCentralDir, error) {
	var buf [EndOfCentralDirLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return EndOfCentralDir{}, fmt.Errorf("read end record: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != EndOfCentralDirSignature {
		return EndOfCentralDir{}, fmt.Errorf("%w: want end of central directory", ErrSignature)
	}

	e := EndOfCentralDir{
		DiskNumber:    binary.LittleEndian.Uint16(buf[4:6]),
		DirDiskNumber: binary.LittleEndian.Uint16(buf[6:8]),
		DiskEntries:   binary.LittleEndian.Uint16(buf[8:10]),
		TotalEntries:  binary.LittleEndian.Uint16(buf[10:12]),
		DirSize:       binary.LittleEndian.Uint32(buf[12:16]),
		DirOffset:     binary.LittleEndian.Uint32(buf[16:20]),
	}

	commentLen := int(binary.LittleEndian.Uint16(buf[20:22]))
	if commentLen > 0 {
		comment := make([]byte, commentLen)
		if _, err := io.ReadFull(src, comment); err != nil {
			return EndOfCentralDir{}, fmt.Errorf("read end record comment: %w", err)
		}
		e.Comment = string(comment)
	}

	return e, nil
}

// Zip64EndOfCentralDir carries the 64-bit entry counts and directory
// geometry when any of them overflows the classic record.
type Zip64EndOfCentralDir struct {
	CreatorVersion uint16
	ReaderVersion  uint16
	DiskNumber     uint32
	DirDiskNumber  uint32
	DiskEntries    uint64
	TotalEntries   uint64
	DirSize        uint64
	DirOffset      uint64
}

// Encode serializes the record with the fixed 44-byte remaining-size
// field required by the format.
func (e Zip64EndOfCentralDir) Encode() []byte {
	buf := make([]byte, Zip64EndOfCentralDirLen)

	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirSignature)
	binary.LittleEndian.PutUint64(buf[4:12], Zip64EndOfCentralDirLen-12)
	binary.LittleEndian.PutUint16(buf[12:14], e.CreatorVersion)
	binary.LittleEndian.PutUint16(buf[14:16], e.ReaderVersion)
	binary.LittleEndian.PutUint32(buf[16:20], e.DiskNumber)
	binary.LittleEndian.PutUint32(buf[20:24], e.DirDiskNumber)
	binary.LittleEndian.PutUint64(buf[24:32], e.DiskEntries)
	binary.LittleEndian.PutUint64(buf[32:40], e.TotalEntries)
	binary.LittleEndian.PutUint64(buf[40:48], e.DirSize)
	binary.LittleEndian.PutUint64(buf[48:56], e.DirOffset)

	return buf
}

// DecodeZip64EndOfCentralDir reads the record from src. src must be
// positioned at the signature.
func DecodeZip64EndOfCentralDir(src io.Reader) (Zip64EndOfCentralDir, error) {
	var buf [Zip64EndOfCentralDirLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDir{}, fmt.Errorf("read zip64 end record: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != Zip64EndOfCentralDirSignature {
		return Zip64EndOfCentralDir{}, fmt.Errorf("%w: want zip64 end of central directory", ErrSignature)
	}

	return Zip64EndOfCentralDir{
		CreatorVersion: binary.LittleEndian.Uint16(buf[12:14]),
		ReaderVersion:  binary.LittleEndian.Uint16(buf[14:16]),
		DiskNumber:     binary.LittleEndian.Uint32(buf[16:20]),
		DirDiskNumber:  binary.LittleEndian.Uint32(buf[20:24]),
		DiskEntries:    binary.LittleEndian.Uint64(buf[24:32]),
		TotalEntries:   binary.LittleEndian.Uint64(buf[32:40]),
		DirSize:        binary.LittleEndian.Uint64(buf[40:48]),
		DirOffset:      binary.LittleEndian.Uint64(buf[48:56]),
	}, nil
}

// Zip64Locator points from the classic end record back to the ZIP64 end
// record.
type Zip64Locator struct {
	DirDiskNumber uint32
	Offset        uint64
	TotalDisks    uint32
}

// Encode serializes the locator.
func (l Zip64Locator) Encode() []byte {
	buf := make([]byte, Zip64LocatorLen)

	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirLocatorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], l.DirDiskNumber)
	binary.LittleEndian.PutUint64(buf[8:16], l.Offset)
	binary.LittleEndian.PutUint32(buf[16:20], l.TotalDisks)

	return buf
}

// DecodeZip64Locator reads the locator from src. src must be positioned
// at the signature.
func DecodeZip64Locator(src io.Reader) (Zip64Locator, error) {
	var buf [Zip64LocatorLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64Locator{}, fmt.Errorf("read zip64 locator: %w", err)
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != Zip64EndOfCentralDirLocatorSignature {
		return Zip64Locator{}, fmt.Errorf("%w: want zip64 end of central directory locator", ErrSignature)
	}

	return Zip64Locator{
		DirDiskNumber: binary.LittleEndian.Uint32(buf[4:8]),
		Offset:        binary.LittleEndian.Uint64(buf[8:16]),
		TotalDisks:    binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// Time conversion between Go time and the 16+16-bit MS-DOS packing used
// by every fixed record. Resolution is two seconds; the representable
// range is 1980-2107.

// TimeToDos packs t into MS-DOS date and time words.
func TimeToDos(t time.Time) (dosDate, dosTime uint16) {
	year := min(max(t.Year()-1980, 0), 127)

	dosDate = uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return dosDate, dosTime
}

// DosToTime unpacks MS-DOS date and time words. Out-of-range month and
// day fields are clamped rather than rejected; archives in the wild carry
// zeroed timestamps.
func DosToTime(dosDate, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}
