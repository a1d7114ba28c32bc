// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/cosmicexplorer/zip/internal/record"
)

// Host systems recorded in the creator version high byte.
const (
	hostFAT  = 0
	hostUnix = 3
)

// MS-DOS external attribute bits.
const (
	msdosReadOnly = 0x01
	msdosDir      = 0x10
)

// Unix file type bits as stored in the external attributes high word.
const (
	sIFMT  = 0xf000
	sIFDIR = 0x4000
	sIFREG = 0x8000
	sIFLNK = 0xa000
	sISUID = 0x800
	sISGID = 0x400
	sISVTX = 0x200
)

// Entry describes one member of an archive. Entries are produced by the
// central directory index and stay valid for the lifetime of their
// Archive.
type Entry struct {
	// Name is the entry's path inside the archive, decoded to UTF-8.
	// Directory entries end with a slash.
	Name string

	// Comment is the entry's central directory comment.
	Comment string

	// Method is the compression method of the payload. For AES
	// encrypted entries this is the real method from the AES extra
	// field, not the method-99 marker.
	Method CompressionMethod

	// Encryption is how the payload is encrypted, if at all.
	Encryption EncryptionMethod

	// CRC32 is the checksum of the uncompressed payload. Zero for AE-2
	// AES entries, which omit it.
	CRC32 uint32

	// CompressedSize and UncompressedSize are the payload sizes with
	// any ZIP64 values already resolved. CompressedSize includes the
	// encryption envelope.
	CompressedSize   uint64
	UncompressedSize uint64

	// Modified is the modification time, preferring the extended
	// timestamp extra field over the two-second MS-DOS words.
	Modified time.Time

	archive   *Archive
	header    record.CentralDirHeader
	offset    uint64 // local header offset, ZIP64 resolved
	aesVendor uint16 // AE-1 or AE-2, zero when not AES
}

// newEntry builds an Entry from a decoded central directory header.
func newEntry(a *Archive, h record.CentralDirHeader) (*Entry, error) {
	uncompressed, compressed, offset := h.Zip64Values()

	e := &Entry{
		Name:             decodeText([]byte(h.Name), h.Flags, a.decoder),
		Comment:          decodeText([]byte(h.Comment), h.Flags, a.decoder),
		Method:           CompressionMethod(h.Method),
		CRC32:            h.CRC32,
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
		Modified:         record.ModTimeFromExtra(h.Extra, h.ModDate, h.ModTime),
		archive:          a,
		header:           h,
		offset:           offset,
	}

	if h.Flags&1 != 0 {
		e.Encryption = ZipCrypto
	}
	if e.Method == winZipAESMarker {
		data, ok := record.FindExtra(h.Extra, record.AESExtraTag)
		if !ok {
			return nil, fmt.Errorf("%w: AES entry without AES extra field", ErrMalformedHeader)
		}
		aesExtra, ok := record.DecodeAESExtra(data)
		if !ok {
			return nil, fmt.Errorf("%w: bad AES extra field", ErrMalformedHeader)
		}
		method, ok := aesMethodFromStrength(aesExtra.Strength)
		if !ok {
			return nil, fmt.Errorf("%w: AES key strength %d", ErrEncryption, aesExtra.Strength)
		}
		e.Encryption = method
		e.Method = CompressionMethod(aesExtra.Method)
		e.aesVendor = aesExtra.VendorVersion
	}

	return e, nil
}

// IsDir reports whether the entry is a directory: a trailing slash in
// the name, the MS-DOS directory bit, or the Unix directory type.
func (e *Entry) IsDir() bool {
	if strings.HasSuffix(e.Name, "/") {
		return true
	}
	switch e.header.CreatorVersion >> 8 {
	case hostUnix:
		return e.header.ExternalAttrs>>16&sIFMT == sIFDIR
	default:
		return e.header.ExternalAttrs&msdosDir != 0
	}
}

// Mode returns the entry's permission and mode bits mapped from the
// external attributes of its creator's host system.
func (e *Entry) Mode() fs.FileMode {
	var mode fs.FileMode

	switch e.header.CreatorVersion >> 8 {
	case hostUnix:
		mode = unixModeToFS(e.header.ExternalAttrs >> 16)
	default:
		mode = 0666
		if e.header.ExternalAttrs&msdosReadOnly != 0 {
			mode = 0444
		}
		if e.header.ExternalAttrs&msdosDir != 0 {
			mode |= fs.ModeDir | 0111
		}
	}
	if strings.HasSuffix(e.Name, "/") {
		mode |= fs.ModeDir
	}
	return mode
}

// sizeDeferred reports whether sizes and CRC were streamed to a data
// descriptor after the payload (general purpose bit 3).
func (e *Entry) sizeDeferred() bool {
	return e.header.Flags&0x8 != 0
}

func unixModeToFS(unix uint32) fs.FileMode {
	mode := fs.FileMode(unix & 0777)
	switch unix & sIFMT {
	case sIFDIR:
		mode |= fs.ModeDir
	case sIFLNK:
		mode |= fs.ModeSymlink
	}
	if unix&sISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if unix&sISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if unix&sISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func fsModeToUnix(mode fs.FileMode) uint32 {
	unix := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		unix |= sIFDIR
	case mode&fs.ModeSymlink != 0:
		unix |= sIFLNK
	default:
		unix |= sIFREG
	}
	if mode&fs.ModeSetuid != 0 {
		unix |= sISUID
	}
	if mode&fs.ModeSetgid != 0 {
		unix |= sISGID
	}
	if mode&fs.ModeSticky != 0 {
		unix |= sISVTX
	}
	return unix
}

// Stat returns an fs.FileInfo view of the entry.
func (e *Entry) Stat() fs.FileInfo { return entryInfo{e} }

type entryInfo struct{ e *Entry }

func (i entryInfo) Name() string       { return path.Base(strings.TrimSuffix(i.e.Name, "/")) }
func (i entryInfo) Size() int64        { return int64(i.e.UncompressedSize) }
func (i entryInfo) Mode() fs.FileMode  { return i.e.Mode() }
func (i entryInfo) ModTime() time.Time { return i.e.Modified }
func (i entryInfo) IsDir() bool        { return i.e.IsDir() }
func (i entryInfo) Sys() interface{}   { return i.e }
