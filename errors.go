// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import "errors"

var (
	// ErrMalformedHeader is returned when a record signature or structure
	// does not match the ZIP specification.
	ErrMalformedHeader = errors.New("zip: malformed header")

	// ErrCorruptArchive is returned when the central directory or end
	// record cannot be located or decoded.
	ErrCorruptArchive = errors.New("zip: corrupt central directory")

	// ErrAlgorithm is returned when a compression method is not supported.
	ErrAlgorithm = errors.New("zip: unsupported compression method")

	// ErrEncryption is returned when an encryption method is not supported.
	ErrEncryption = errors.New("zip: unsupported encryption method")

	// ErrCorrupted is returned when a compressed stream fails to decode or
	// the CRC-32 of a fully read payload does not match its header.
	ErrCorrupted = errors.New("zip: data corrupted")

	// ErrPasswordMismatch is returned when the provided password fails the
	// legacy cipher's verification byte or the AES verification value.
	ErrPasswordMismatch = errors.New("zip: invalid password")

	// ErrIntegrity is returned when the authentication code of an AES
	// encrypted entry does not match the payload.
	ErrIntegrity = errors.New("zip: authentication failed")

	// ErrInconsistentEntry is returned when an entry's local header
	// disagrees with its central directory record.
	ErrInconsistentEntry = errors.New("zip: local and central headers disagree")

	// ErrNotFound is returned when the requested entry is not in the archive.
	ErrNotFound = errors.New("zip: entry not found")

	// ErrMultiDisk is returned for split and multi-volume archives.
	ErrMultiDisk = errors.New("zip: multi-disk archives not supported")

	// ErrWriterClosed is returned when writing after Close.
	ErrWriterClosed = errors.New("zip: writer closed")

	// ErrInsecurePath is returned during extraction when an entry path
	// attempts directory traversal.
	ErrInsecurePath = errors.New("zip: insecure file path")

	// ErrNameTooLong is returned when an entry name exceeds 65535 bytes.
	ErrNameTooLong = errors.New("zip: entry name too long")

	// ErrCommentTooLong is returned when a comment exceeds 65535 bytes.
	ErrCommentTooLong = errors.New("zip: comment too long")
)
