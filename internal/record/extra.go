// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"encoding/binary"
	"time"
)

// Field is one tag-length-value block of an extra field area.
type Field struct {
	Tag  uint16
	Data []byte
}

// ParseExtra splits raw extra field bytes into their tag-length-value
// blocks. Truncated trailing blocks are dropped; unknown tags are kept
// as-is so callers can skip what they do not understand.
func ParseExtra(extra []byte) []Field {
	var fields []Field

	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+size > len(extra) {
			break
		}
		fields = append(fields, Field{Tag: tag, Data: extra[4 : 4+size]})
		extra = extra[4+size:]
	}
	return fields
}

// FindExtra returns the payload of the first block with the given tag.
func FindExtra(extra []byte, tag uint16) ([]byte, bool) {
	for _, f := range ParseExtra(extra) {
		if f.Tag == tag {
			return f.Data, true
		}
	}
	return nil, false
}

// AppendExtra appends one tag-length-value block to extra.
func AppendExtra(extra []byte, tag uint16, data []byte) []byte {
	extra = binary.LittleEndian.AppendUint16(extra, tag)
	extra = binary.LittleEndian.AppendUint16(extra, uint16(len(data)))
	return append(extra, data...)
}

// Zip64Values resolves the 64-bit sizes and offset of a central directory
// header. Each 32-bit field is widened as-is unless it holds the all-ones
// sentinel, in which case the next value is taken from the ZIP64 extra
// block. The sentinel check runs before the ZIP64 lookup: a conformant
// archive never carries a ZIP64 value for a field that fits in 32 bits,
// and the block packs only the sentinel-flagged fields, in header order.
func (h CentralDirHeader) Zip64Values() (uncompressed, compressed, offset uint64) {
	uncompressed = uint64(h.UncompressedSize)
	compressed = uint64(h.CompressedSize)
	offset = uint64(h.Offset)

	data, ok := FindExtra(h.Extra, Zip64ExtraTag)
	if !ok {
		return
	}

	if h.UncompressedSize == Sentinel32 && len(data) >= 8 {
		uncompressed = binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
	}
	if h.CompressedSize == Sentinel32 && len(data) >= 8 {
		compressed = binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
	}
	if h.Offset == Sentinel32 && len(data) >= 8 {
		offset = binary.LittleEndian.Uint64(data[:8])
	}
	return
}

// ModTimeFromExtra returns the entry's modification time, preferring the
// Unix extended-timestamp block (tag 0x5455) over the two-second MS-DOS
// words when present and flagged as carrying a modification time.
func ModTimeFromExtra(extra []byte, dosDate, dosTime uint16) time.Time {
	if data, ok := FindExtra(extra, ExtTimeExtraTag); ok {
		if len(data) >= 5 && data[0]&0x1 != 0 {
			return time.Unix(int64(int32(binary.LittleEndian.Uint32(data[1:5]))), 0).UTC()
		}
	}
	return DosToTime(dosDate, dosTime)
}

// AESExtra is the decoded WinZip AES block (tag 0x9901): vendor version
// AE-1 or AE-2, key strength, and the real compression method hidden
// behind the method-99 marker.
type AESExtra struct {
	VendorVersion uint16
	Strength      byte
	Method        uint16
}

// DecodeAESExtra parses the 7-byte AES block payload.
func DecodeAESExtra(data []byte) (AESExtra, bool) {
	if len(data) != 7 || data[2] != 'A' || data[3] != 'E' {
		return AESExtra{}, false
	}
	return AESExtra{
		VendorVersion: binary.LittleEndian.Uint16(data[0:2]),
		Strength:      data[4],
		Method:        binary.LittleEndian.Uint16(data[5:7]),
	}, true
}

// Encode serializes the AES block payload.
func (a AESExtra) Encode() []byte {
	data := make([]byte, 7)
	binary.LittleEndian.PutUint16(data[0:2], a.VendorVersion)
	data[2] = 'A'
	data[3] = 'E'
	data[4] = a.Strength
	binary.LittleEndian.PutUint16(data[5:7], a.Method)
	return data
}
