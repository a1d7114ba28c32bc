// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestLocalFileHeaderRoundTrip(t *testing.T) {
	want := LocalFileHeader{
		ReaderVersion:    20,
		Flags:            0x0808,
		Method:           8,
		ModTime:          0x6c32,
		ModDate:          0x5a7f,
		CRC32:            0xdeadbeef,
		CompressedSize:   1234,
		UncompressedSize: 5678,
		Name:             "dir/file.txt",
		Extra:            []byte{0x55, 0x54, 0x00, 0x00},
	}

	got, err := DecodeLocalFileHeader(bytes.NewReader(want.Encode()))
	if err != nil {
		t.Fatalf("DecodeLocalFileHeader: %v", err)
	}
	if got.Name != want.Name || got.CRC32 != want.CRC32 ||
		got.CompressedSize != want.CompressedSize ||
		got.UncompressedSize != want.UncompressedSize ||
		got.Flags != want.Flags || got.Method != want.Method {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
	if !bytes.Equal(got.Extra, want.Extra) {
		t.Errorf("extra: got %x, want %x", got.Extra, want.Extra)
	}
}

func TestDecodeLocalFileHeaderBadSignature(t *testing.T) {
	buf := make([]byte, LocalFileHeaderLen)
	binary.LittleEndian.PutUint32(buf, CentralDirSignature)

	_, err := DecodeLocalFileHeader(bytes.NewReader(buf))
	if !errors.Is(err, ErrSignature) {
		t.Errorf("got %v, want ErrSignature", err)
	}
}

func TestCentralDirHeaderRoundTrip(t *testing.T) {
	want := CentralDirHeader{
		CreatorVersion:   0x031e,
		ReaderVersion:    45,
		Flags:            0x0800,
		Method:           93,
		CRC32:            0x12345678,
		CompressedSize:   99,
		UncompressedSize: 100,
		InternalAttrs:    1,
		ExternalAttrs:    0o100644 << 16,
		Offset:           4096,
		Name:             "b.txt",
		Extra:            []byte{0x01, 0x00, 0x00, 0x00},
		Comment:          "entry comment",
	}

	got, err := DecodeCentralDirHeader(bytes.NewReader(want.Encode()))
	if err != nil {
		t.Fatalf("DecodeCentralDirHeader: %v", err)
	}
	if got.Name != want.Name || got.Comment != want.Comment ||
		got.Offset != want.Offset || got.ExternalAttrs != want.ExternalAttrs ||
		got.CRC32 != want.CRC32 {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestDataDescriptorLayouts(t *testing.T) {
	d := DataDescriptor{CRC32: 0xcafebabe, CompressedSize: 10, UncompressedSize: 20}

	t.Run("signed", func(t *testing.T) {
		got, err := DecodeDataDescriptor(bytes.NewReader(d.Encode(false)), false)
		if err != nil {
			t.Fatalf("DecodeDataDescriptor: %v", err)
		}
		if got != d {
			t.Errorf("got %+v, want %+v", got, d)
		}
	})

	t.Run("signatureless", func(t *testing.T) {
		// Historical layout: the fields start immediately.
		raw := d.Encode(false)[4:]
		got, err := DecodeDataDescriptor(bytes.NewReader(raw), false)
		if err != nil {
			t.Fatalf("DecodeDataDescriptor: %v", err)
		}
		if got != d {
			t.Errorf("got %+v, want %+v", got, d)
		}
	})

	t.Run("zip64", func(t *testing.T) {
		wide := DataDescriptor{CRC32: 1, CompressedSize: 1 << 40, UncompressedSize: 1 << 41}
		got, err := DecodeDataDescriptor(bytes.NewReader(wide.Encode(true)), true)
		if err != nil {
			t.Fatalf("DecodeDataDescriptor: %v", err)
		}
		if got != wide {
			t.Errorf("got %+v, want %+v", got, wide)
		}
	})
}

func TestEndOfCentralDirRoundTrip(t *testing.T) {
	want := EndOfCentralDir{
		DiskEntries:  3,
		TotalEntries: 3,
		DirSize:      150,
		DirOffset:    1000,
		Comment:      "archive comment",
	}

	got, err := DecodeEndOfCentralDir(bytes.NewReader(want.Encode()))
	if err != nil {
		t.Fatalf("DecodeEndOfCentralDir: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestZip64RecordsRoundTrip(t *testing.T) {
	end := Zip64EndOfCentralDir{
		CreatorVersion: 45,
		ReaderVersion:  45,
		DiskEntries:    1 << 20,
		TotalEntries:   1 << 20,
		DirSize:        1 << 33,
		DirOffset:      1 << 34,
	}
	gotEnd, err := DecodeZip64EndOfCentralDir(bytes.NewReader(end.Encode()))
	if err != nil {
		t.Fatalf("DecodeZip64EndOfCentralDir: %v", err)
	}
	if gotEnd != end {
		t.Errorf("got %+v, want %+v", gotEnd, end)
	}

	loc := Zip64Locator{Offset: 1 << 35, TotalDisks: 1}
	gotLoc, err := DecodeZip64Locator(bytes.NewReader(loc.Encode()))
	if err != nil {
		t.Fatalf("DecodeZip64Locator: %v", err)
	}
	if gotLoc != loc {
		t.Errorf("got %+v, want %+v", gotLoc, loc)
	}
}

func TestZip64ValuesSentinelOrder(t *testing.T) {
	// Only the sentinel-flagged fields may be read from the ZIP64
	// block, in header order. Here the compressed size is real and must
	// not consume a slot.
	var z []byte
	z = binary.LittleEndian.AppendUint64(z, 5_000_000_000) // uncompressed
	z = binary.LittleEndian.AppendUint64(z, 6_000_000_000) // offset

	h := CentralDirHeader{
		UncompressedSize: Sentinel32,
		CompressedSize:   77,
		Offset:           Sentinel32,
		Extra:            AppendExtra(nil, Zip64ExtraTag, z),
	}

	uncompressed, compressed, offset := h.Zip64Values()
	if uncompressed != 5_000_000_000 {
		t.Errorf("uncompressed: got %d, want 5000000000", uncompressed)
	}
	if compressed != 77 {
		t.Errorf("compressed: got %d, want 77", compressed)
	}
	if offset != 6_000_000_000 {
		t.Errorf("offset: got %d, want 6000000000", offset)
	}
}

func TestZip64ValuesNoExtra(t *testing.T) {
	h := CentralDirHeader{UncompressedSize: 10, CompressedSize: 8, Offset: 42}
	uncompressed, compressed, offset := h.Zip64Values()
	if uncompressed != 10 || compressed != 8 || offset != 42 {
		t.Errorf("got %d/%d/%d, want 10/8/42", uncompressed, compressed, offset)
	}
}

func TestParseExtraTruncated(t *testing.T) {
	extra := AppendExtra(nil, 0x1234, []byte{1, 2, 3})
	// A truncated trailing block must be dropped, not error.
	extra = append(extra, 0x55, 0x54, 0x09, 0x00, 0x01)

	fields := ParseExtra(extra)
	if len(fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(fields))
	}
	if fields[0].Tag != 0x1234 || !bytes.Equal(fields[0].Data, []byte{1, 2, 3}) {
		t.Errorf("unexpected field %+v", fields[0])
	}
}

func TestModTimeFromExtra(t *testing.T) {
	want := time.Date(2024, 6, 15, 10, 30, 45, 0, time.UTC)

	ts := make([]byte, 5)
	ts[0] = 1
	binary.LittleEndian.PutUint32(ts[1:], uint32(want.Unix()))
	extra := AppendExtra(nil, ExtTimeExtraTag, ts)

	dosDate, dosTime := TimeToDos(want.Add(-time.Hour))
	if got := ModTimeFromExtra(extra, dosDate, dosTime); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Without the block the MS-DOS words win, at two second resolution.
	got := ModTimeFromExtra(nil, dosDate, dosTime)
	if diff := got.Sub(want.Add(-time.Hour)); diff < -2*time.Second || diff > 2*time.Second {
		t.Errorf("dos fallback: got %v, want about %v", got, want.Add(-time.Hour))
	}
}

func TestDosTimeRoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC),
		time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC),
	}
	for _, want := range cases {
		dosDate, dosTime := TimeToDos(want)
		if got := DosToTime(dosDate, dosTime); !got.Equal(want) {
			t.Errorf("round trip: got %v, want %v", got, want)
		}
	}
}

func TestDosToTimeZeroed(t *testing.T) {
	// Zeroed timestamps decode to a valid date instead of failing.
	got := DosToTime(0, 0)
	if got.Year() != 1980 || got.Month() != time.January || got.Day() != 1 {
		t.Errorf("got %v, want 1980-01-01", got)
	}
}

func TestAESExtraRoundTrip(t *testing.T) {
	want := AESExtra{VendorVersion: 2, Strength: 3, Method: 8}
	got, ok := DecodeAESExtra(want.Encode())
	if !ok {
		t.Fatal("DecodeAESExtra rejected valid block")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, ok := DecodeAESExtra([]byte{2, 0, 'X', 'Y', 3, 8, 0}); ok {
		t.Error("DecodeAESExtra accepted bad vendor")
	}
	if _, ok := DecodeAESExtra(nil); ok {
		t.Error("DecodeAESExtra accepted empty block")
	}
}
