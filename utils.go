// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"context"
	"io"
	"sync"

	"golang.org/x/text/encoding/charmap"
)

// utf8Flag is general purpose bit 11: names and comments are UTF-8.
const utf8Flag = 0x800

// TextDecoder converts a legacy-encoded name or comment to UTF-8.
// It is consulted only when the entry does not carry the UTF-8 flag.
type TextDecoder func(raw []byte) (string, error)

// CP437Decoder decodes IBM code page 437, the historical default for
// ZIP file names.
func CP437Decoder(raw []byte) (string, error) {
	return charmap.CodePage437.NewDecoder().String(string(raw))
}

// decodeText interprets raw header text: UTF-8 when flagged, otherwise
// through the decoder. Decoder failures fall back to the raw bytes so a
// mis-flagged archive still lists.
func decodeText(raw []byte, flags uint16, decoder TextDecoder) string {
	if flags&utf8Flag != 0 || decoder == nil {
		return string(raw)
	}
	s, err := decoder(raw)
	if err != nil {
		return string(raw)
	}
	return s
}

// isASCII reports whether every byte is 7-bit, in which case the text
// is identical in CP437 and UTF-8 and needs no flag.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

var copyBufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 32*1024)
		return &buf
	},
}

func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// byteCountWriter tracks how many bytes pass through to the underlying
// writer.
type byteCountWriter struct {
	dest  io.Writer
	count int64
}

func (w *byteCountWriter) Write(p []byte) (int, error) {
	n, err := w.dest.Write(p)
	w.count += int64(n)
	return n, err
}

// contextReader checks cancellation before every read of the underlying
// source. Wrapping only the store-level reader keeps cancellation
// points at store reads rather than inside decompression or
// decryption.
type contextReader struct {
	ctx context.Context
	src io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.src.Read(p)
}
