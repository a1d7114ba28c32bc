// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zip reads and writes ZIP archives.
//
// An Archive indexes a random-access store through its central
// directory and serves independent, concurrently usable entry
// readers. A Writer emits archives to a streaming sink, buffering
// each entry by default so headers carry real sizes, or streaming an
// entry with a trailing data descriptor when asked to. Both sides
// support the Store, Deflate, BZip2, Zstandard and XZ methods, legacy
// ZipCrypto and WinZip AES encryption, ZIP64 archives, and entry and
// archive comments.
//
// Reading an archive from a file:
//
//	a, err := zip.OpenFile("archive.zip", zip.WithPassword("secret"))
//	if err != nil {
//		...
//	}
//	defer a.Close()
//	e, err := a.ByName("docs/readme.txt")
//	...
//	rc, err := e.Open()
//
// Writing one:
//
//	w := zip.NewWriter(f)
//	ew, err := w.Create("docs/readme.txt", zip.WithMethod(zip.Zstandard))
//	...
//	_, err = ew.Write(data)
//	...
//	err = w.Close()
package zip
