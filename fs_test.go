// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"
)

func buildFSArchive(t *testing.T) *Archive {
	t.Helper()
	data := buildArchive(t, func(w *Writer) {
		if _, err := w.Create("docs/"); err != nil {
			t.Fatal(err)
		}
		ew, _ := w.Create("docs/readme.txt")
		io.WriteString(ew, "read me")
		ew, _ = w.Create("docs/sub/deep.txt")
		io.WriteString(ew, "deep")
		ew, _ = w.Create("top.txt")
		io.WriteString(ew, "top")
	})
	return openArchive(t, data)
}

func TestFS(t *testing.T) {
	a := buildFSArchive(t)
	if err := fstest.TestFS(a.FS(), "docs/readme.txt", "docs/sub/deep.txt", "top.txt"); err != nil {
		t.Error(err)
	}
}

func TestFSReadFile(t *testing.T) {
	a := buildFSArchive(t)
	got, err := fs.ReadFile(a.FS(), "docs/sub/deep.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("got %q, want %q", got, "deep")
	}
}

func TestFSSynthesizedDirectories(t *testing.T) {
	a := buildFSArchive(t)
	zfs := a.FS().(fs.ReadDirFS)

	// docs/sub/ was never written as an entry; it exists because
	// docs/sub/deep.txt names it.
	entries, err := zfs.ReadDir("docs/sub")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "deep.txt" {
		t.Errorf("unexpected listing %v", entries)
	}

	info, err := fs.Stat(a.FS(), "docs/sub")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("synthesized directory not a directory")
	}
}

func TestFSNotExist(t *testing.T) {
	a := buildFSArchive(t)
	if _, err := a.FS().Open("missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("got %v, want fs.ErrNotExist", err)
	}
}
