// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestExtract(t *testing.T) {
	data := buildArchive(t, func(w *Writer) {
		if _, err := w.Create("nested/dir/"); err != nil {
			t.Fatal(err)
		}
		ew, _ := w.Create("nested/dir/a.txt", WithMode(0640))
		io.WriteString(ew, "contents of a")
		ew, _ = w.Create("b.txt")
		io.WriteString(ew, "contents of b")
	})

	dir := t.TempDir()
	a := openArchive(t, data)

	var processed atomic.Int32
	err := a.Extract(context.Background(), dir,
		WithWorkers(2),
		OnEntryProcessed(func(*Entry) { processed.Add(1) }))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if processed.Load() != 2 {
		t.Errorf("processed %d entries, want 2", processed.Load())
	}

	got, err := os.ReadFile(filepath.Join(dir, "nested", "dir", "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "contents of a" {
		t.Errorf("a.txt: got %q", got)
	}

	info, err := os.Stat(filepath.Join(dir, "nested", "dir", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("a.txt mode: got %v, want 0640", info.Mode().Perm())
	}

	if _, err := os.Stat(filepath.Join(dir, "b.txt")); err != nil {
		t.Errorf("b.txt missing: %v", err)
	}
}

func TestExtractInsecurePath(t *testing.T) {
	data := buildArchive(t, func(w *Writer) {
		ew, _ := w.Create("../evil.txt")
		io.WriteString(ew, "escape attempt")
	})

	dir := t.TempDir()
	a := openArchive(t, data)
	err := a.Extract(context.Background(), dir)
	if !errors.Is(err, ErrInsecurePath) {
		t.Errorf("got %v, want ErrInsecurePath", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "evil.txt")); statErr == nil {
		t.Error("traversal entry escaped the target directory")
	}
}

func TestExtractCancelled(t *testing.T) {
	data := buildArchive(t, func(w *Writer) {
		for _, name := range []string{"a", "b", "c", "d"} {
			ew, _ := w.Create(name)
			ew.Write(testPayload(64 << 10))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := openArchive(t, data)
	if err := a.Extract(ctx, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
