// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers     int
	onProcessed func(*Entry)
}

// WithWorkers sets how many entries extract concurrently. The default
// is the number of CPUs.
func WithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// OnEntryProcessed registers a callback invoked after each entry has
// been written to disk. Callbacks run from worker goroutines.
func OnEntryProcessed(fn func(*Entry)) ExtractOption {
	return func(c *extractConfig) { c.onProcessed = fn }
}

// Extract writes every entry under dir. Directories are created first,
// then file payloads fan out over a worker pool; entries are
// independent so order does not matter. An entry whose name escapes
// dir fails with ErrInsecurePath. The first failure cancels the
// remaining work.
func (a *Archive) Extract(ctx context.Context, dir string, opts ...ExtractOption) error {
	cfg := extractConfig{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Directory entries go first so concurrent file writes never race
	// with the tree taking shape.
	for _, e := range a.entries {
		if !e.IsDir() {
			continue
		}
		target, err := securePath(dir, e.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(target, dirPerm(e.Mode())); err != nil {
			return fmt.Errorf("zip: creating directory: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, cfg.workers)
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, e := range a.entries {
		if e.IsDir() {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}

		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := extractEntry(ctx, dir, e); err != nil {
				fail(fmt.Errorf("zip: extracting %q: %w", e.Name, err))
				return
			}
			if cfg.onProcessed != nil {
				cfg.onProcessed(e)
			}
		}(e)
	}

	wg.Wait()
	return firstErr
}

func extractEntry(ctx context.Context, dir string, e *Entry) error {
	target, err := securePath(dir, e.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := e.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	if e.Mode()&fs.ModeSymlink != 0 {
		return extractSymlink(src, target)
	}

	dest, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm(e.Mode()))
	if err != nil {
		return err
	}
	if _, err := copyBuffer(dest, src); err != nil {
		dest.Close()
		return err
	}
	if err := dest.Close(); err != nil {
		return err
	}

	if !e.Modified.IsZero() {
		// Best effort; a read-only target filesystem should not fail
		// the extraction.
		_ = os.Chtimes(target, e.Modified, e.Modified)
	}
	return nil
}

// extractSymlink materializes a symlink entry, whose payload is the
// link target.
func extractSymlink(src io.Reader, target string) error {
	link, err := io.ReadAll(io.LimitReader(src, 4096))
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(string(link), target)
}

// securePath joins an entry name onto dir, rejecting names that would
// land outside it.
func securePath(dir, name string) (string, error) {
	name = strings.TrimSuffix(name, "/")
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q", ErrInsecurePath, name)
	}
	return filepath.Join(dir, filepath.FromSlash(name)), nil
}

func filePerm(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	return perm
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0755
	}
	return perm | 0700
}
