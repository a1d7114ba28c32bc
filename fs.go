// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// FS returns a read-only fs.FS view of the archive. Directories are
// taken from explicit directory entries and synthesized from entry
// paths where the archive carries none. Encrypted entries require the
// archive to have been opened with the password.
func (a *Archive) FS() fs.FS {
	return &archiveFS{a: a}
}

type archiveFS struct {
	a    *Archive
	once sync.Once

	files map[string]*Entry
	dirs  map[string]map[string]fs.DirEntry
}

func (z *archiveFS) init() {
	z.files = make(map[string]*Entry)
	z.dirs = map[string]map[string]fs.DirEntry{".": {}}

	for _, e := range z.a.entries {
		name := strings.TrimSuffix(e.Name, "/")
		if !fs.ValidPath(name) {
			continue
		}
		if e.IsDir() {
			z.addDir(name, e.Stat())
		} else {
			z.files[name] = e
			z.addChild(path.Dir(name), name, fs.FileInfoToDirEntry(e.Stat()))
		}
	}
}

// addDir registers a directory and makes sure every ancestor exists.
func (z *archiveFS) addDir(name string, info fs.FileInfo) {
	if _, ok := z.dirs[name]; !ok {
		z.dirs[name] = map[string]fs.DirEntry{}
	}
	if name != "." {
		z.addChild(path.Dir(name), name, fs.FileInfoToDirEntry(info))
	}
}

func (z *archiveFS) addChild(dir, child string, entry fs.DirEntry) {
	if _, ok := z.dirs[dir]; !ok {
		z.addDir(dir, syntheticDir(path.Base(dir)))
	}
	z.dirs[dir][path.Base(child)] = entry
}

// Open implements fs.FS.
func (z *archiveFS) Open(name string) (fs.File, error) {
	z.once.Do(z.init)

	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := z.files[name]; ok {
		rc, err := e.Open()
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &fsFile{rc: rc, info: e.Stat()}, nil
	}
	if children, ok := z.dirs[name]; ok {
		return &fsDir{info: z.dirInfo(name), children: sortedChildren(children)}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (z *archiveFS) Stat(name string) (fs.FileInfo, error) {
	z.once.Do(z.init)

	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := z.files[name]; ok {
		return e.Stat(), nil
	}
	if _, ok := z.dirs[name]; ok {
		return z.dirInfo(name), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
func (z *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	z.once.Do(z.init)

	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	children, ok := z.dirs[name]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return sortedChildren(children), nil
}

// dirInfo prefers the archive's own directory entry metadata over a
// synthesized stand-in.
func (z *archiveFS) dirInfo(name string) fs.FileInfo {
	if e, ok := z.a.byName[name+"/"]; ok {
		return z.a.entries[e].Stat()
	}
	if name == "." {
		return syntheticDir(".")
	}
	return syntheticDir(path.Base(name))
}

func sortedChildren(children map[string]fs.DirEntry) []fs.DirEntry {
	out := make([]fs.DirEntry, 0, len(children))
	for _, c := range children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// syntheticDir stands in for a directory the archive never recorded
// explicitly.
type syntheticDir string

func (d syntheticDir) Name() string       { return string(d) }
func (d syntheticDir) Size() int64        { return 0 }
func (d syntheticDir) Mode() fs.FileMode  { return fs.ModeDir | 0755 }
func (d syntheticDir) ModTime() time.Time { return time.Time{} }
func (d syntheticDir) IsDir() bool        { return true }
func (d syntheticDir) Sys() interface{}   { return nil }

type fsFile struct {
	rc   io.ReadCloser
	info fs.FileInfo
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *fsFile) Read(p []byte) (int, error) { return f.rc.Read(p) }
func (f *fsFile) Close() error               { return f.rc.Close() }

type fsDir struct {
	info     fs.FileInfo
	children []fs.DirEntry
	pos      int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Close() error               { return nil }

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.Name(), Err: fs.ErrInvalid}
}

// ReadDir implements fs.ReadDirFile.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		out := d.children[d.pos:]
		d.pos = len(d.children)
		return out, nil
	}
	if d.pos >= len(d.children) {
		return nil, io.EOF
	}
	end := d.pos + n
	if end > len(d.children) {
		end = len(d.children)
	}
	out := d.children[d.pos:end]
	d.pos = end
	return out, nil
}
