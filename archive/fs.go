// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

var (
	_ fs.ReadDirFS = (*tree)(nil)
	_ fs.StatFS    = (*tree)(nil)
)

// FS returns a read-only view of every file entry in the archive.
func (r *Reader) FS() fs.FS {
	return r.FilteredFS(nil)
}

// FilteredFS returns a read-only view of the file entries keep accepts.
// A nil keep accepts everything. Directories exist only as ancestors of
// accepted entries, so filtering out every file of a directory hides it.
func (r *Reader) FilteredFS(keep func(name string) bool) fs.FS {
	t := &tree{r: r, nodes: map[string]*node{".": {name: ".", dir: true}}}
	for _, e := range r.entries {
		if strings.HasSuffix(e.name, "/") || !fs.ValidPath(e.name) {
			continue
		}
		if keep != nil && !keep(e.name) {
			continue
		}
		t.insert(e)
	}
	for _, n := range t.nodes {
		slices.Sort(n.children)
	}
	return t
}

// tree indexes the accepted entries by path once, up front.
type tree struct {
	r     *Reader
	nodes map[string]*node
}

type node struct {
	name     string // base name
	dir      bool
	entry    *Entry // nil for directories
	modTime  time.Time
	children []string // full paths, sorted
}

func (t *tree) insert(e *Entry) {
	if _, dup := t.nodes[e.name]; dup {
		return
	}
	t.nodes[e.name] = &node{name: path.Base(e.name), entry: e, modTime: e.modTime}

	child := e.name
	for child != "." {
		parent := path.Dir(child)
		p, ok := t.nodes[parent]
		if !ok {
			p = &node{name: path.Base(parent), dir: true, modTime: e.modTime}
			t.nodes[parent] = p
		}
		if !p.dir {
			// A file and a directory share a name; the file wins.
			return
		}
		if slices.Contains(p.children, child) {
			return
		}
		p.children = append(p.children, child)
		child = parent
	}
}

func (t *tree) lookup(op, name string) (*node, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	n, ok := t.nodes[name]
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return n, nil
}

// Open implements fs.FS.
func (t *tree) Open(name string) (fs.File, error) {
	n, err := t.lookup("open", name)
	if err != nil {
		return nil, err
	}
	if n.dir {
		return &dirHandle{t: t, n: n, path: name}, nil
	}
	rc, err := t.r.Open(n.entry)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fileHandle{n: n, ReadCloser: rc}, nil
}

// Stat implements fs.StatFS.
func (t *tree) Stat(name string) (fs.FileInfo, error) {
	n, err := t.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ReadDir implements fs.ReadDirFS.
func (t *tree) ReadDir(name string) ([]fs.DirEntry, error) {
	n, err := t.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return t.listing(n), nil
}

func (t *tree) listing(n *node) []fs.DirEntry {
	out := make([]fs.DirEntry, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, fs.FileInfoToDirEntry(t.nodes[c]))
	}
	return out
}

// node doubles as its own fs.FileInfo.

func (n *node) Name() string       { return n.name }
func (n *node) IsDir() bool        { return n.dir }
func (n *node) ModTime() time.Time { return n.modTime }
func (n *node) Sys() any           { return n.entry }

func (n *node) Size() int64 {
	if n.entry == nil {
		return 0
	}
	return int64(n.entry.uncompressedSize)
}

func (n *node) Mode() fs.FileMode {
	if n.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

type fileHandle struct {
	io.ReadCloser
	n *node
}

func (f *fileHandle) Stat() (fs.FileInfo, error) { return f.n, nil }

type dirHandle struct {
	t       *tree
	n       *node
	path    string
	pending []fs.DirEntry
	opened  bool
}

func (d *dirHandle) Stat() (fs.FileInfo, error) { return d.n, nil }
func (d *dirHandle) Close() error               { return nil }

func (d *dirHandle) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.path, Err: fs.ErrInvalid}
}

// ReadDir implements fs.ReadDirFile.
func (d *dirHandle) ReadDir(count int) ([]fs.DirEntry, error) {
	if !d.opened {
		d.pending = d.t.listing(d.n)
		d.opened = true
	}
	if count <= 0 {
		rest := d.pending
		d.pending = nil
		return rest, nil
	}
	if len(d.pending) == 0 {
		return nil, io.EOF
	}
	count = min(count, len(d.pending))
	batch := d.pending[:count]
	d.pending = d.pending[count:]
	return batch, nil
}
