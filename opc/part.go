// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import (
	"fmt"
	"io"
)

// StreamKind tells which direction a part's stream flows.
type StreamKind uint8

const (
	ExportStream StreamKind = iota + 1 // Part is being written
	ImportStream                       // Part is being read
)

func (k StreamKind) String() string {
	switch k {
	case ExportStream:
		return "export"
	case ImportStream:
		return "import"
	}
	return fmt.Sprintf("stream(%d)", uint8(k))
}

// Part is a named package member holding exactly one stream, plus its
// outgoing relationships.
type Part struct {
	name   string
	kind   StreamKind
	w      io.WriteCloser
	r      io.ReadCloser
	rels   []Relationship
	closed bool
}

func newExportPart(name string, w io.WriteCloser) *Part {
	return &Part{name: name, kind: ExportStream, w: w}
}

func newImportPart(name string, r io.ReadCloser, rels []Relationship) *Part {
	return &Part{name: name, kind: ImportStream, r: r, rels: rels}
}

// Name returns the absolute part name, e.g. "/3D/3dmodel.model".
func (p *Part) Name() string { return p.name }

// Kind returns the stream direction.
func (p *Part) Kind() StreamKind { return p.kind }

// Write writes to an export part.
func (p *Part) Write(b []byte) (int, error) {
	switch p.kind {
	case ExportStream:
		return p.w.Write(b)
	default:
		return 0, fmt.Errorf("%w: write to %s part %s", ErrStreamKind, p.kind, p.name)
	}
}

// Read reads from an import part.
func (p *Part) Read(b []byte) (int, error) {
	switch p.kind {
	case ImportStream:
		return p.r.Read(b)
	default:
		return 0, fmt.Errorf("%w: read from %s part %s", ErrStreamKind, p.kind, p.name)
	}
}

// Close closes the part's stream. Closing twice is a no-op.
func (p *Part) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	switch p.kind {
	case ExportStream:
		return p.w.Close()
	case ImportStream:
		return p.r.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (p *Part) Closed() bool { return p.closed }

// WrapExport interposes a decorator in front of the export stream. The
// decorator owns closing the stream it wraps.
func (p *Part) WrapExport(wrap func(io.WriteCloser) (io.WriteCloser, error)) error {
	if p.kind != ExportStream {
		return fmt.Errorf("%w: wrap export of %s part %s", ErrStreamKind, p.kind, p.name)
	}
	w, err := wrap(p.w)
	if err != nil {
		return err
	}
	p.w = w
	return nil
}

// WrapImport interposes a decorator in front of the import stream.
func (p *Part) WrapImport(wrap func(io.ReadCloser) (io.ReadCloser, error)) error {
	if p.kind != ImportStream {
		return fmt.Errorf("%w: wrap import of %s part %s", ErrStreamKind, p.kind, p.name)
	}
	r, err := wrap(p.r)
	if err != nil {
		return err
	}
	p.r = r
	return nil
}

// Relationships returns the outgoing relationships in declaration order.
func (p *Part) Relationships() []Relationship {
	out := make([]Relationship, len(p.rels))
	copy(out, p.rels)
	return out
}

// RelationshipsTo returns the relationships pointing at target.
func (p *Part) RelationshipsTo(target string) []Relationship {
	var out []Relationship
	for _, rel := range p.rels {
		if rel.Target == target {
			out = append(out, rel)
		}
	}
	return out
}

// FindRelationship returns the first relationship of the given type.
func (p *Part) FindRelationship(relType string) (Relationship, bool) {
	return findRelationship(p.rels, relType)
}

func findRelationship(rels []Relationship, relType string) (Relationship, bool) {
	for _, rel := range rels {
		if rel.Type == relType {
			return rel, true
		}
	}
	return Relationship{}, false
}
