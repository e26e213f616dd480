// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/archive"
	"github.com/lemon4ksan/opcpack/warning"
)

// ReaderOption configures a package Reader.
type ReaderOption func(c *readerConfig)

type readerConfig struct {
	archiveOpts []archive.ReaderOption
	logger      *logrus.Logger
}

// WithArchiveReaderOptions passes options through to the archive reader.
func WithArchiveReaderOptions(opts ...archive.ReaderOption) ReaderOption {
	return func(c *readerConfig) {
		c.archiveOpts = append(c.archiveOpts, opts...)
	}
}

// WithReaderLogger sets the logger used by the package and archive readers.
func WithReaderLogger(logger *logrus.Logger) ReaderOption {
	return func(c *readerConfig) {
		c.logger = logger
	}
}

// Reader opens a package. Content types and root relationships are read
// eagerly; every other part is opened on demand.
type Reader struct {
	ar       *archive.Reader
	types    *ContentTypes
	relsExt  string
	rootRels []Relationship
	log      *logrus.Entry
}

// NewReader opens the package stored in src.
func NewReader(src io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}

	archiveOpts := append([]archive.ReaderOption{archive.WithReaderLogger(cfg.logger)}, cfg.archiveOpts...)
	ar, err := archive.NewReader(src, size, archiveOpts...)
	if err != nil {
		return nil, err
	}

	r := &Reader{ar: ar, log: cfg.logger.WithField("component", "opc.reader")}
	if err := r.readContentTypes(); err != nil {
		return nil, err
	}
	if err := r.readRootRelationships(); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"entries":            len(ar.Entries()),
		"root_relationships": len(r.rootRels),
	}).Debug("package opened")
	return r, nil
}

func (r *Reader) readContentTypes() error {
	rc, found, err := r.ar.FindEntry(ContentTypesEntry)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: missing %s", ErrFormat, ContentTypesEntry)
	}
	defer rc.Close()

	types, err := decodeContentTypes(rc)
	if err != nil {
		return err
	}
	if err := drainAndClose(rc); err != nil {
		return err
	}

	relsExt, ok := types.ExtensionFor(RelationshipsContentType)
	if !ok {
		return fmt.Errorf("%w: no default for %s", ErrFormat, RelationshipsContentType)
	}
	if !types.Declares(ModelContentType) {
		return fmt.Errorf("%w: no declaration of %s", ErrFormat, ModelContentType)
	}

	r.types = types
	r.relsExt = relsExt
	return nil
}

func (r *Reader) readRootRelationships() error {
	rels, found, err := r.readRelationships("/_rels/." + r.relsExt)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: missing root relationships", ErrFormat)
	}
	r.rootRels = rels
	return nil
}

// readRelationships decodes a relationships part if it exists.
func (r *Reader) readRelationships(partName string) ([]Relationship, bool, error) {
	rc, found, err := r.ar.FindEntry(entryName(partName))
	if err != nil || !found {
		return nil, found, err
	}
	defer rc.Close()

	rels, err := decodeRelationships(rc)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", partName, err)
	}
	if err := drainAndClose(rc); err != nil {
		return nil, true, err
	}
	return rels, true, nil
}

// CreatePart opens a part for reading and loads its relationship sidecar
// when present.
func (r *Reader) CreatePart(name string) (*Part, error) {
	partName, err := NormalizePartName(name)
	if err != nil {
		return nil, err
	}

	rels, _, err := r.readRelationships(RelationshipsPartName(partName, r.relsExt))
	if err != nil {
		return nil, err
	}

	rc, found, err := r.ar.FindEntry(entryName(partName))
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", partName, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, partName)
	}

	r.log.WithField("part", partName).Debug("part opened")
	return newImportPart(partName, rc, rels), nil
}

// HasPart reports whether the package contains the part.
func (r *Reader) HasPart(name string) bool {
	partName, err := NormalizePartName(name)
	if err != nil {
		return false
	}
	_, ok := r.ar.Entry(entryName(partName))
	return ok
}

// PartSize returns the uncompressed size of a part's archive entry.
func (r *Reader) PartSize(name string) uint64 {
	partName, err := NormalizePartName(name)
	if err != nil {
		return 0
	}
	return r.ar.EntrySize(entryName(partName))
}

// PartNames lists the parts of the package, excluding content types and
// relationship parts.
func (r *Reader) PartNames() []string {
	var names []string
	for _, name := range r.ar.Names() {
		if strings.HasSuffix(name, "/") {
			continue
		}
		partName, err := NormalizePartName(name)
		if err != nil || isReserved(partName, r.relsExt) {
			continue
		}
		names = append(names, partName)
	}
	return names
}

// FS exposes the parts as a read-only file system. Paths are part names
// without the leading slash; content types and relationship parts are hidden.
// Files are the stored bytes, so encrypted parts read as ciphertext.
func (r *Reader) FS() fs.FS {
	return r.ar.FilteredFS(func(name string) bool {
		partName, err := NormalizePartName(name)
		return err == nil && !isReserved(partName, r.relsExt)
	})
}

// ContentTypeOf resolves the content type of a part.
func (r *Reader) ContentTypeOf(name string) (string, bool) {
	partName, err := NormalizePartName(name)
	if err != nil {
		return "", false
	}
	return r.types.Resolve(partName)
}

// ContentTypes exposes the parsed content type table.
func (r *Reader) ContentTypes() *ContentTypes { return r.types }

// RelationshipsExtension returns the sidecar extension discovered from the
// content types.
func (r *Reader) RelationshipsExtension() string { return r.relsExt }

// RootRelationships returns the relationships of the package root.
func (r *Reader) RootRelationships() []Relationship {
	out := make([]Relationship, len(r.rootRels))
	copy(out, r.rootRels)
	return out
}

// FindRootRelationship returns the first root relationship of relType.
func (r *Reader) FindRootRelationship(relType string) (Relationship, bool) {
	return findRelationship(r.rootRels, relType)
}

// Warnings returns the warnings recorded while opening the archive.
func (r *Reader) Warnings() *warning.List { return r.ar.Warnings() }

// Archive returns the underlying archive reader.
func (r *Reader) Archive() *archive.Reader { return r.ar }

// drainAndClose consumes what the XML decoder left unread so the entry's
// checksum gets verified.
func drainAndClose(rc io.ReadCloser) error {
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return err
	}
	return rc.Close()
}
