// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/archive"
)

// WriterOption configures a package Writer.
type WriterOption func(w *writerConfig)

type writerConfig struct {
	archiveOpts []archive.WriterOption
	logger      *logrus.Logger
	modTime     time.Time
	relsExt     string
}

// WithArchiveOptions passes options through to the archive writer.
func WithArchiveOptions(opts ...archive.WriterOption) WriterOption {
	return func(c *writerConfig) {
		c.archiveOpts = append(c.archiveOpts, opts...)
	}
}

// WithWriterLogger sets the logger used by the package and archive writers.
func WithWriterLogger(logger *logrus.Logger) WriterOption {
	return func(c *writerConfig) {
		c.logger = logger
	}
}

// WithModTime sets the timestamp stamped on every entry.
func WithModTime(t time.Time) WriterOption {
	return func(c *writerConfig) {
		c.modTime = t
	}
}

// WithRelationshipsExtension changes the extension of relationship sidecars.
func WithRelationshipsExtension(ext string) WriterOption {
	return func(c *writerConfig) {
		if ext != "" {
			c.relsExt = ext
		}
	}
}

// RelationshipHook runs when the writer is closed, before any relationship
// part is serialized. It lets higher layers add relationships the generic
// writer does not know about.
type RelationshipHook func(w *Writer) error

// PartWrap decorates a newly created part, typically through WrapExport.
type PartWrap func(part *Part) error

// PartHook runs on every AddPart with the normalized part name, before the
// archive entry exists. An error refuses the part. A non-nil PartWrap is
// applied to the part before AddPart returns it.
type PartHook func(partName string) (PartWrap, error)

// Writer streams a package. Parts are written in the order they are added;
// content types and relationship parts are emitted on Close.
type Writer struct {
	ar       *archive.Writer
	types    *ContentTypes
	relsExt  string
	modTime  time.Time
	rootRels []Relationship
	parts    []*Part
	byName   map[string]*Part
	current  *Part
	nextID   int
	hooks    []RelationshipHook
	partHook []PartHook
	log      *logrus.Entry
	closed   bool
}

// NewWriter creates a package writer on top of a new archive in dest.
func NewWriter(dest io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		logger:  logrus.StandardLogger(),
		modTime: time.Now(),
		relsExt: DefaultRelsExtension,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}

	archiveOpts := append([]archive.WriterOption{archive.WithWriterLogger(cfg.logger)}, cfg.archiveOpts...)
	ar, err := archive.NewWriter(dest, archiveOpts...)
	if err != nil {
		return nil, err
	}

	return &Writer{
		ar:      ar,
		types:   NewContentTypes(),
		relsExt: cfg.relsExt,
		modTime: cfg.modTime,
		byName:  make(map[string]*Part),
		log:     cfg.logger.WithField("component", "opc.writer"),
	}, nil
}

// AddPart closes the part being written, if any, and starts a new one.
func (w *Writer) AddPart(name string) (*Part, error) {
	if w.closed {
		return nil, ErrWriterClosed
	}
	partName, err := NormalizePartName(name)
	if err != nil {
		return nil, err
	}
	if isReserved(partName, w.relsExt) {
		return nil, fmt.Errorf("%w: %s is reserved", ErrInvalidPartName, partName)
	}
	if _, ok := w.byName[partName]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePart, partName)
	}

	var wraps []PartWrap
	for _, hook := range w.partHook {
		wrap, err := hook(partName)
		if err != nil {
			return nil, err
		}
		if wrap != nil {
			wraps = append(wraps, wrap)
		}
	}

	if err := w.closeCurrent(); err != nil {
		return nil, err
	}

	stream, err := w.ar.CreateEntry(entryName(partName), w.modTime)
	if err != nil {
		return nil, fmt.Errorf("create part %s: %w", partName, err)
	}

	part := newExportPart(partName, stream)
	w.parts = append(w.parts, part)
	w.byName[partName] = part
	w.current = part

	for _, wrap := range wraps {
		if err := wrap(part); err != nil {
			return nil, fmt.Errorf("prepare part %s: %w", partName, err)
		}
	}

	w.log.WithField("part", partName).Debug("part added")
	return part, nil
}

// Part returns a previously added part.
func (w *Writer) Part(name string) (*Part, bool) {
	partName, err := NormalizePartName(name)
	if err != nil {
		return nil, false
	}
	p, ok := w.byName[partName]
	return p, ok
}

// Parts returns the added parts in write order.
func (w *Writer) Parts() []*Part {
	out := make([]*Part, len(w.parts))
	copy(out, w.parts)
	return out
}

// AddContentType registers an extension default.
func (w *Writer) AddContentType(ext, contentType string) error {
	return w.types.AddDefault(ext, contentType)
}

// AddPartContentType declares the content type of one part, adding an
// override only when the extension default differs.
func (w *Writer) AddPartContentType(name, contentType string) error {
	partName, err := NormalizePartName(name)
	if err != nil {
		return err
	}
	return w.types.AddForPart(partName, contentType)
}

// ContentTypes exposes the content type table being built.
func (w *Writer) ContentTypes() *ContentTypes { return w.types }

// RelationshipsExtension returns the extension used for relationship sidecars.
func (w *Writer) RelationshipsExtension() string { return w.relsExt }

// AddRootRelationship adds a relationship from the package root.
func (w *Writer) AddRootRelationship(relType, target string) (Relationship, error) {
	if w.closed {
		return Relationship{}, ErrWriterClosed
	}
	rel, err := newRelationship(relType, target)
	if err != nil {
		return Relationship{}, err
	}
	rel.ID = w.nextRelationshipID()
	w.rootRels = append(w.rootRels, rel)

	w.log.WithFields(logrus.Fields{"id": rel.ID, "type": relType, "target": rel.Target}).Debug("root relationship added")
	return rel, nil
}

// AddPartRelationship adds a relationship from part to target. A part may
// carry at most one print ticket.
func (w *Writer) AddPartRelationship(part *Part, relType, target string) (Relationship, error) {
	if w.closed {
		return Relationship{}, ErrWriterClosed
	}
	if owned, ok := w.byName[part.Name()]; !ok || owned != part {
		return Relationship{}, fmt.Errorf("%w: %s does not belong to this writer", ErrPartNotFound, part.Name())
	}
	rel, err := newRelationship(relType, target)
	if err != nil {
		return Relationship{}, err
	}
	if relType == PrintTicketRelationshipType {
		if _, dup := part.FindRelationship(PrintTicketRelationshipType); dup {
			return Relationship{}, fmt.Errorf("%w: %s", ErrDuplicatePrintTicket, part.Name())
		}
	}

	rel.ID = w.nextRelationshipID()
	part.rels = append(part.rels, rel)

	w.log.WithFields(logrus.Fields{
		"id": rel.ID, "type": relType, "source": part.Name(), "target": rel.Target,
	}).Debug("part relationship added")
	return rel, nil
}

// RootRelationships returns the root relationships added so far.
func (w *Writer) RootRelationships() []Relationship {
	out := make([]Relationship, len(w.rootRels))
	copy(out, w.rootRels)
	return out
}

// AddRelationshipHook registers a hook run on Close.
func (w *Writer) AddRelationshipHook(hook RelationshipHook) {
	w.hooks = append(w.hooks, hook)
}

// AddPartHook registers a hook run on every AddPart, including parts added
// by relationship hooks. Hooks run in registration order.
func (w *Writer) AddPartHook(hook PartHook) {
	w.partHook = append(w.partHook, hook)
}

// Close closes the open part, runs the relationship hooks and writes the
// root relationships, per-part relationship sidecars and content types
// before finalizing the archive.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.closeCurrent(); err != nil {
		return err
	}
	for _, hook := range w.hooks {
		if err := hook(w); err != nil {
			return fmt.Errorf("relationship hook: %w", err)
		}
	}
	if err := w.closeCurrent(); err != nil {
		return err
	}
	w.closed = true

	if err := w.types.AddDefault(w.relsExt, RelationshipsContentType); err != nil {
		return err
	}

	rootRels := "/_rels/." + w.relsExt
	if err := w.writeXMLEntry(rootRels, func(dst io.Writer) error {
		return encodeRelationships(dst, w.rootRels)
	}); err != nil {
		return err
	}

	for _, part := range w.parts {
		if len(part.rels) == 0 {
			continue
		}
		if err := w.writeXMLEntry(RelationshipsPartName(part.name, w.relsExt), func(dst io.Writer) error {
			return encodeRelationships(dst, part.rels)
		}); err != nil {
			return err
		}
	}

	if err := w.writeXMLEntry("/"+ContentTypesEntry, w.types.encode); err != nil {
		return err
	}

	if err := w.ar.Close(); err != nil {
		return err
	}

	w.log.WithFields(logrus.Fields{
		"parts":         len(w.parts),
		"relationships": w.nextID,
	}).Info("package written")
	return nil
}

func (w *Writer) closeCurrent() error {
	if w.current == nil {
		return nil
	}
	part := w.current
	w.current = nil
	if err := part.Close(); err != nil {
		return fmt.Errorf("close part %s: %w", part.name, err)
	}
	return nil
}

func (w *Writer) writeXMLEntry(partName string, encode func(io.Writer) error) error {
	stream, err := w.ar.CreateEntry(entryName(partName), w.modTime)
	if err != nil {
		return fmt.Errorf("create %s: %w", partName, err)
	}
	if err := encode(stream); err != nil {
		return fmt.Errorf("write %s: %w", partName, err)
	}
	return stream.Close()
}

// newRelationship resolves a target. Absolute URIs are external and kept
// verbatim; anything else must name a part.
func newRelationship(relType, target string) (Relationship, error) {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return Relationship{Type: relType, Target: target, External: true}, nil
	}
	partName, err := NormalizePartName(target)
	if err != nil {
		return Relationship{}, err
	}
	return Relationship{Type: relType, Target: partName}, nil
}

func (w *Writer) nextRelationshipID() string {
	id := fmt.Sprintf("rel%d", w.nextID)
	w.nextID++
	return id
}
