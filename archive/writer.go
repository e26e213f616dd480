// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/internal"
	"github.com/lemon4ksan/opcpack/internal/sys"
)

// WriterOption configures a Writer.
type WriterOption func(w *Writer)

// WithZip64 forces ZIP64 records: every local header reserves a ZIP64 slot and
// the archive ends with ZIP64 end of central directory records.
func WithZip64(enabled bool) WriterOption {
	return func(w *Writer) {
		w.zip64 = enabled
	}
}

// WithCompressionLevel sets the deflate level. Level 0 stores entries
// without compression.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithComment sets the archive comment.
func WithComment(comment string) WriterOption {
	return func(w *Writer) {
		w.comment = comment
	}
}

// WithWriterLogger sets the logger. Nil keeps the default.
func WithWriterLogger(logger *logrus.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.log = logger.WithField("component", "archive.writer")
		}
	}
}

// WithWriterContext makes chunk writes abort with ErrUserAborted once ctx is done.
func WithWriterContext(ctx context.Context) WriterOption {
	return func(w *Writer) {
		w.ctx = ctx
	}
}

// Writer streams a ZIP archive into a seekable sink one entry at a time.
// Each entry's header is written with placeholder sizes that are patched in
// place when the entry is closed. A Writer is not safe for concurrent use.
type Writer struct {
	dest     io.WriteSeeker
	out      *offsetWriter // Counts bytes relative to the archive start
	base     int64            // Sink position at which the archive starts
	ctx      context.Context
	zip64    bool
	level    int
	comment  string
	host     sys.HostSystem
	log      *logrus.Entry
	entries  []*Entry
	names    map[string]struct{}
	current  *entryWriter
	finished bool
	err      error // Sticky error that makes the archive unusable
}

// NewWriter creates a Writer appending at the current position of dest.
func NewWriter(dest io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	base, err := dest.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("query sink position: %w", err)
	}

	w := &Writer{
		dest:  dest,
		out:   &offsetWriter{w: dest},
		base:  base,
		ctx:   context.Background(),
		level: DeflateNormal,
		host:  sys.HostSystemByOS(),
		log:   logrus.StandardLogger().WithField("component", "archive.writer"),
		names: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Zip64 reports whether the writer was opened in ZIP64 mode.
func (w *Writer) Zip64() bool { return w.zip64 }

// Entries returns the entries created so far, in creation order.
func (w *Writer) Entries() []*Entry {
	out := make([]*Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// CreateEntry closes the open entry, if any, and starts a new one. A leading
// path delimiter is stripped from name. The returned stream stays valid until
// the next CreateEntry, CloseEntry or Finalize call.
func (w *Writer) CreateEntry(name string, modTime time.Time) (io.WriteCloser, error) {
	if w.finished {
		return nil, ErrArchiveFinished
	}
	if w.err != nil {
		return nil, w.err
	}
	if err := w.CloseEntry(); err != nil {
		return nil, err
	}
	if err := interrupted(w.ctx); err != nil {
		return nil, err
	}

	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" || !utf8.ValidString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFilenameTooLong, len(name))
	}
	if _, ok := w.names[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	if uint64(len(w.entries)) >= MaxEntries {
		return nil, ErrTooManyEntries
	}

	entry := &Entry{
		name:              name,
		modTime:           modTime,
		method:            Deflated,
		flags:             compressionLevelBits(w.level),
		localHeaderOffset: w.out.offset(),
		hostSystem:        w.host,
		zip64Slot:         w.zip64,
	}
	if w.level == 0 {
		entry.method = Stored
		entry.flags = 0
	}
	if !isASCII(name) {
		entry.flags |= flagUTF8
	}

	if _, err := w.out.Write(entry.localHeader().Encode()); err != nil {
		w.err = fmt.Errorf("write local header: %w", err)
		return nil, w.err
	}
	entry.dataOffset = w.out.offset()

	ew := &entryWriter{w: w, entry: entry, hash: crc32.NewIEEE()}
	if entry.method == Deflated {
		fw, err := newDeflateWriter(w.out, w.level)
		if err != nil {
			w.err = fmt.Errorf("create compressor: %w", err)
			return nil, w.err
		}
		ew.comp = fw
	}

	w.entries = append(w.entries, entry)
	w.names[name] = struct{}{}
	w.current = ew

	w.log.WithFields(logrus.Fields{
		"name":   name,
		"offset": entry.localHeaderOffset,
		"method": entry.method.String(),
	}).Debug("entry created")

	return ew, nil
}

// CloseEntry flushes the open entry and patches its local header with the
// final checksum and sizes. It is a no-op when no entry is open.
func (w *Writer) CloseEntry() error {
	ew := w.current
	if ew == nil {
		return nil
	}
	w.current = nil
	ew.closed = true

	if ew.comp != nil {
		if err := ew.comp.Close(); err != nil {
			w.err = fmt.Errorf("flush compressor: %w", err)
			return w.err
		}
	}

	e := ew.entry
	e.crc32 = ew.hash.Sum32()
	e.uncompressedSize = ew.written
	e.compressedSize = w.out.offset() - e.dataOffset
	e.sealed = true

	if !w.zip64 && e.RequiresZip64() {
		w.err = fmt.Errorf("%w: %s (%d bytes)", ErrZip64Required, e.name, e.uncompressedSize)
		return w.err
	}

	if err := w.patchLocalHeader(e); err != nil {
		w.err = err
		return err
	}

	w.log.WithFields(logrus.Fields{
		"name":         e.name,
		"crc32":        fmt.Sprintf("%08x", e.crc32),
		"compressed":   e.compressedSize,
		"uncompressed": e.uncompressedSize,
	}).Debug("entry closed")

	return nil
}

// patchLocalHeader seeks back to the entry's header, writes the final CRC and
// sizes (plus the ZIP64 slot in ZIP64 mode) and returns to the end of data.
func (w *Writer) patchLocalHeader(e *Entry) error {
	headerPos := w.base + int64(e.localHeaderOffset)

	if _, err := w.dest.Seek(headerPos+14, io.SeekStart); err != nil {
		return fmt.Errorf("seek to CRC position: %w", err)
	}

	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], e.crc32)
	if e.zip64Slot {
		binary.LittleEndian.PutUint32(buf[4:8], math.MaxUint32)
		binary.LittleEndian.PutUint32(buf[8:12], math.MaxUint32)
	} else {
		binary.LittleEndian.PutUint32(buf[4:8], uint32(e.compressedSize))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(e.uncompressedSize))
	}
	if _, err := w.dest.Write(buf[:]); err != nil {
		return fmt.Errorf("write CRC and sizes: %w", err)
	}

	if e.zip64Slot {
		slotPos := headerPos + internal.LocalFileHeaderLen + int64(len(e.name))
		if _, err := w.dest.Seek(slotPos, io.SeekStart); err != nil {
			return fmt.Errorf("seek to zip64 slot: %w", err)
		}
		if _, err := w.dest.Write(internal.EncodeZip64LocalExtraField(e.uncompressedSize, e.compressedSize)); err != nil {
			return fmt.Errorf("write zip64 slot: %w", err)
		}
	}

	if _, err := w.dest.Seek(w.base+w.out.pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end of data: %w", err)
	}
	return nil
}

// Finalize closes the open entry and writes the central directory and end
// records. Any further write fails with ErrArchiveFinished.
func (w *Writer) Finalize() error {
	if w.finished {
		return ErrArchiveFinished
	}
	if err := w.CloseEntry(); err != nil {
		return err
	}
	if w.err != nil {
		return w.err
	}
	w.finished = true

	cdOffset := w.out.offset()
	needZip64 := w.zip64 || len(w.entries) >= math.MaxUint16
	for _, e := range w.entries {
		if err := interrupted(w.ctx); err != nil {
			return err
		}
		if e.RequiresZip64() {
			needZip64 = true
		}
		if _, err := w.out.Write(e.centralDirRecord().Encode()); err != nil {
			return fmt.Errorf("write central directory: %w", err)
		}
	}
	cdSize := w.out.offset() - cdOffset
	if cdSize >= math.MaxUint32 || cdOffset >= math.MaxUint32 {
		needZip64 = true
	}

	if needZip64 {
		zip64EndOffset := w.out.offset()
		record := internal.EncodeZip64EndOfCentralDirRecord(w.host.VersionMadeBy(), uint64(len(w.entries)), cdSize, cdOffset)
		if _, err := w.out.Write(record); err != nil {
			return fmt.Errorf("write zip64 end of central directory: %w", err)
		}
		if _, err := w.out.Write(internal.EncodeZip64EndOfCentralDirLocator(zip64EndOffset)); err != nil {
			return fmt.Errorf("write zip64 end of central directory locator: %w", err)
		}
	}

	end := internal.EncodeEndOfCentralDirRecord(uint64(len(w.entries)), cdSize, cdOffset, w.comment, needZip64)
	if _, err := w.out.Write(end); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"entries": len(w.entries),
		"size":    w.out.pos,
		"zip64":   needZip64,
	}).Debug("archive finalized")

	return nil
}

// Close finalizes the archive if that has not happened yet.
func (w *Writer) Close() error {
	if w.finished {
		return nil
	}
	return w.Finalize()
}

// entryWriter is the write stream bound to a single entry.
type entryWriter struct {
	w       *Writer
	entry   *Entry
	comp    *flate.Writer
	hash    hash.Hash32
	written uint64
	closed  bool
}

// Write compresses p in fixed-size chunks, updating the running CRC and size.
func (ew *entryWriter) Write(p []byte) (int, error) {
	if ew.closed {
		return 0, ErrEntryClosed
	}
	if ew.w.finished {
		return 0, ErrArchiveFinished
	}

	var total int
	for len(p) > 0 {
		if err := interrupted(ew.w.ctx); err != nil {
			ew.w.err = err
			return total, err
		}

		chunk := p[:min(len(p), chunkSize)]
		var err error
		if ew.comp != nil {
			_, err = ew.comp.Write(chunk)
		} else {
			_, err = ew.w.out.Write(chunk)
		}
		if err != nil {
			ew.w.err = fmt.Errorf("write %s: %w", ew.entry.name, err)
			return total, ew.w.err
		}

		ew.hash.Write(chunk)
		ew.written += uint64(len(chunk))
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Close seals the entry. Closing a stream that is no longer current is a no-op.
func (ew *entryWriter) Close() error {
	if ew.closed {
		return nil
	}
	return ew.w.CloseEntry()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
