// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/internal"
	"github.com/lemon4ksan/opcpack/internal/sys"
	"github.com/lemon4ksan/opcpack/warning"
)

// ReaderOption configures a Reader.
type ReaderOption func(r *Reader)

// WithStrict disables the permissive fallback: any central directory
// inconsistency fails the open.
func WithStrict(strict bool) ReaderOption {
	return func(r *Reader) {
		r.strict = strict
	}
}

// WithWarnings routes recorded warnings into list.
func WithWarnings(list *warning.List) ReaderOption {
	return func(r *Reader) {
		if list != nil {
			r.warnings = list
		}
	}
}

// WithReaderLogger sets the logger. Nil keeps the default.
func WithReaderLogger(logger *logrus.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.log = logger.WithField("component", "archive.reader")
		}
	}
}

// WithReaderContext makes directory scans and entry reads abort with
// ErrUserAborted once ctx is done.
func WithReaderContext(ctx context.Context) ReaderOption {
	return func(r *Reader) {
		r.ctx = ctx
	}
}

// Reader gives random access to the entries of a ZIP archive. The central
// directory is parsed once on open; entry data is decompressed lazily.
type Reader struct {
	src      io.ReaderAt
	size     int64
	ctx      context.Context
	strict   bool
	log      *logrus.Entry
	warnings *warning.List
	entries  []*Entry
	index    map[string]*Entry
	base     int64 // Length of data prepended before the archive
	comment  string
}

// NewReader parses the central directory of the archive in src. If strict
// validation fails the directory is re-read in permissive mode and a
// ContainerInconsistent warning is recorded.
func NewReader(src io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		src:  src,
		size: size,
		ctx:  context.Background(),
		log:  logrus.StandardLogger().WithField("component", "archive.reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.warnings == nil {
		r.warnings = warning.NewList(warning.Fatal, r.log.Logger)
	}

	err := r.readDirectory(true)
	if err == nil {
		return r, nil
	}
	if r.strict || errors.Is(err, ErrUserAborted) {
		return nil, err
	}

	r.log.WithError(err).Warn("strict open failed, retrying in permissive mode")
	if perr := r.readDirectory(false); perr != nil {
		return nil, fmt.Errorf("%w (permissive: %v)", err, perr)
	}
	if werr := r.warnings.Add(warning.ContainerInconsistent, warning.InvalidOptionalValue,
		"container has inconsistencies: %v", err); werr != nil {
		return nil, werr
	}
	return r, nil
}

// NewReaderBytes opens an archive held in memory.
func NewReaderBytes(data []byte, opts ...ReaderOption) (*Reader, error) {
	return NewReader(bytes.NewReader(data), int64(len(data)), opts...)
}

// Warnings returns the warning collector used by the reader.
func (r *Reader) Warnings() *warning.List { return r.warnings }

// Comment returns the archive comment.
func (r *Reader) Comment() string { return r.comment }

// Entries returns all entries in central directory order.
func (r *Reader) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the entry names in central directory order.
func (r *Reader) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Entry looks up an entry by name. A leading path delimiter is ignored.
func (r *Reader) Entry(name string) (*Entry, bool) {
	e, ok := r.index[strings.TrimLeft(name, "/")]
	return e, ok
}

// EntrySize returns the uncompressed size of the named entry, or zero if it
// does not exist.
func (r *Reader) EntrySize(name string) uint64 {
	if e, ok := r.Entry(name); ok {
		return e.uncompressedSize
	}
	return 0
}

// FindEntry returns a decompressing stream over the named entry. Unknown
// names report found == false with a nil error. Closing the stream verifies
// the entry's CRC-32 and size.
func (r *Reader) FindEntry(name string) (rc io.ReadCloser, found bool, err error) {
	e, ok := r.Entry(name)
	if !ok {
		return nil, false, nil
	}
	rc, err = r.Open(e)
	if err != nil {
		return nil, true, err
	}
	return rc, true, nil
}

// Open returns a decompressing stream over e.
func (r *Reader) Open(e *Entry) (io.ReadCloser, error) {
	if err := interrupted(r.ctx); err != nil {
		return nil, err
	}
	if e.flags&0x1 != 0 {
		return nil, fmt.Errorf("%w: %s is encrypted", ErrAlgorithm, e.name)
	}

	data := io.NewSectionReader(r.src, r.base+int64(e.dataOffset), int64(e.compressedSize))
	rc, err := decompress(e.method, abortable{ctx: r.ctx, src: data})
	if err != nil {
		return nil, err
	}

	return &checksumReader{
		rc:   rc,
		hash: crc32.NewIEEE(),
		want: e.crc32,
		size: e.uncompressedSize,
	}, nil
}

// readDirectory locates the end records and loads every central directory
// entry. Strict mode rejects any inconsistency.
func (r *Reader) readDirectory(strict bool) error {
	r.entries = nil
	r.index = make(map[string]*Entry)
	r.base = 0

	endOffset, end, err := r.findEndOfCentralDir()
	if err != nil {
		return err
	}
	r.comment = end.Comment

	entriesNum := uint64(end.TotalNumberOfEntries)
	cdSize := uint64(end.CentralDirSize)
	cdOffset := uint64(end.CentralDirOffset)
	directoryEnd := endOffset // Where the central directory is expected to stop

	if end.IsZip64() {
		zip64Offset, zip64End, err := r.readZip64EndOfCentralDir(endOffset, strict)
		if err != nil {
			return err
		}
		entriesNum = zip64End.TotalNumberOfEntries
		cdSize = zip64End.CentralDirSize
		cdOffset = zip64End.CentralDirOffset
		directoryEnd = zip64Offset
	}

	if cdOffset+cdSize > uint64(directoryEnd) {
		return fmt.Errorf("%w: central directory extends past end record", ErrFormat)
	}
	if shift := directoryEnd - int64(cdOffset+cdSize); shift != 0 {
		if strict {
			return fmt.Errorf("%w: %d bytes between central directory and end record", ErrFormat, shift)
		}
		r.base = shift
	}

	if err := r.readCentralDir(cdOffset, cdSize, entriesNum, strict); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"entries": len(r.entries),
		"strict":  strict,
		"base":    r.base,
	}).Debug("central directory loaded")
	return nil
}

// findEndOfCentralDir scans backwards for the end of central directory record.
func (r *Reader) findEndOfCentralDir() (int64, internal.EndOfCentralDirectory, error) {
	var end internal.EndOfCentralDirectory

	if r.size < internal.EndOfCentralDirLen {
		return 0, end, fmt.Errorf("%w: file too small", ErrFormat)
	}

	searchLimit := min(int64(math.MaxUint16)+internal.EndOfCentralDirLen, r.size)
	buf := make([]byte, searchLimit)
	readPos := r.size - searchLimit
	if _, err := r.src.ReadAt(buf, readPos); err != nil && err != io.EOF {
		return 0, end, fmt.Errorf("read at %d: %w", readPos, err)
	}

	for p := len(buf) - internal.EndOfCentralDirLen; p >= 0; p-- {
		if p%4096 == 0 {
			if err := interrupted(r.ctx); err != nil {
				return 0, end, err
			}
		}
		if binary.LittleEndian.Uint32(buf[p:p+4]) != internal.EndOfCentralDirSignature {
			continue
		}
		end, err := internal.ReadEndOfCentralDir(bytes.NewReader(buf[p+4:]))
		if err != nil {
			continue
		}
		return readPos + int64(p), end, nil
	}

	return 0, end, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}

// readZip64EndOfCentralDir follows the locator in front of the classic end
// record. It returns the record's offset in the source.
func (r *Reader) readZip64EndOfCentralDir(endOffset int64, strict bool) (int64, internal.Zip64EndOfCentralDirectory, error) {
	var zip64End internal.Zip64EndOfCentralDirectory

	locatorOffset := endOffset - internal.Zip64LocatorLen
	if locatorOffset < 0 {
		return 0, zip64End, fmt.Errorf("%w: invalid zip64 locator offset", ErrFormat)
	}

	locReader := io.NewSectionReader(r.src, locatorOffset, internal.Zip64LocatorLen)
	if !verifySignature(locReader, internal.Zip64EndOfCentralDirLocatorSignature) {
		return 0, zip64End, fmt.Errorf("%w: expected zip64 end of central directory locator signature", ErrFormat)
	}
	locator, err := internal.ReadZip64EndOfCentralDirLocator(locReader)
	if err != nil {
		return 0, zip64End, fmt.Errorf("read zip64 end of central dir locator: %w", err)
	}
	if locator.TotalNumberOfDisks > 1 || (strict && locator.TotalNumberOfDisks != 1) {
		return 0, zip64End, fmt.Errorf("%w: locator reports %d disks", ErrFormat, locator.TotalNumberOfDisks)
	}

	// The record sits right before the locator; the stored offset may be
	// shifted by prepended data.
	recordOffset := locatorOffset - internal.Zip64EndOfCentralDirLen
	if strict && uint64(recordOffset) != locator.Zip64EndOfCentralDirOffset {
		return 0, zip64End, fmt.Errorf("%w: zip64 end record offset mismatch", ErrFormat)
	}
	if recordOffset < 0 {
		return 0, zip64End, fmt.Errorf("%w: invalid zip64 end of central directory offset", ErrFormat)
	}

	recReader := io.NewSectionReader(r.src, recordOffset, internal.Zip64EndOfCentralDirLen)
	if !verifySignature(recReader, internal.Zip64EndOfCentralDirSignature) {
		return 0, zip64End, fmt.Errorf("%w: expected zip64 end of central directory signature", ErrFormat)
	}
	zip64End, err = internal.ReadZip64EndOfCentralDir(recReader)
	if err != nil {
		return 0, zip64End, fmt.Errorf("read zip64 end of central dir: %w", err)
	}
	return recordOffset, zip64End, nil
}

// readCentralDir decodes records until the end of the directory. Strict mode
// requires the record count to match the end record.
func (r *Reader) readCentralDir(offset, size, declared uint64, strict bool) error {
	start := r.base + int64(offset)
	cdReader := io.NewSectionReader(r.src, start, int64(size))

	for {
		if err := interrupted(r.ctx); err != nil {
			return err
		}

		pos, _ := cdReader.Seek(0, io.SeekCurrent)
		if pos >= int64(size) {
			break
		}
		if !verifySignature(cdReader, internal.CentralDirectorySignature) {
			return fmt.Errorf("%w: expected central directory signature at entry %d", ErrFormat, len(r.entries))
		}

		record, err := internal.ReadCentralDirEntry(cdReader)
		if err != nil {
			return fmt.Errorf("%w: decode central dir entry: %w", ErrFormat, err)
		}

		entry, err := r.newEntry(record, strict)
		if err != nil {
			return err
		}
		if _, dup := r.index[entry.name]; dup {
			if strict {
				return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.name)
			}
			continue
		}
		r.entries = append(r.entries, entry)
		r.index[entry.name] = entry
	}

	if uint64(len(r.entries)) != declared && strict {
		return fmt.Errorf("%w: end record declares %d entries, found %d", ErrFormat, declared, len(r.entries))
	}
	return nil
}

// newEntry converts a central directory record and validates its local header.
func (r *Reader) newEntry(record internal.CentralDirectory, strict bool) (*Entry, error) {
	uncompressed := uint64(record.UncompressedSize)
	compressed := uint64(record.CompressedSize)
	offset := uint64(record.LocalHeaderOffset)

	if field, ok := record.ExtraField[internal.Zip64ExtraFieldTag]; ok {
		var err error
		uncompressed, compressed, offset, err = internal.ResolveZip64(field, uncompressed, compressed, offset)
		if err != nil && strict {
			return nil, fmt.Errorf("%w: zip64 extra field of %s: %w", ErrFormat, record.Filename, err)
		}
	}

	e := &Entry{
		name:              record.Filename,
		comment:           record.Comment,
		modTime:           dosStamp{date: record.LastModFileDate, clock: record.LastModFileTime}.Time(),
		method:            Method(record.CompressionMethod),
		flags:             record.GeneralPurposeBitFlag,
		crc32:             record.CRC32,
		compressedSize:    compressed,
		uncompressedSize:  uncompressed,
		localHeaderOffset: offset,
		hostSystem:        sys.HostSystem(record.VersionMadeBy >> 8),
		sealed:            true,
	}

	header, err := internal.ReadLocalFileHeader(io.NewSectionReader(r.src, r.base+int64(offset), r.size-r.base-int64(offset)))
	if err != nil {
		return nil, fmt.Errorf("%w: local header of %s: %w", ErrFormat, e.name, err)
	}
	if header.Filename != e.name && strict {
		return nil, fmt.Errorf("%w: local header name %q does not match %q", ErrFormat, header.Filename, e.name)
	}
	e.dataOffset = offset + internal.LocalFileHeaderLen + uint64(header.FilenameLength) + uint64(header.ExtraFieldLength)
	if e.dataOffset+e.compressedSize > uint64(r.size-r.base) {
		return nil, fmt.Errorf("%w: data of %s extends past end of file", ErrFormat, e.name)
	}
	return e, nil
}

// verifySignature checks whether the next 4 bytes match the given signature.
func verifySignature(r io.Reader, s uint32) bool {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(buf[:]) == s
}

// checksumReader wraps an io.ReadCloser to verify CRC32 checksum and size during reading.
type checksumReader struct {
	rc   io.ReadCloser
	hash hash.Hash32
	want uint32
	read uint64
	size uint64
}

// Read implements io.Reader interface while calculating CRC32 and tracking bytes read
func (cr *checksumReader) Read(p []byte) (int, error) {
	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		if cr.read > cr.size {
			return n, ErrSizeMismatch
		}
		cr.hash.Write(p[:n])
	}
	if err == io.EOF {
		if cr.read != cr.size {
			return n, fmt.Errorf("%w: read %d, want %d", ErrSizeMismatch, cr.read, cr.size)
		}
		if got := cr.hash.Sum32(); got != cr.want {
			return n, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, cr.want)
		}
	}
	return n, err
}

// Close implements io.Closer interface and verifies CRC32 of fully read streams
func (cr *checksumReader) Close() error {
	defer cr.rc.Close()

	// Streams closed before the end are not verified.
	if cr.read < cr.size {
		return nil
	}
	if got := cr.hash.Sum32(); got != cr.want {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, cr.want)
	}
	return nil
}
