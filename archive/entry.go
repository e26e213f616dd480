// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"math"
	"time"

	"github.com/lemon4ksan/opcpack/internal"
	"github.com/lemon4ksan/opcpack/internal/sys"
)

// Limits enforced by the writer.
const (
	MaxNameLength = 32000
	MaxEntries    = math.MaxUint32
)

// General purpose flag bits.
const (
	flagUTF8 uint16 = 0x0800
)

// Entry describes a single archive member. Sizes and checksum are final only
// after the entry has been closed.
type Entry struct {
	name              string
	comment           string
	modTime           time.Time
	method            Method
	flags             uint16
	crc32             uint32
	compressedSize    uint64
	uncompressedSize  uint64
	localHeaderOffset uint64
	dataOffset        uint64
	hostSystem        sys.HostSystem
	zip64Slot         bool
	sealed            bool
}

// Name returns the archive path of the entry.
func (e *Entry) Name() string { return e.name }

// Comment returns the entry comment.
func (e *Entry) Comment() string { return e.comment }

// ModTime returns the DOS-resolution modification time.
func (e *Entry) ModTime() time.Time { return e.modTime }

// Method returns the compression method.
func (e *Entry) Method() Method { return e.method }

// CRC32 returns the checksum of the uncompressed data.
func (e *Entry) CRC32() uint32 { return e.crc32 }

// CompressedSize returns the number of stored payload bytes.
func (e *Entry) CompressedSize() uint64 { return e.compressedSize }

// UncompressedSize returns the size of the decompressed data.
func (e *Entry) UncompressedSize() uint64 { return e.uncompressedSize }

// LocalHeaderOffset returns the offset of the local file header relative to
// the start of the archive.
func (e *Entry) LocalHeaderOffset() uint64 { return e.localHeaderOffset }

// Sealed reports whether the entry was closed and its sizes are final.
func (e *Entry) Sealed() bool { return e.sealed }

// RequiresZip64 reports whether any of the entry's 32-bit fields overflow.
func (e *Entry) RequiresZip64() bool {
	return e.compressedSize >= math.MaxUint32 ||
		e.uncompressedSize >= math.MaxUint32 ||
		e.localHeaderOffset >= math.MaxUint32
}

func (e *Entry) versionNeeded() uint16 {
	if e.zip64Slot || e.RequiresZip64() {
		return internal.Zip64VersionNeeded
	}
	return internal.DeflateVersionNeeded
}

// localHeader builds the local header written when the entry is created.
// Sizes and CRC are zero placeholders patched on close.
func (e *Entry) localHeader() internal.LocalFileHeader {
	stamp := stampOf(e.modTime)
	h := internal.LocalFileHeader{
		VersionNeededToExtract: e.versionNeeded(),
		GeneralPurposeBitFlag:  e.flags,
		CompressionMethod:      uint16(e.method),
		LastModFileTime:        stamp.clock,
		LastModFileDate:        stamp.date,
		FilenameLength:         uint16(len(e.name)),
		Filename:               e.name,
	}
	if e.zip64Slot {
		h.ExtraField = internal.EncodeZip64LocalExtraField(0, 0)
		h.ExtraFieldLength = uint16(len(h.ExtraField))
	}
	return h
}

// centralDirRecord builds the central directory record for a sealed entry,
// substituting sentinels and a ZIP64 extra field where values overflow.
func (e *Entry) centralDirRecord() internal.CentralDirectory {
	stamp := stampOf(e.modTime)
	d := internal.CentralDirectory{
		VersionMadeBy:          e.hostSystem.VersionMadeBy(),
		VersionNeededToExtract: e.versionNeeded(),
		GeneralPurposeBitFlag:  e.flags,
		CompressionMethod:      uint16(e.method),
		LastModFileTime:        stamp.clock,
		LastModFileDate:        stamp.date,
		CRC32:                  e.crc32,
		CompressedSize:         clamp32(e.compressedSize),
		UncompressedSize:       clamp32(e.uncompressedSize),
		FilenameLength:         uint16(len(e.name)),
		FileCommentLength:      uint16(len(e.comment)),
		LocalHeaderOffset:      clamp32(e.localHeaderOffset),
		Filename:               e.name,
		Comment:                e.comment,
	}
	if e.hostSystem == sys.HostSystemUNIX {
		d.ExternalFileAttributes = 0100644 << 16
	}
	if e.RequiresZip64() {
		field := internal.EncodeZip64ExtraField(e.uncompressedSize, e.compressedSize, e.localHeaderOffset)
		d.ExtraField = map[uint16][]byte{internal.Zip64ExtraFieldTag: field}
		d.ExtraFieldLength = uint16(len(field))
	}
	return d
}

func clamp32(v uint64) uint32 {
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
