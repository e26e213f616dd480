// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal holds the packed little-endian record layouts of the ZIP
// container: local file headers, data descriptors, central directory records
// and the classic and ZIP64 end of central directory records.
package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Each record type must be identified using a header signature that identifies the record type.
// Signature values begin with the two byte constant marker of 0x4b50, representing the characters "PK".
const (
	CentralDirectorySignature            uint32 = 0x02014b50
	LocalFileHeaderSignature             uint32 = 0x04034b50
	DataDescriptorSignature              uint32 = 0x08074b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
)

// Fixed record lengths including the signature.
const (
	LocalFileHeaderLen       = 30
	CentralDirectoryLen      = 46
	EndOfCentralDirLen       = 22
	Zip64EndOfCentralDirLen  = 56
	Zip64LocatorLen          = 20
	Zip64LocalExtraFieldLen  = 20
	DataDescriptorLen        = 16
	Zip64DataDescriptorLen   = 24
	Zip64ExtraFieldTag       = 0x0001
	Zip64VersionNeeded       = 45
	DeflateVersionNeeded     = 20
	Uint16Sentinel           = math.MaxUint16
	Uint32Sentinel           = math.MaxUint32
	Zip64EndOfCentralDirSize = Zip64EndOfCentralDirLen - 12
)

var errShortRecord = errors.New("short record")

type LocalFileHeader struct {
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	FilenameLength         uint16
	ExtraFieldLength       uint16
	Filename               string
	ExtraField             []byte
}

func (h LocalFileHeader) Encode() []byte {
	size := LocalFileHeaderLen + int(h.FilenameLength) + int(h.ExtraFieldLength)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[6:8], h.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[8:10], h.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[10:12], h.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], h.FilenameLength)
	binary.LittleEndian.PutUint16(buf[28:30], h.ExtraFieldLength)

	copy(buf[LocalFileHeaderLen:], h.Filename)
	copy(buf[LocalFileHeaderLen+int(h.FilenameLength):], h.ExtraField)

	return buf
}

// ReadLocalFileHeader decodes a local header including its signature,
// name and extra field.
func ReadLocalFileHeader(src io.Reader) (LocalFileHeader, error) {
	var buf [LocalFileHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read source: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != LocalFileHeaderSignature {
		return LocalFileHeader{}, fmt.Errorf("local file header: bad signature %#x", binary.LittleEndian.Uint32(buf[0:4]))
	}

	h := LocalFileHeader{
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[4:6]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[6:8]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[8:10]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[10:12]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[12:14]),
		CRC32:                  binary.LittleEndian.Uint32(buf[14:18]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[18:22]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[22:26]),
		FilenameLength:         binary.LittleEndian.Uint16(buf[26:28]),
		ExtraFieldLength:       binary.LittleEndian.Uint16(buf[28:30]),
	}

	rest := make([]byte, int(h.FilenameLength)+int(h.ExtraFieldLength))
	if _, err := io.ReadFull(src, rest); err != nil {
		return LocalFileHeader{}, fmt.Errorf("read name and extra field: %w", err)
	}
	h.Filename = string(rest[:h.FilenameLength])
	h.ExtraField = rest[h.FilenameLength:]

	return h, nil
}

// DataDescriptor trails entry data when bit 3 of the general purpose flag is set.
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// Encode writes the descriptor with its optional signature. Sizes are
// written as 8-byte values when zip64 is set.
func (d DataDescriptor) Encode(zip64 bool) []byte {
	if zip64 {
		buf := make([]byte, Zip64DataDescriptorLen)
		binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
		binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
		binary.LittleEndian.PutUint64(buf[8:16], d.CompressedSize)
		binary.LittleEndian.PutUint64(buf[16:24], d.UncompressedSize)
		return buf
	}
	buf := make([]byte, DataDescriptorLen)
	binary.LittleEndian.PutUint32(buf[0:4], DataDescriptorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], d.CRC32)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(min(math.MaxUint32, d.CompressedSize)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(min(math.MaxUint32, d.UncompressedSize)))
	return buf
}

// ReadDataDescriptor decodes a descriptor. The leading signature is optional
// in the wild and is skipped when present.
func ReadDataDescriptor(src io.Reader, zip64 bool) (DataDescriptor, error) {
	var sig [4]byte
	if _, err := io.ReadFull(src, sig[:]); err != nil {
		return DataDescriptor{}, fmt.Errorf("read source: %w", err)
	}

	size := 12
	if zip64 {
		size = 20
	}
	buf := make([]byte, size)
	off := 0
	if binary.LittleEndian.Uint32(sig[:]) != DataDescriptorSignature {
		copy(buf, sig[:])
		off = 4
	}
	if _, err := io.ReadFull(src, buf[off:]); err != nil {
		return DataDescriptor{}, fmt.Errorf("read data descriptor: %w", err)
	}

	d := DataDescriptor{CRC32: binary.LittleEndian.Uint32(buf[0:4])}
	if zip64 {
		d.CompressedSize = binary.LittleEndian.Uint64(buf[4:12])
		d.UncompressedSize = binary.LittleEndian.Uint64(buf[12:20])
	} else {
		d.CompressedSize = uint64(binary.LittleEndian.Uint32(buf[4:8]))
		d.UncompressedSize = uint64(binary.LittleEndian.Uint32(buf[8:12]))
	}
	return d, nil
}

type CentralDirectory struct {
	VersionMadeBy          uint16
	VersionNeededToExtract uint16
	GeneralPurposeBitFlag  uint16
	CompressionMethod      uint16
	LastModFileTime        uint16
	LastModFileDate        uint16
	CRC32                  uint32
	CompressedSize         uint32
	UncompressedSize       uint32
	FilenameLength         uint16
	ExtraFieldLength       uint16
	FileCommentLength      uint16
	DiskNumberStart        uint16
	InternalFileAttributes uint16
	ExternalFileAttributes uint32
	LocalHeaderOffset      uint32
	Filename               string
	ExtraField             map[uint16][]byte
	Comment                string
}

// ReadCentralDirEntry decodes a central directory record whose signature
// has already been consumed.
func ReadCentralDirEntry(src io.Reader) (CentralDirectory, error) {
	var buf [CentralDirectoryLen - 4]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return CentralDirectory{}, fmt.Errorf("read source: %w", err)
	}

	entry := CentralDirectory{
		VersionMadeBy:          binary.LittleEndian.Uint16(buf[0:2]),
		VersionNeededToExtract: binary.LittleEndian.Uint16(buf[2:4]),
		GeneralPurposeBitFlag:  binary.LittleEndian.Uint16(buf[4:6]),
		CompressionMethod:      binary.LittleEndian.Uint16(buf[6:8]),
		LastModFileTime:        binary.LittleEndian.Uint16(buf[8:10]),
		LastModFileDate:        binary.LittleEndian.Uint16(buf[10:12]),
		CRC32:                  binary.LittleEndian.Uint32(buf[12:16]),
		CompressedSize:         binary.LittleEndian.Uint32(buf[16:20]),
		UncompressedSize:       binary.LittleEndian.Uint32(buf[20:24]),
		FilenameLength:         binary.LittleEndian.Uint16(buf[24:26]),
		ExtraFieldLength:       binary.LittleEndian.Uint16(buf[26:28]),
		FileCommentLength:      binary.LittleEndian.Uint16(buf[28:30]),
		DiskNumberStart:        binary.LittleEndian.Uint16(buf[30:32]),
		InternalFileAttributes: binary.LittleEndian.Uint16(buf[32:34]),
		ExternalFileAttributes: binary.LittleEndian.Uint32(buf[34:38]),
		LocalHeaderOffset:      binary.LittleEndian.Uint32(buf[38:42]),
	}

	if entry.FilenameLength > 0 {
		filename := make([]byte, entry.FilenameLength)
		if _, err := io.ReadFull(src, filename); err != nil {
			return CentralDirectory{}, fmt.Errorf("read filename: %w", err)
		}
		entry.Filename = string(filename)
	}

	if entry.ExtraFieldLength > 0 {
		extraField := make([]byte, entry.ExtraFieldLength)
		if _, err := io.ReadFull(src, extraField); err != nil {
			return CentralDirectory{}, fmt.Errorf("read extra field: %w", err)
		}
		entry.ExtraField = ParseExtraField(extraField)
	}

	if entry.FileCommentLength > 0 {
		comment := make([]byte, entry.FileCommentLength)
		if _, err := io.ReadFull(src, comment); err != nil {
			return CentralDirectory{}, fmt.Errorf("read comment: %w", err)
		}
		entry.Comment = string(comment)
	}

	return entry, nil
}

func (d CentralDirectory) Encode() []byte {
	totalSize := CentralDirectoryLen + int(d.FilenameLength) + int(d.ExtraFieldLength) + int(d.FileCommentLength)
	buf := make([]byte, totalSize)

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], d.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], d.VersionNeededToExtract)
	binary.LittleEndian.PutUint16(buf[8:10], d.GeneralPurposeBitFlag)
	binary.LittleEndian.PutUint16(buf[10:12], d.CompressionMethod)
	binary.LittleEndian.PutUint16(buf[12:14], d.LastModFileTime)
	binary.LittleEndian.PutUint16(buf[14:16], d.LastModFileDate)
	binary.LittleEndian.PutUint32(buf[16:20], d.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], d.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], d.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], d.FilenameLength)
	binary.LittleEndian.PutUint16(buf[30:32], d.ExtraFieldLength)
	binary.LittleEndian.PutUint16(buf[32:34], d.FileCommentLength)
	binary.LittleEndian.PutUint16(buf[34:36], d.DiskNumberStart)
	binary.LittleEndian.PutUint16(buf[36:38], d.InternalFileAttributes)
	binary.LittleEndian.PutUint32(buf[38:42], d.ExternalFileAttributes)
	binary.LittleEndian.PutUint32(buf[42:46], d.LocalHeaderOffset)

	offset := CentralDirectoryLen

	offset += copy(buf[offset:], d.Filename)

	// Determine deterministic order for extra fields
	for _, entry := range getSortedExtraField(d.ExtraField) {
		offset += copy(buf[offset:], entry)
	}

	copy(buf[offset:], d.Comment)

	return buf
}

type EndOfCentralDirectory struct {
	ThisDiskNum                     uint16
	DiskNumWithTheStartOfCentralDir uint16
	TotalNumberOfEntriesOnThisDisk  uint16
	TotalNumberOfEntries            uint16
	CentralDirSize                  uint32
	CentralDirOffset                uint32
	CommentLength                   uint16
	Comment                         string
}

// EncodeEndOfCentralDirRecord writes the classic trailer. With zip64 set every
// count, size and offset field carries its sentinel so readers are directed to
// the ZIP64 record; otherwise values saturate at the field width.
func EncodeEndOfCentralDirRecord(entriesNum uint64, centralDirSize uint64, centralDirOffset uint64, comment string, zip64 bool) []byte {
	commentLen := min(len(comment), math.MaxUint16)
	buf := make([]byte, EndOfCentralDirLen+commentLen)

	entries := uint16(min(math.MaxUint16, entriesNum))
	size := uint32(min(math.MaxUint32, centralDirSize))
	offset := uint32(min(math.MaxUint32, centralDirOffset))
	if zip64 {
		entries, size, offset = Uint16Sentinel, Uint32Sentinel, Uint32Sentinel
	}

	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], 0)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint16(buf[8:10], entries)
	binary.LittleEndian.PutUint16(buf[10:12], entries)
	binary.LittleEndian.PutUint32(buf[12:16], size)
	binary.LittleEndian.PutUint32(buf[16:20], offset)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(commentLen))

	copy(buf[22:], comment[:commentLen])

	return buf
}

// ReadEndOfCentralDir decodes the classic trailer whose signature has already
// been consumed.
func ReadEndOfCentralDir(src io.Reader) (EndOfCentralDirectory, error) {
	var buf [EndOfCentralDirLen - 4]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return EndOfCentralDirectory{}, fmt.Errorf("read source: %w", err)
	}
	end := EndOfCentralDirectory{
		ThisDiskNum:                     binary.LittleEndian.Uint16(buf[0:2]),
		DiskNumWithTheStartOfCentralDir: binary.LittleEndian.Uint16(buf[2:4]),
		TotalNumberOfEntriesOnThisDisk:  binary.LittleEndian.Uint16(buf[4:6]),
		TotalNumberOfEntries:            binary.LittleEndian.Uint16(buf[6:8]),
		CentralDirSize:                  binary.LittleEndian.Uint32(buf[8:12]),
		CentralDirOffset:                binary.LittleEndian.Uint32(buf[12:16]),
		CommentLength:                   binary.LittleEndian.Uint16(buf[16:18]),
	}
	if end.CommentLength > 0 {
		commentBuf := make([]byte, end.CommentLength)
		if _, err := io.ReadFull(src, commentBuf); err != nil {
			return EndOfCentralDirectory{}, fmt.Errorf("read comment: %w", err)
		}
		end.Comment = string(commentBuf)
	}

	return end, nil
}

// IsZip64 reports whether any field of the classic trailer holds a sentinel.
func (e EndOfCentralDirectory) IsZip64() bool {
	return e.TotalNumberOfEntries == Uint16Sentinel ||
		e.TotalNumberOfEntriesOnThisDisk == Uint16Sentinel ||
		e.CentralDirSize == Uint32Sentinel ||
		e.CentralDirOffset == Uint32Sentinel
}

type Zip64EndOfCentralDirectory struct {
	Size                            uint64
	VersionMadeBy                   uint16
	VersionNeededToExtract          uint16
	ThisDiskNum                     uint32
	DiskNumWithTheStartOfCentralDir uint32
	TotalNumberOfEntriesOnThisDisk  uint64
	TotalNumberOfEntries            uint64
	CentralDirSize                  uint64
	CentralDirOffset                uint64
}

// ReadZip64EndOfCentralDir decodes the ZIP64 trailer whose signature has
// already been consumed.
func ReadZip64EndOfCentralDir(src io.Reader) (Zip64EndOfCentralDirectory, error) {
	var buf [Zip64EndOfCentralDirLen - 4]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDirectory{}, fmt.Errorf("read source: %w", err)
	}
	return Zip64EndOfCentralDirectory{
		Size:                            binary.LittleEndian.Uint64(buf[0:8]),
		VersionMadeBy:                   binary.LittleEndian.Uint16(buf[8:10]),
		VersionNeededToExtract:          binary.LittleEndian.Uint16(buf[10:12]),
		ThisDiskNum:                     binary.LittleEndian.Uint32(buf[12:16]),
		DiskNumWithTheStartOfCentralDir: binary.LittleEndian.Uint32(buf[16:20]),
		TotalNumberOfEntriesOnThisDisk:  binary.LittleEndian.Uint64(buf[20:28]),
		TotalNumberOfEntries:            binary.LittleEndian.Uint64(buf[28:36]),
		CentralDirSize:                  binary.LittleEndian.Uint64(buf[36:44]),
		CentralDirOffset:                binary.LittleEndian.Uint64(buf[44:52]),
	}, nil
}

func EncodeZip64EndOfCentralDirRecord(versionMadeBy uint16, entriesNum uint64, centralDirSize uint64, centralDirOffset uint64) []byte {
	buf := make([]byte, Zip64EndOfCentralDirLen)

	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirSignature)
	binary.LittleEndian.PutUint64(buf[4:12], Zip64EndOfCentralDirSize)
	binary.LittleEndian.PutUint16(buf[12:14], versionMadeBy)
	binary.LittleEndian.PutUint16(buf[14:16], Zip64VersionNeeded)
	binary.LittleEndian.PutUint32(buf[16:20], 0)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	binary.LittleEndian.PutUint64(buf[24:32], entriesNum)
	binary.LittleEndian.PutUint64(buf[32:40], entriesNum)
	binary.LittleEndian.PutUint64(buf[40:48], centralDirSize)
	binary.LittleEndian.PutUint64(buf[48:56], centralDirOffset)

	return buf
}

type Zip64EndOfCentralDirectoryLocator struct {
	EndOfCentralDirStartDiskNum uint32
	Zip64EndOfCentralDirOffset  uint64
	TotalNumberOfDisks          uint32
}

// ReadZip64EndOfCentralDirLocator decodes the locator whose signature has
// already been consumed.
func ReadZip64EndOfCentralDirLocator(src io.Reader) (Zip64EndOfCentralDirectoryLocator, error) {
	var buf [Zip64LocatorLen - 4]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDirectoryLocator{}, fmt.Errorf("read source: %w", err)
	}
	return Zip64EndOfCentralDirectoryLocator{
		EndOfCentralDirStartDiskNum: binary.LittleEndian.Uint32(buf[0:4]),
		Zip64EndOfCentralDirOffset:  binary.LittleEndian.Uint64(buf[4:12]),
		TotalNumberOfDisks:          binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

func EncodeZip64EndOfCentralDirLocator(endOfCentralDirOffset uint64) []byte {
	buf := make([]byte, Zip64LocatorLen)

	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirLocatorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], endOfCentralDirOffset)
	binary.LittleEndian.PutUint32(buf[16:20], 1)

	return buf
}

// EncodeZip64LocalExtraField builds the fixed 20-byte slot reserved in a
// local header: uncompressed size followed by compressed size.
func EncodeZip64LocalExtraField(uncompressedSize, compressedSize uint64) []byte {
	data := make([]byte, Zip64LocalExtraFieldLen)

	binary.LittleEndian.PutUint16(data[0:2], Zip64ExtraFieldTag)
	binary.LittleEndian.PutUint16(data[2:4], 16)
	binary.LittleEndian.PutUint64(data[4:12], uncompressedSize)
	binary.LittleEndian.PutUint64(data[12:20], compressedSize)

	return data
}

// EncodeZip64ExtraField builds the central directory variant. Only values
// whose 32-bit field carries the sentinel are present, in the order
// uncompressed size, compressed size, local header offset.
func EncodeZip64ExtraField(uncompressedSize, compressedSize, localHeaderOffset uint64) []byte {
	data := make([]byte, 4, 28)
	binary.LittleEndian.PutUint16(data[0:2], Zip64ExtraFieldTag)

	if uncompressedSize >= Uint32Sentinel {
		data = binary.LittleEndian.AppendUint64(data, uncompressedSize)
	}
	if compressedSize >= Uint32Sentinel {
		data = binary.LittleEndian.AppendUint64(data, compressedSize)
	}
	if localHeaderOffset >= Uint32Sentinel {
		data = binary.LittleEndian.AppendUint64(data, localHeaderOffset)
	}

	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)-4))
	return data
}

// ResolveZip64 replaces sentinel values with the ones carried by a ZIP64 extra
// field. field is the raw extra block including its 4-byte tag/size prefix.
func ResolveZip64(field []byte, uncompressed, compressed, offset uint64) (uint64, uint64, uint64, error) {
	if len(field) < 4 {
		return uncompressed, compressed, offset, errShortRecord
	}
	data := field[4:]
	pos := 0
	next := func(v *uint64) error {
		if *v != Uint32Sentinel {
			return nil
		}
		if len(data) < pos+8 {
			return errShortRecord
		}
		*v = binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
		return nil
	}
	if err := next(&uncompressed); err != nil {
		return uncompressed, compressed, offset, err
	}
	if err := next(&compressed); err != nil {
		return uncompressed, compressed, offset, err
	}
	if err := next(&offset); err != nil {
		return uncompressed, compressed, offset, err
	}
	return uncompressed, compressed, offset, nil
}

// getSortedExtraField returns a sorted slice of extra fields for deterministic writes.
func getSortedExtraField(extraField map[uint16][]byte) [][]byte {
	if len(extraField) == 0 {
		return nil
	}
	keys := make([]uint16, 0, len(extraField))
	for key := range extraField {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	fields := make([][]byte, len(extraField))
	for i, key := range keys {
		fields[i] = extraField[key]
	}
	return fields
}

// ParseExtraField converts raw extra field bytes into a map keyed by tag IDs.
func ParseExtraField(extraField []byte) map[uint16][]byte {
	m := make(map[uint16][]byte)

	for offset := 0; offset < len(extraField); {
		if offset+4 > len(extraField) {
			break
		}

		tag := binary.LittleEndian.Uint16(extraField[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(extraField[offset+2 : offset+4]))

		offset += 4
		if offset+size > len(extraField) {
			break
		}

		m[tag] = extraField[offset-4 : offset+size]
		offset += size
	}
	return m
}

// ExtraFieldLength returns the encoded length of all extra field blocks.
func ExtraFieldLength(extraField map[uint16][]byte) int {
	var n int
	for _, v := range extraField {
		n += len(v)
	}
	return n
}
