// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shadow struct for binary reading (excluding string/slice fields).
type rawLocalHeader struct {
	Signature              uint32
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
}

func TestLocalFileHeader_EncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header LocalFileHeader
	}{
		{
			name: "plain entry",
			header: LocalFileHeader{
				VersionNeededToExtract: 20,
				CompressionMethod:      8,
				CRC32:                  0x12345678,
				CompressedSize:         100,
				UncompressedSize:       200,
				FilenameLength:         15,
				Filename:               "3D/3dmodel.model",
			},
		},
		{
			name: "entry with zip64 slot",
			header: LocalFileHeader{
				VersionNeededToExtract: 45,
				CompressionMethod:      8,
				CompressedSize:         math.MaxUint32,
				UncompressedSize:       math.MaxUint32,
				FilenameLength:         10,
				ExtraFieldLength:       Zip64LocalExtraFieldLen,
				Filename:               "_rels/.rels",
				ExtraField:             EncodeZip64LocalExtraField(1<<33, 1<<32),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.header.FilenameLength = uint16(len(tt.header.Filename))
			encoded := tt.header.Encode()

			var raw rawLocalHeader
			require.NoError(t, binary.Read(bytes.NewReader(encoded), binary.LittleEndian, &raw))
			assert.Equal(t, LocalFileHeaderSignature, raw.Signature)
			assert.Equal(t, tt.header.CRC32, raw.CRC32)
			assert.Len(t, encoded, LocalFileHeaderLen+len(tt.header.Filename)+len(tt.header.ExtraField))

			decoded, err := ReadLocalFileHeader(bytes.NewReader(encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.header.Filename, decoded.Filename)
			assert.Equal(t, tt.header.CompressedSize, decoded.CompressedSize)
			assert.Equal(t, len(tt.header.ExtraField), len(decoded.ExtraField))
		})
	}
}

func TestReadLocalFileHeader_BadSignature(t *testing.T) {
	_, err := ReadLocalFileHeader(bytes.NewReader(make([]byte, 64)))
	assert.Error(t, err)
}

func TestCentralDirectory_RoundTrip(t *testing.T) {
	zip64 := EncodeZip64ExtraField(1<<32+5, 1<<32+1, 10)
	entry := CentralDirectory{
		VersionMadeBy:     3<<8 | 63,
		CRC32:             0xAABBCCDD,
		CompressedSize:    math.MaxUint32,
		UncompressedSize:  math.MaxUint32,
		Filename:          "3D/big.model",
		ExtraField:        map[uint16][]byte{Zip64ExtraFieldTag: zip64},
		Comment:           "note",
		LocalHeaderOffset: 10,
	}
	entry.FilenameLength = uint16(len(entry.Filename))
	entry.ExtraFieldLength = uint16(len(zip64))
	entry.FileCommentLength = uint16(len(entry.Comment))

	encoded := entry.Encode()
	require.Equal(t, CentralDirectorySignature, binary.LittleEndian.Uint32(encoded[0:4]))

	decoded, err := ReadCentralDirEntry(bytes.NewReader(encoded[4:]))
	require.NoError(t, err)
	assert.Equal(t, entry.Filename, decoded.Filename)
	assert.Equal(t, entry.Comment, decoded.Comment)

	u, c, o, err := ResolveZip64(decoded.ExtraField[Zip64ExtraFieldTag],
		uint64(decoded.UncompressedSize), uint64(decoded.CompressedSize), uint64(decoded.LocalHeaderOffset))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<32+5), u)
	assert.Equal(t, uint64(1<<32+1), c)
	assert.Equal(t, uint64(10), o)
}

func TestEncodeZip64ExtraField_OnlySentinelValues(t *testing.T) {
	tests := []struct {
		name                  string
		uncomp, comp, offset  uint64
		wantPayload           int
	}{
		{"nothing large", 10, 10, 10, 0},
		{"just below limit", math.MaxUint32 - 1, 1, 1, 0},
		{"at sentinel", math.MaxUint32, 1, 1, 8},
		{"all large", 1 << 40, 1 << 40, 1 << 40, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := EncodeZip64ExtraField(tt.uncomp, tt.comp, tt.offset)
			assert.Equal(t, uint16(tt.wantPayload), binary.LittleEndian.Uint16(field[2:4]))
			assert.Len(t, field, 4+tt.wantPayload)
		})
	}
}

func TestEndOfCentralDir_Encode(t *testing.T) {
	comment := "End of Archive"
	encoded := EncodeEndOfCentralDirRecord(5, 1024, 2048, comment, false)
	require.Len(t, encoded, EndOfCentralDirLen+len(comment))
	assert.Equal(t, EndOfCentralDirSignature, binary.LittleEndian.Uint32(encoded[0:4]))

	end, err := ReadEndOfCentralDir(bytes.NewReader(encoded[4:]))
	require.NoError(t, err)
	assert.Equal(t, uint16(5), end.TotalNumberOfEntries)
	assert.Equal(t, uint32(1024), end.CentralDirSize)
	assert.Equal(t, uint32(2048), end.CentralDirOffset)
	assert.Equal(t, comment, end.Comment)
	assert.False(t, end.IsZip64())
}

func TestEndOfCentralDir_Zip64Sentinels(t *testing.T) {
	encoded := EncodeEndOfCentralDirRecord(5, 1024, 2048, "", true)

	end, err := ReadEndOfCentralDir(bytes.NewReader(encoded[4:]))
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), end.TotalNumberOfEntries)
	assert.Equal(t, uint32(math.MaxUint32), end.CentralDirSize)
	assert.Equal(t, uint32(math.MaxUint32), end.CentralDirOffset)
	assert.True(t, end.IsZip64())
}

func TestZip64Records(t *testing.T) {
	t.Run("end of central directory", func(t *testing.T) {
		encoded := EncodeZip64EndOfCentralDirRecord(45, 100, 5000, 10000)
		require.Len(t, encoded, Zip64EndOfCentralDirLen)
		assert.Equal(t, Zip64EndOfCentralDirSignature, binary.LittleEndian.Uint32(encoded[0:4]))
		assert.Equal(t, uint64(44), binary.LittleEndian.Uint64(encoded[4:12]))

		rec, err := ReadZip64EndOfCentralDir(bytes.NewReader(encoded[4:]))
		require.NoError(t, err)
		assert.Equal(t, uint64(100), rec.TotalNumberOfEntries)
		assert.Equal(t, uint64(5000), rec.CentralDirSize)
		assert.Equal(t, uint64(10000), rec.CentralDirOffset)
	})

	t.Run("locator", func(t *testing.T) {
		encoded := EncodeZip64EndOfCentralDirLocator(9999)
		require.Len(t, encoded, Zip64LocatorLen)

		loc, err := ReadZip64EndOfCentralDirLocator(bytes.NewReader(encoded[4:]))
		require.NoError(t, err)
		assert.Equal(t, uint64(9999), loc.Zip64EndOfCentralDirOffset)
		assert.Equal(t, uint32(1), loc.TotalNumberOfDisks)
	})
}

func TestDataDescriptor(t *testing.T) {
	for _, zip64 := range []bool{false, true} {
		d := DataDescriptor{CRC32: 0xCAFEBABE, CompressedSize: 77, UncompressedSize: 99}
		encoded := d.Encode(zip64)

		got, err := ReadDataDescriptor(bytes.NewReader(encoded), zip64)
		require.NoError(t, err)
		assert.Equal(t, d, got)

		// Without the optional signature
		got, err = ReadDataDescriptor(io.MultiReader(bytes.NewReader(encoded[4:])), zip64)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestParseExtraField_Truncated(t *testing.T) {
	raw := []byte{0x01, 0x00, 0x10, 0x00, 0x01}
	assert.Empty(t, ParseExtraField(raw))
}
