// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Method represents the compression algorithm of an entry.
type Method uint16

const (
	Stored   Method = 0 // No compression - data stored as-is
	Deflated Method = 8 // DEFLATE compression
)

func (m Method) String() string {
	switch m {
	case Stored:
		return "stored"
	case Deflated:
		return "deflated"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// Compression levels for DEFLATE algorithm
const (
	DeflateNormal    = 6 // Default compression level (good balance between speed and ratio)
	DeflateMaximum   = 9 // Maximum compression (best ratio, slowest speed)
	DeflateFast      = 3 // Fast compression (lower ratio, faster speed)
	DeflateSuperFast = 1 // Super fast compression (lowest ratio, fastest speed)
)

// chunkSize bounds how much plaintext is handed to the compressor per call.
const chunkSize = 64 * 1024

// newDeflateWriter creates a raw DEFLATE writer. Out of range levels fall
// back to DeflateNormal.
func newDeflateWriter(dest io.Writer, level int) (*flate.Writer, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = DeflateNormal
	}
	return flate.NewWriter(dest, level)
}

// compressionLevelBits maps a level onto general purpose flag bits 1-2.
func compressionLevelBits(level int) uint16 {
	switch level {
	case DeflateSuperFast:
		return 0x0006
	case DeflateFast:
		return 0x0004
	case DeflateMaximum:
		return 0x0002
	default:
		return 0x0000
	}
}

// decompress returns a stream of uncompressed data for the given method.
func decompress(method Method, src io.Reader) (io.ReadCloser, error) {
	switch method {
	case Stored:
		return io.NopCloser(src), nil
	case Deflated:
		return flate.NewReader(src), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrAlgorithm, method)
}
