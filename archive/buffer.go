// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"errors"
	"io"
)

// Buffer is an in-memory io.WriteSeeker and io.ReaderAt. It lets a package be
// written and reopened without touching the filesystem.
type Buffer struct {
	data []byte // The underlying byte slice
	pos  int64  // Current read/write position
}

// NewBuffer creates an empty Buffer with the given initial capacity.
// If capacity is negative, it defaults to 0.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, max(0, capacity))}
}

// Write writes len(p) bytes at the current position, expanding if necessary.
// Grows the buffer exponentially to amortize allocation costs.
func (b *Buffer) Write(p []byte) (n int, err error) {
	// If at the end of the data
	if b.pos == int64(len(b.data)) {
		b.data = append(b.data, p...)
		b.pos += int64(len(p))
		return len(p), nil
	}

	required := b.pos + int64(len(p))
	if required > int64(cap(b.data)) {
		// Grow buffer by at least doubling, but enough to fit required data
		newCap := max(int64(cap(b.data))*2, required, 64)
		newData := make([]byte, len(b.data), newCap)
		copy(newData, b.data)
		b.data = newData
	}

	// Extend slice if writing beyond current length
	if required > int64(len(b.data)) {
		b.data = b.data[:required]
	}

	n = copy(b.data[b.pos:], p)
	b.pos += int64(n)

	return n, nil
}

// Seek sets the offset for the next Write.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}

	if newPos < 0 {
		return 0, errors.New("negative position")
	}

	b.pos = newPos
	return newPos, nil
}

// ReadAt implements io.ReaderAt independently of the write position.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes returns the written data. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written.
func (b *Buffer) Len() int64 { return int64(len(b.data)) }

// Reset clears the buffer and resets position to 0.
// Maintains existing capacity to avoid reallocations.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}
