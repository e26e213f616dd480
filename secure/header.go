// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	HeaderSize         = 12
	HeaderMajorVersion = 0
	HeaderMinorVersion = 1
)

var headerMagic = [5]byte{'%', '3', 'M', 'c', 'F'}

// Header prefixes every encrypted part stream.
//
// Length is the size of the header itself, HeaderSize for headers written
// here, and never the ciphertext length: a part is encrypted while it
// streams, so its size is unknown when the header goes out. Readers skip any
// extension bytes between HeaderSize and Length; the ciphertext runs from
// Length to the end of the entry.
type Header struct {
	Major  uint8
	Minor  uint8
	Length uint32
}

// NewHeader returns the header written by this package.
func NewHeader() Header {
	return Header{Major: HeaderMajorVersion, Minor: HeaderMinorVersion, Length: HeaderSize}
}

// Encode returns the 12-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, headerMagic[:])
	buf[5] = h.Major
	buf[6] = h.Minor
	buf[7] = 0
	binary.LittleEndian.PutUint32(buf[8:], h.Length)
	return buf
}

// WriteTo writes the header to w.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Encode())
	return int64(n), err
}

// ReadHeader reads and validates a header, consuming any extension bytes.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if !bytes.Equal(buf[:5], headerMagic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, buf[:5])
	}

	h := Header{Major: buf[5], Minor: buf[6], Length: binary.LittleEndian.Uint32(buf[8:])}
	if h.Major != HeaderMajorVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d.%d", ErrInvalidHeader, h.Major, h.Minor)
	}
	if h.Length < HeaderSize {
		return Header{}, fmt.Errorf("%w: length %d", ErrInvalidHeader, h.Length)
	}
	if extra := int64(h.Length) - HeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Header{}, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
	}
	return h, nil
}
