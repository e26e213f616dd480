// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import "errors"

var (
	// ErrFormat is returned when the input is not a valid ZIP archive.
	ErrFormat = errors.New("zip: not a valid zip file")

	// ErrArchiveFinished is returned when writing to a finalized archive.
	ErrArchiveFinished = errors.New("zip: archive already finished")

	// ErrEntryClosed is returned when writing to an entry stream after it was closed.
	ErrEntryClosed = errors.New("zip: entry already closed")

	// ErrUserAborted is returned when the caller's context is cancelled mid-operation.
	ErrUserAborted = errors.New("zip: user aborted")

	// ErrAlgorithm is returned when a compression algorithm is not supported.
	ErrAlgorithm = errors.New("zip: unsupported compression algorithm")

	// ErrChecksum is returned when reading a file checksum does not match.
	ErrChecksum = errors.New("zip: checksum error")

	// ErrSizeMismatch is returned when the uncompressed size does not match the header.
	ErrSizeMismatch = errors.New("zip: uncompressed size mismatch")

	// ErrInvalidName is returned for empty or non UTF-8 entry names.
	ErrInvalidName = errors.New("zip: invalid entry name")

	// ErrDuplicateEntry is returned when attempting to add an entry with a name that already exists.
	ErrDuplicateEntry = errors.New("zip: duplicate entry name")

	// ErrFilenameTooLong is returned when an entry name exceeds MaxNameLength bytes.
	ErrFilenameTooLong = errors.New("zip: filename too long")

	// ErrTooManyEntries is returned when the entry count reaches MaxEntries.
	ErrTooManyEntries = errors.New("zip: too many entries")

	// ErrZip64Required is returned when an entry outgrows 32-bit fields in an
	// archive that was not opened in ZIP64 mode.
	ErrZip64Required = errors.New("zip: entry requires zip64 mode")
)
