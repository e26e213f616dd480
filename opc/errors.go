// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import "errors"

var (
	// ErrFormat is returned when an archive cannot be interpreted as a package.
	ErrFormat = errors.New("opc: invalid package")

	// ErrPartNotFound is returned when a requested part has no archive entry.
	ErrPartNotFound = errors.New("opc: part not found")

	// ErrInvalidPartName is returned for empty names or names reserved by the package.
	ErrInvalidPartName = errors.New("opc: invalid part name")

	// ErrDuplicatePart is returned when a part name is added twice.
	ErrDuplicatePart = errors.New("opc: duplicate part")

	// ErrDuplicateRelationshipID is returned when a relationships part declares an id twice.
	ErrDuplicateRelationshipID = errors.New("opc: duplicate relationship id")

	// ErrDuplicatePrintTicket is returned when a part gets a second print ticket.
	ErrDuplicatePrintTicket = errors.New("opc: duplicate print ticket")

	// ErrContentTypeConflict is returned when an extension default is redefined.
	ErrContentTypeConflict = errors.New("opc: conflicting content type")

	// ErrStreamKind is returned when reading an export part or writing an import part.
	ErrStreamKind = errors.New("opc: wrong stream kind")

	// ErrWriterClosed is returned when using a closed package writer.
	ErrWriterClosed = errors.New("opc: writer closed")
)
