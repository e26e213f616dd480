// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opc maps Open Packaging Conventions onto the archive layer: parts,
// relationships and content types resolved by extension default or per-part
// override.
package opc

import (
	"fmt"
	"path"
	"strings"
)

// Well-known package paths and types.
const (
	ContentTypesEntry      = "[Content_Types].xml"
	RootRelationshipsPart  = "/_rels/.rels"
	DefaultRelsExtension   = "rels"
	RelationshipsNamespace = "http://schemas.openxmlformats.org/package/2006/relationships"
	ContentTypesNamespace  = "http://schemas.openxmlformats.org/package/2006/content-types"

	RelationshipsContentType = "application/vnd.openxmlformats-package.relationships+xml"
	ModelContentType         = "application/vnd.ms-package.3dmanufacturing-3dmodel+xml"
	PrintTicketContentType   = "application/vnd.ms-printing.printticket+xml"

	StartPartRelationshipType    = "http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"
	ThumbnailRelationshipType    = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/thumbnail"
	PrintTicketRelationshipType  = "http://schemas.microsoft.com/3dmanufacturing/2013/01/printticket"
	MustPreserveRelationshipType = "http://schemas.openxmlformats.org/package/2006/relationships/mustpreserve"
)

// NormalizePartName returns the canonical absolute form of a part name:
// forward slashes, a single leading slash, no dot segments.
func NormalizePartName(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidPartName)
	}
	clean := path.Clean("/" + name)
	if clean == "/" || strings.HasSuffix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartName, name)
	}
	return clean, nil
}

// entryName maps a part name onto its archive entry name.
func entryName(partName string) string {
	return strings.TrimPrefix(partName, "/")
}

// extension returns the lower-case extension of a part name without the dot.
func extension(partName string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(partName), "."))
}

// RelationshipsPartName returns the sidecar holding the relationships of
// partName: <dir>/_rels/<name>.<relsExt>.
func RelationshipsPartName(partName, relsExt string) string {
	dir, file := path.Split(partName)
	return dir + "_rels/" + file + "." + relsExt
}

// isReserved reports whether name is managed by the package itself.
func isReserved(partName, relsExt string) bool {
	if strings.EqualFold(entryName(partName), ContentTypesEntry) {
		return true
	}
	return path.Base(path.Dir(partName)) == "_rels" && extension(partName) == relsExt
}
