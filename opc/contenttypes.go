// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ContentTypes resolves the media type of a part from an extension default
// or a per-part override. Insertion order is kept for serialization.
type ContentTypes struct {
	defaults      map[string]string
	defaultOrder  []string
	overrides     map[string]string
	overrideOrder []string
}

// NewContentTypes returns an empty table.
func NewContentTypes() *ContentTypes {
	return &ContentTypes{
		defaults:  make(map[string]string),
		overrides: make(map[string]string),
	}
}

// AddDefault maps an extension to a content type. Adding the same pair again
// is a no-op; remapping an extension fails with ErrContentTypeConflict.
func (c *ContentTypes) AddDefault(ext, contentType string) error {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || contentType == "" {
		return fmt.Errorf("%w: empty extension or content type", ErrFormat)
	}
	if existing, ok := c.defaults[ext]; ok {
		if existing != contentType {
			return fmt.Errorf("%w: .%s is %s, not %s", ErrContentTypeConflict, ext, existing, contentType)
		}
		return nil
	}
	c.defaults[ext] = contentType
	c.defaultOrder = append(c.defaultOrder, ext)
	return nil
}

// AddOverride records a content type for one part.
func (c *ContentTypes) AddOverride(partName, contentType string) {
	if _, ok := c.overrides[partName]; !ok {
		c.overrideOrder = append(c.overrideOrder, partName)
	}
	c.overrides[partName] = contentType
}

// AddForPart declares the content type of a part. The extension default is
// created if missing; a part whose extension maps elsewhere gets an override.
func (c *ContentTypes) AddForPart(partName, contentType string) error {
	ext := extension(partName)
	if ext == "" {
		c.AddOverride(partName, contentType)
		return nil
	}
	existing, ok := c.defaults[ext]
	switch {
	case !ok:
		return c.AddDefault(ext, contentType)
	case existing != contentType:
		c.AddOverride(partName, contentType)
	}
	return nil
}

// Resolve returns the content type of a part, preferring overrides.
func (c *ContentTypes) Resolve(partName string) (string, bool) {
	if ct, ok := c.overrides[partName]; ok {
		return ct, true
	}
	ct, ok := c.defaults[extension(partName)]
	return ct, ok
}

// Default returns the content type registered for an extension.
func (c *ContentTypes) Default(ext string) (string, bool) {
	ct, ok := c.defaults[strings.ToLower(ext)]
	return ct, ok
}

// Override returns the override registered for a part.
func (c *ContentTypes) Override(partName string) (string, bool) {
	ct, ok := c.overrides[partName]
	return ct, ok
}

// ExtensionFor returns the first extension whose default is contentType.
func (c *ContentTypes) ExtensionFor(contentType string) (string, bool) {
	for _, ext := range c.defaultOrder {
		if c.defaults[ext] == contentType {
			return ext, true
		}
	}
	return "", false
}

// Declares reports whether contentType appears as a default or an override.
func (c *ContentTypes) Declares(contentType string) bool {
	if _, ok := c.ExtensionFor(contentType); ok {
		return true
	}
	for _, ct := range c.overrides {
		if ct == contentType {
			return true
		}
	}
	return false
}

type typesXML struct {
	XMLName   xml.Name      `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []defaultXML  `xml:"Default"`
	Overrides []overrideXML `xml:"Override"`
}

type defaultXML struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type overrideXML struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

func (c *ContentTypes) encode(w io.Writer) error {
	var doc typesXML
	for _, ext := range c.defaultOrder {
		doc.Defaults = append(doc.Defaults, defaultXML{Extension: ext, ContentType: c.defaults[ext]})
	}
	for _, part := range c.overrideOrder {
		doc.Overrides = append(doc.Overrides, overrideXML{PartName: part, ContentType: c.overrides[part]})
	}
	return encodeXML(w, doc)
}

func decodeContentTypes(r io.Reader) (*ContentTypes, error) {
	var doc typesXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode content types: %w", ErrFormat, err)
	}

	c := NewContentTypes()
	for _, d := range doc.Defaults {
		if err := c.AddDefault(d.Extension, d.ContentType); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
	}
	for _, o := range doc.Overrides {
		name, err := NormalizePartName(o.PartName)
		if err != nil {
			return nil, fmt.Errorf("%w: override %q: %w", ErrFormat, o.PartName, err)
		}
		c.AddOverride(name, o.ContentType)
	}
	return c, nil
}
