// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opc

import (
	"encoding/xml"
	"fmt"
	"io"
)

// TargetModeExternal marks a relationship whose target lies outside the
// package.
const TargetModeExternal = "External"

// Relationship is a typed, identified edge from a part or the package root
// to a target part, or to an external absolute URI.
type Relationship struct {
	ID       string
	Type     string
	Target   string
	External bool
}

type relationshipsXML struct {
	XMLName       xml.Name          `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Relationships []relationshipXML `xml:"Relationship"`
}

type relationshipXML struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

func encodeRelationships(w io.Writer, rels []Relationship) error {
	doc := relationshipsXML{Relationships: make([]relationshipXML, len(rels))}
	for i, rel := range rels {
		doc.Relationships[i] = relationshipXML{ID: rel.ID, Type: rel.Type, Target: rel.Target}
		if rel.External {
			doc.Relationships[i].TargetMode = TargetModeExternal
		}
	}
	return encodeXML(w, doc)
}

// decodeRelationships parses a relationships part. Duplicate ids are fatal.
func decodeRelationships(r io.Reader) ([]Relationship, error) {
	var doc relationshipsXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode relationships: %w", ErrFormat, err)
	}

	seen := make(map[string]struct{}, len(doc.Relationships))
	rels := make([]Relationship, 0, len(doc.Relationships))
	for _, item := range doc.Relationships {
		if item.ID == "" || item.Type == "" || item.Target == "" {
			return nil, fmt.Errorf("%w: incomplete relationship %q", ErrFormat, item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRelationshipID, item.ID)
		}
		seen[item.ID] = struct{}{}
		rels = append(rels, Relationship{
			ID:       item.ID,
			Type:     item.Type,
			Target:   item.Target,
			External: item.TargetMode == TargetModeExternal,
		})
	}
	return rels, nil
}

func encodeXML(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return enc.Close()
}
