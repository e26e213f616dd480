// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lemon4ksan/opcpack/opc"
	"github.com/lemon4ksan/opcpack/warning"
)

type keyStoreXML struct {
	XMLName   xml.Name               `xml:"http://schemas.microsoft.com/3dmanufacturing/securecontent/2019/04 keystore"`
	UUID      string                 `xml:"UUID,attr"`
	Consumers []consumerXML          `xml:"consumer"`
	Groups    []resourceDataGroupXML `xml:"resourcedatagroup"`
}

type consumerXML struct {
	ConsumerID string `xml:"consumerid,attr"`
	KeyID      string `xml:"keyid,attr,omitempty"`
	KeyValue   string `xml:"keyvalue,omitempty"`
}

type resourceDataGroupXML struct {
	KeyUUID      string            `xml:"keyuuid,attr"`
	AccessRights []accessRightXML  `xml:"accessright"`
	ResourceData []resourceDataXML `xml:"resourcedata"`
	Metadata     []metadataXML     `xml:"metadata"`
}

type accessRightXML struct {
	ConsumerIndex string        `xml:"consumerindex,attr"`
	KEKParams     kekParamsXML  `xml:"kekparams"`
	CipherData    cipherDataXML `xml:"cipherdata"`
}

type kekParamsXML struct {
	WrappingAlgorithm string `xml:"wrappingalgorithm,attr"`
	MGFAlgorithm      string `xml:"mgfalgorithm,attr,omitempty"`
	DigestMethod      string `xml:"digestmethod,attr,omitempty"`
}

type cipherDataXML struct {
	CipherValue string `xml:"http://www.w3.org/2001/04/xmlenc# CipherValue"`
}

type resourceDataXML struct {
	Path      string       `xml:"path,attr"`
	CEKParams cekParamsXML `xml:"cekparams"`
}

type cekParamsXML struct {
	EncryptionAlgorithm string `xml:"encryptionalgorithm,attr"`
	Compression         string `xml:"compression,attr,omitempty"`
	IV                  string `xml:"iv,omitempty"`
	Tag                 string `xml:"tag,omitempty"`
	AAD                 string `xml:"aad,omitempty"`
}

type metadataXML struct {
	Namespace string `xml:"namespace,attr,omitempty"`
	Name      string `xml:"name,attr"`
	Value     string `xml:",chardata"`
}

// Encode serializes the key store. Binary values are base64 encoded and
// access rights reference consumers by their declaration index.
func (ks *KeyStore) Encode(w io.Writer) error {
	ks.mu.Lock()
	doc := keyStoreXML{UUID: ks.uuid.String()}

	consumerIndex := make(map[string]int, len(ks.consumers))
	for i, c := range ks.consumers {
		consumerIndex[c.ID] = i
		doc.Consumers = append(doc.Consumers, consumerXML{ConsumerID: c.ID, KeyID: c.KeyID, KeyValue: c.KeyValue})
	}

	for _, g := range ks.groups {
		gx := resourceDataGroupXML{KeyUUID: g.keyUUID.String()}

		g.mu.Lock()
		for _, ar := range g.accessRights {
			idx, ok := consumerIndex[ar.ConsumerID]
			if !ok {
				g.mu.Unlock()
				ks.mu.Unlock()
				return fmt.Errorf("%w: access right references %s", ErrConsumerNotFound, ar.ConsumerID)
			}
			gx.AccessRights = append(gx.AccessRights, accessRightXML{
				ConsumerIndex: strconv.Itoa(idx),
				KEKParams: kekParamsXML{
					WrappingAlgorithm: ar.Params.WrappingAlgorithm.String(),
					MGFAlgorithm:      ar.Params.MGFAlgorithm.String(),
					DigestMethod:      ar.Params.DigestMethod.String(),
				},
				CipherData: cipherDataXML{CipherValue: base64.StdEncoding.EncodeToString(ar.CipherValue)},
			})
		}
		for _, m := range g.metadata {
			gx.Metadata = append(gx.Metadata, metadataXML{Namespace: m.Namespace, Name: m.Name, Value: m.Value})
		}
		g.mu.Unlock()

		for _, rd := range ks.resources {
			if rd.GroupUUID != g.keyUUID {
				continue
			}
			gx.ResourceData = append(gx.ResourceData, resourceDataXML{
				Path: rd.Path,
				CEKParams: cekParamsXML{
					EncryptionAlgorithm: rd.Params.EncryptionAlgorithm.String(),
					Compression:         rd.Params.Compression.String(),
					IV:                  base64.StdEncoding.EncodeToString(rd.Params.IV),
					Tag:                 base64.StdEncoding.EncodeToString(rd.Params.Tag),
					AAD:                 base64.StdEncoding.EncodeToString(rd.Params.AAD),
				},
			})
		}
		doc.Groups = append(doc.Groups, gx)
	}
	ks.mu.Unlock()

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode key store: %w", err)
	}
	return enc.Close()
}

// Decode parses a key store document. Recoverable problems are recorded in
// warnings and replaced by defaults; a nil list escalates only fatal ones.
func Decode(r io.Reader, warnings *warning.List) (*KeyStore, error) {
	if warnings == nil {
		warnings = warning.NewList(warning.Fatal, nil)
	}

	var doc keyStoreXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	d := decoder{ks: New(), warnings: warnings}
	if err := d.decode(doc); err != nil {
		return nil, err
	}
	return d.ks, nil
}

type decoder struct {
	ks        *KeyStore
	warnings  *warning.List
	consumers []string // Consumer ids by document index, "" for skipped ones
}

func (d *decoder) warn(code warning.Code, sev warning.Severity, format string, args ...any) error {
	return d.warnings.Add(code, sev, format, args...)
}

func (d *decoder) decode(doc keyStoreXML) error {
	switch id, err := uuid.Parse(doc.UUID); {
	case doc.UUID == "":
		if err := d.warn(warning.MissingKeyStoreUUID, warning.MissingMandatoryValue, "key store has no UUID"); err != nil {
			return err
		}
	case err != nil:
		if err := d.warn(warning.InvalidUUID, warning.InvalidMandatoryValue, "key store UUID %q: %v", doc.UUID, err); err != nil {
			return err
		}
	default:
		d.ks.SetUUID(id)
	}

	for i, cx := range doc.Consumers {
		d.consumers = append(d.consumers, "")
		if cx.ConsumerID == "" {
			if err := d.warn(warning.MissingConsumerID, warning.MissingMandatoryValue, "consumer %d has no id", i); err != nil {
				return err
			}
			continue
		}
		if _, err := d.ks.AddConsumer(cx.ConsumerID, cx.KeyID, strings.TrimSpace(cx.KeyValue)); err != nil {
			if werr := d.warn(warning.DuplicateElement, warning.InvalidMandatoryValue, "consumer %s: %v", cx.ConsumerID, err); werr != nil {
				return werr
			}
			continue
		}
		d.consumers[i] = cx.ConsumerID
	}

	for _, gx := range doc.Groups {
		if err := d.decodeGroup(gx); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeGroup(gx resourceDataGroupXML) error {
	keyUUID, err := uuid.Parse(gx.KeyUUID)
	if err != nil {
		if werr := d.warn(warning.InvalidUUID, warning.InvalidMandatoryValue, "group key UUID %q: %v", gx.KeyUUID, err); werr != nil {
			return werr
		}
		keyUUID = uuid.New()
	}

	g, err := d.ks.AddResourceDataGroup(keyUUID)
	if err != nil {
		return d.warn(warning.DuplicateElement, warning.InvalidMandatoryValue, "group %s: %v", keyUUID, err)
	}
	for _, mx := range gx.Metadata {
		g.AddMetadata(Metadata{Namespace: mx.Namespace, Name: mx.Name, Value: mx.Value})
	}

	for _, ax := range gx.AccessRights {
		if err := d.decodeAccessRight(keyUUID, ax); err != nil {
			return err
		}
	}
	for _, rx := range gx.ResourceData {
		if err := d.decodeResourceData(keyUUID, rx); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeAccessRight(keyUUID uuid.UUID, ax accessRightXML) error {
	idx, err := strconv.Atoi(ax.ConsumerIndex)
	if err != nil || idx < 0 || idx >= len(d.consumers) || d.consumers[idx] == "" {
		return d.warn(warning.InvalidConsumerIndex, warning.InvalidMandatoryValue,
			"access right in group %s references consumer index %q", keyUUID, ax.ConsumerIndex)
	}

	params := DefaultKEKParams()
	if a, err := ParseWrappingAlgorithm(ax.KEKParams.WrappingAlgorithm); err == nil {
		params.WrappingAlgorithm = a
	} else if werr := d.warn(warning.InvalidAlgorithm, warning.InvalidMandatoryValue, "%v", err); werr != nil {
		return werr
	}
	if ax.KEKParams.MGFAlgorithm != "" {
		if a, err := ParseMGFAlgorithm(ax.KEKParams.MGFAlgorithm); err == nil {
			params.MGFAlgorithm = a
		} else if werr := d.warn(warning.InvalidAlgorithm, warning.InvalidOptionalValue, "%v", err); werr != nil {
			return werr
		}
	}
	if ax.KEKParams.DigestMethod != "" {
		if m, err := ParseDigestMethod(ax.KEKParams.DigestMethod); err == nil {
			params.DigestMethod = m
		} else if werr := d.warn(warning.InvalidAlgorithm, warning.InvalidOptionalValue, "%v", err); werr != nil {
			return werr
		}
	}

	cipherValue, err := d.decodeBase64("cipher value", ax.CipherData.CipherValue)
	if err != nil {
		return err
	}

	if _, err := d.ks.AddAccessRight(keyUUID, d.consumers[idx], params); err != nil {
		return d.warn(warning.DuplicateElement, warning.InvalidMandatoryValue, "%v", err)
	}
	g, ok := d.ks.FindResourceDataGroup(keyUUID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, keyUUID)
	}
	return g.SetCipherValue(d.consumers[idx], cipherValue)
}

func (d *decoder) decodeResourceData(keyUUID uuid.UUID, rx resourceDataXML) error {
	if rx.Path == "" {
		return d.warn(warning.MissingPath, warning.MissingMandatoryValue, "resource data in group %s has no path", keyUUID)
	}
	if _, err := opc.NormalizePartName(rx.Path); err != nil {
		return d.warn(warning.MissingPath, warning.InvalidMandatoryValue, "resource data path %q: %v", rx.Path, err)
	}

	params := CEKParams{EncryptionAlgorithm: AES256GCM}
	if a, err := ParseEncryptionAlgorithm(rx.CEKParams.EncryptionAlgorithm); err == nil {
		params.EncryptionAlgorithm = a
	} else if werr := d.warn(warning.InvalidAlgorithm, warning.InvalidMandatoryValue, "%v", err); werr != nil {
		return werr
	}
	if rx.CEKParams.Compression != "" {
		if c, err := ParseCompression(rx.CEKParams.Compression); err == nil {
			params.Compression = c
		} else if werr := d.warn(warning.InvalidCompression, warning.InvalidOptionalValue, "%v", err); werr != nil {
			return werr
		}
	}

	var err error
	if params.IV, err = d.decodeBase64("iv", rx.CEKParams.IV); err != nil {
		return err
	}
	if params.Tag, err = d.decodeBase64("tag", rx.CEKParams.Tag); err != nil {
		return err
	}
	if params.AAD, err = d.decodeBase64("aad", rx.CEKParams.AAD); err != nil {
		return err
	}

	if _, err := d.ks.AddResourceData(keyUUID, rx.Path, params); err != nil {
		return d.warn(warning.DuplicateElement, warning.InvalidMandatoryValue, "%v", err)
	}
	return nil
}

// decodeBase64 returns nil and records a warning for malformed input.
func (d *decoder) decodeBase64(field, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, d.warn(warning.InvalidBase64, warning.InvalidMandatoryValue, "%s: %v", field, err)
	}
	return b, nil
}
