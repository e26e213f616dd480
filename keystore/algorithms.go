// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import (
	"fmt"
	"slices"
)

// WrappingAlgorithm is the key-wrap algorithm of an access right.
type WrappingAlgorithm uint8

const (
	RSAOAEP WrappingAlgorithm = iota + 1
)

var wrappingURIs = map[WrappingAlgorithm]string{
	RSAOAEP: "http://www.w3.org/2009/xmlenc11#rsa-oaep",
}

func (a WrappingAlgorithm) String() string {
	if uri, ok := wrappingURIs[a]; ok {
		return uri
	}
	return fmt.Sprintf("wrapping(%d)", uint8(a))
}

// ParseWrappingAlgorithm maps an algorithm URI onto its value.
func ParseWrappingAlgorithm(uri string) (WrappingAlgorithm, error) {
	for a, u := range wrappingURIs {
		if u == uri {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: wrapping algorithm %q", ErrUnknownAlgorithm, uri)
}

// MGFAlgorithm is the mask generation function used with RSA-OAEP.
type MGFAlgorithm uint8

const (
	MGF1SHA1 MGFAlgorithm = iota + 1
	MGF1SHA224
	MGF1SHA256
	MGF1SHA384
	MGF1SHA512
)

var mgfURIs = map[MGFAlgorithm]string{
	MGF1SHA1:   "http://www.w3.org/2009/xmlenc11#mgf1sha1",
	MGF1SHA224: "http://www.w3.org/2009/xmlenc11#mgf1sha224",
	MGF1SHA256: "http://www.w3.org/2009/xmlenc11#mgf1sha256",
	MGF1SHA384: "http://www.w3.org/2009/xmlenc11#mgf1sha384",
	MGF1SHA512: "http://www.w3.org/2009/xmlenc11#mgf1sha512",
}

func (a MGFAlgorithm) String() string {
	if uri, ok := mgfURIs[a]; ok {
		return uri
	}
	return fmt.Sprintf("mgf(%d)", uint8(a))
}

// ParseMGFAlgorithm maps a mask generation URI onto its value.
func ParseMGFAlgorithm(uri string) (MGFAlgorithm, error) {
	for a, u := range mgfURIs {
		if u == uri {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: mgf algorithm %q", ErrUnknownAlgorithm, uri)
}

// DigestMethod is the OAEP digest.
type DigestMethod uint8

const (
	SHA1 DigestMethod = iota + 1
	SHA256
)

var digestURIs = map[DigestMethod]string{
	SHA1:   "http://www.w3.org/2000/09/xmldsig#sha1",
	SHA256: "http://www.w3.org/2001/04/xmlenc#sha256",
}

func (d DigestMethod) String() string {
	if uri, ok := digestURIs[d]; ok {
		return uri
	}
	return fmt.Sprintf("digest(%d)", uint8(d))
}

// ParseDigestMethod maps a digest URI onto its value.
func ParseDigestMethod(uri string) (DigestMethod, error) {
	for d, u := range digestURIs {
		if u == uri {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: digest method %q", ErrUnknownAlgorithm, uri)
}

// EncryptionAlgorithm is the content cipher of a resource.
type EncryptionAlgorithm uint8

const (
	AES256GCM EncryptionAlgorithm = iota + 1
)

var encryptionURIs = map[EncryptionAlgorithm]string{
	AES256GCM: "http://www.w3.org/2009/xmlenc11#aes256-gcm",
}

func (a EncryptionAlgorithm) String() string {
	if uri, ok := encryptionURIs[a]; ok {
		return uri
	}
	return fmt.Sprintf("encryption(%d)", uint8(a))
}

// ParseEncryptionAlgorithm maps a cipher URI onto its value.
func ParseEncryptionAlgorithm(uri string) (EncryptionAlgorithm, error) {
	for a, u := range encryptionURIs {
		if u == uri {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: encryption algorithm %q", ErrUnknownAlgorithm, uri)
}

// Compression tells whether plaintext is deflated before encryption.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionDeflate
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionDeflate:
		return "deflate"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression is the inverse of Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none":
		return CompressionNone, nil
	case "deflate":
		return CompressionDeflate, nil
	}
	return 0, fmt.Errorf("%w: compression %q", ErrUnknownAlgorithm, s)
}

// KEKParams are the key-wrap parameters of an access right.
type KEKParams struct {
	WrappingAlgorithm WrappingAlgorithm
	MGFAlgorithm      MGFAlgorithm
	DigestMethod      DigestMethod
}

// DefaultKEKParams is RSA-OAEP with MGF1-SHA1 and SHA1.
func DefaultKEKParams() KEKParams {
	return KEKParams{WrappingAlgorithm: RSAOAEP, MGFAlgorithm: MGF1SHA1, DigestMethod: SHA1}
}

// CEKParams are the content encryption parameters of a resource.
type CEKParams struct {
	EncryptionAlgorithm EncryptionAlgorithm
	Compression         Compression
	IV                  []byte
	Tag                 []byte
	AAD                 []byte
}

func (p CEKParams) clone() CEKParams {
	p.IV = slices.Clone(p.IV)
	p.Tag = slices.Clone(p.Tag)
	p.AAD = slices.Clone(p.AAD)
	return p
}
