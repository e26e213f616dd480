// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/opcpack/warning"
)

var groupUUID = uuid.MustParse("1b2c3d4e-5f60-4718-8a9b-0c1d2e3f4a5b")

func sampleStore(t *testing.T) *KeyStore {
	t.Helper()
	ks := New()
	ks.SetUUID(uuid.MustParse("7a8b9c0d-1e2f-4a3b-9c4d-5e6f7a8b9c0d"))

	_, err := ks.AddConsumer("C1", "key-1", "-----BEGIN PUBLIC KEY-----")
	require.NoError(t, err)
	_, err = ks.AddConsumer("C2", "", "")
	require.NoError(t, err)

	g, err := ks.AddResourceDataGroup(groupUUID)
	require.NoError(t, err)
	_, err = ks.AddAccessRight(groupUUID, "C1", DefaultKEKParams())
	require.NoError(t, err)
	require.NoError(t, g.SetCipherValue("C1", []byte("wrapped-key")))
	_, err = ks.AddAccessRight(groupUUID, "C2", KEKParams{WrappingAlgorithm: RSAOAEP, MGFAlgorithm: MGF1SHA256, DigestMethod: SHA256})
	require.NoError(t, err)

	_, err = ks.AddResourceData(groupUUID, "/3D/secret.model", CEKParams{
		EncryptionAlgorithm: AES256GCM,
		Compression:         CompressionDeflate,
		IV:                  bytes.Repeat([]byte{1}, 12),
		Tag:                 bytes.Repeat([]byte{2}, 16),
		AAD:                 []byte("aad"),
	})
	require.NoError(t, err)
	return ks
}

func TestKeyStore_Uniqueness(t *testing.T) {
	ks := sampleStore(t)

	_, err := ks.AddConsumer("C1", "", "")
	assert.ErrorIs(t, err, ErrDuplicateConsumer)

	_, err = ks.AddConsumer("", "", "")
	assert.ErrorIs(t, err, ErrInvalidConsumer)

	_, err = ks.AddResourceDataGroup(groupUUID)
	assert.ErrorIs(t, err, ErrDuplicateGroup)

	_, err = ks.AddAccessRight(groupUUID, "C1", DefaultKEKParams())
	assert.ErrorIs(t, err, ErrDuplicateAccessRight)

	_, err = ks.AddAccessRight(groupUUID, "nobody", DefaultKEKParams())
	assert.ErrorIs(t, err, ErrConsumerNotFound)

	_, err = ks.AddAccessRight(uuid.New(), "C1", DefaultKEKParams())
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = ks.AddResourceData(groupUUID, "3D/secret.model", CEKParams{})
	assert.ErrorIs(t, err, ErrDuplicateResourceData)

	_, err = ks.AddResourceData(uuid.Nil, "/3D/other.model", CEKParams{})
	assert.ErrorIs(t, err, ErrMissingGroup)

	_, err = ks.AddResourceData(uuid.New(), "/3D/other.model", CEKParams{})
	assert.ErrorIs(t, err, ErrMissingGroup)
}

func TestKeyStore_Lookups(t *testing.T) {
	ks := sampleStore(t)

	c, ok := ks.FindConsumer("C1")
	require.True(t, ok)
	assert.Equal(t, "key-1", c.KeyID)
	_, ok = ks.FindConsumer("C9")
	assert.False(t, ok)

	rd, ok := ks.FindResourceData("3D/secret.model")
	require.True(t, ok)
	assert.Equal(t, "/3D/secret.model", rd.Path)
	assert.Equal(t, uint64(1), rd.Descriptor)

	g, ok := ks.FindResourceDataGroupByPath("/3D/secret.model")
	require.True(t, ok)
	assert.Equal(t, groupUUID, g.KeyUUID())

	_, ok = ks.FindResourceDataGroupByPath("/3D/public.model")
	assert.False(t, ok)
	assert.Len(t, ks.ResourceDataByGroup(groupUUID), 1)
	assert.False(t, ks.Empty())
	assert.True(t, New().Empty())
}

func TestKeyStore_Descriptors(t *testing.T) {
	ks := New()
	g, err := ks.AddResourceDataGroup(uuid.Nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, g.KeyUUID())

	a, err := ks.AddResourceData(g.KeyUUID(), "/a.model", CEKParams{})
	require.NoError(t, err)
	b, err := ks.AddResourceData(g.KeyUUID(), "/b.model", CEKParams{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Descriptor, b.Descriptor)
}

func TestKeyStore_RemoveConsumerCascades(t *testing.T) {
	ks := sampleStore(t)
	g, _ := ks.FindResourceDataGroup(groupUUID)
	require.Len(t, g.AccessRights(), 2)

	require.NoError(t, ks.RemoveConsumer("C1"))
	_, ok := ks.FindConsumer("C1")
	assert.False(t, ok)

	rights := g.AccessRights()
	require.Len(t, rights, 1)
	assert.Equal(t, "C2", rights[0].ConsumerID)

	assert.ErrorIs(t, ks.RemoveConsumer("C1"), ErrConsumerNotFound)

	// The pair is free again once revoked.
	_, err := ks.AddConsumer("C1", "", "")
	require.NoError(t, err)
	_, err = ks.AddAccessRight(groupUUID, "C1", DefaultKEKParams())
	assert.NoError(t, err)
}

func TestKeyStore_Removals(t *testing.T) {
	ks := sampleStore(t)

	require.NoError(t, ks.RemoveAccessRight(groupUUID, "C2"))
	assert.ErrorIs(t, ks.RemoveAccessRight(groupUUID, "C2"), ErrConsumerNotFound)

	require.NoError(t, ks.RemoveResourceData("/3D/secret.model"))
	assert.ErrorIs(t, ks.RemoveResourceData("/3D/secret.model"), ErrResourceDataNotFound)

	_, err := ks.AddResourceData(groupUUID, "/3D/secret.model", CEKParams{})
	require.NoError(t, err)
	require.NoError(t, ks.RemoveResourceDataGroup(groupUUID))
	_, ok := ks.FindResourceData("/3D/secret.model")
	assert.False(t, ok)
	assert.ErrorIs(t, ks.RemoveResourceDataGroup(groupUUID), ErrGroupNotFound)
}

func TestResourceDataGroup_Key(t *testing.T) {
	ks := New()
	g, err := ks.AddResourceDataGroup(groupUUID)
	require.NoError(t, err)
	assert.Nil(t, g.Key())

	key := bytes.Repeat([]byte{7}, 32)
	g.SetKey(key)
	key[0] = 0
	assert.Equal(t, byte(7), g.Key()[0])
}

func TestKeyStore_ConcurrentAccess(t *testing.T) {
	ks := New()
	g, err := ks.AddResourceDataGroup(groupUUID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uuid.NewString()
			_, err := ks.AddConsumer(id, "", "")
			assert.NoError(t, err)
			_, err = ks.AddAccessRight(g.KeyUUID(), id, DefaultKEKParams())
			assert.NoError(t, err)
			ks.FindResourceDataGroupByPath("/none.model")
			_ = ks.Consumers()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ks.Consumers(), 16)
	assert.Len(t, g.AccessRights(), 16)
}

func TestKeyStore_LookupsAreSnapshots(t *testing.T) {
	ks := sampleStore(t)
	g, ok := ks.FindResourceDataGroup(groupUUID)
	require.True(t, ok)

	rd, ok := ks.FindResourceData("/3D/secret.model")
	require.True(t, ok)
	rd.Params.IV[0] = 0xFF
	rd.Params.Compression = CompressionNone
	ar, ok := g.FindAccessRight("C1")
	require.True(t, ok)
	ar.CipherValue[0] = 'X'
	g.AccessRights()[0].CipherValue = nil

	again, _ := ks.FindResourceData("/3D/secret.model")
	assert.Equal(t, byte(1), again.Params.IV[0])
	assert.Equal(t, CompressionDeflate, again.Params.Compression)
	ar, _ = g.FindAccessRight("C1")
	assert.Equal(t, []byte("wrapped-key"), ar.CipherValue)

	// Stored parameters do not alias the caller's slices either.
	iv := bytes.Repeat([]byte{9}, 12)
	require.NoError(t, ks.SetResourceParams("/3D/secret.model", CEKParams{IV: iv}))
	iv[0] = 0
	again, _ = ks.FindResourceData("/3D/secret.model")
	assert.Equal(t, byte(9), again.Params.IV[0])
}

func TestKeyStore_ConcurrentParamUpdates(t *testing.T) {
	ks := sampleStore(t)
	g, ok := ks.FindResourceDataGroup(groupUUID)
	require.True(t, ok)
	require.NoError(t, ks.SetResourceParams("/3D/secret.model", CEKParams{
		IV:  make([]byte, 12),
		Tag: make([]byte, 16),
	}))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := range 50 {
				fill := byte(i*50 + j)
				assert.NoError(t, ks.SetResourceParams("/3D/secret.model", CEKParams{
					IV:  bytes.Repeat([]byte{fill}, 12),
					Tag: bytes.Repeat([]byte{fill}, 16),
				}))
				assert.NoError(t, g.SetCipherValue("C1", bytes.Repeat([]byte{fill}, 32)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for range 50 {
				if rd, ok := ks.FindResourceData("/3D/secret.model"); ok {
					// Every snapshot is internally consistent.
					assert.Equal(t, rd.Params.IV[0], rd.Params.Tag[15])
				}
				for _, rd := range ks.ResourceData() {
					_ = rd.Params.IV
				}
				if ar, ok := g.FindAccessRight("C1"); ok && len(ar.CipherValue) == 32 {
					assert.Equal(t, ar.CipherValue[0], ar.CipherValue[31])
				}
				_ = g.AccessRights()
			}
		}()
	}
	wg.Wait()

	rd, ok := ks.FindResourceData("/3D/secret.model")
	require.True(t, ok)
	assert.Len(t, rd.Params.IV, 12)
}

func TestKeyStore_XMLRoundTrip(t *testing.T) {
	ks := sampleStore(t)
	g, _ := ks.FindResourceDataGroup(groupUUID)
	g.AddMetadata(Metadata{Namespace: "http://example.com/ns", Name: "owner", Value: "factory-7"})

	var buf bytes.Buffer
	require.NoError(t, ks.Encode(&buf))
	doc := buf.String()
	assert.Contains(t, doc, `consumerindex="0"`)
	assert.Contains(t, doc, `wrappingalgorithm="http://www.w3.org/2009/xmlenc11#rsa-oaep"`)
	assert.Contains(t, doc, `compression="deflate"`)

	list := warning.NewList(warning.Fatal, nil)
	got, err := Decode(strings.NewReader(doc), list)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Len())

	assert.Equal(t, ks.UUID(), got.UUID())
	require.Len(t, got.Consumers(), 2)
	assert.Equal(t, *ks.Consumers()[0], *got.Consumers()[0])

	gotGroup, ok := got.FindResourceDataGroup(groupUUID)
	require.True(t, ok)
	rights := gotGroup.AccessRights()
	require.Len(t, rights, 2)
	assert.Equal(t, []byte("wrapped-key"), rights[0].CipherValue)
	assert.Equal(t, DefaultKEKParams(), rights[0].Params)
	assert.Equal(t, MGF1SHA256, rights[1].Params.MGFAlgorithm)
	assert.Equal(t, "C2", rights[1].ConsumerID)
	assert.Equal(t, g.Metadata(), gotGroup.Metadata())
	assert.Nil(t, gotGroup.Key())

	rd, ok := got.FindResourceData("/3D/secret.model")
	require.True(t, ok)
	want, _ := ks.FindResourceData("/3D/secret.model")
	assert.Equal(t, want.Params, rd.Params)
}

const brokenStore = `<?xml version="1.0" encoding="UTF-8"?>
<keystore xmlns="http://schemas.microsoft.com/3dmanufacturing/securecontent/2019/04" xmlns:xenc="http://www.w3.org/2001/04/xmlenc#">
  <consumer consumerid="C1"/>
  <consumer keyid="orphan"/>
  <resourcedatagroup keyuuid="not-a-uuid">
    <accessright consumerindex="5">
      <kekparams wrappingalgorithm="http://www.w3.org/2009/xmlenc11#rsa-oaep"/>
      <cipherdata><xenc:CipherValue>AAAA</xenc:CipherValue></cipherdata>
    </accessright>
    <accessright consumerindex="0">
      <kekparams wrappingalgorithm="http://www.w3.org/2009/xmlenc11#rsa-oaep" mgfalgorithm="bogus"/>
      <cipherdata><xenc:CipherValue>AQID</xenc:CipherValue></cipherdata>
    </accessright>
    <resourcedata path="/3D/secret.model">
      <cekparams encryptionalgorithm="http://www.w3.org/2009/xmlenc11#aes256-gcm" compression="zstd">
        <iv>!!!</iv>
      </cekparams>
    </resourcedata>
    <resourcedata>
      <cekparams encryptionalgorithm="http://www.w3.org/2009/xmlenc11#aes256-gcm"/>
    </resourcedata>
  </resourcedatagroup>
</keystore>`

func TestDecode_Warnings(t *testing.T) {
	list := warning.NewList(warning.Fatal, nil)
	ks, err := Decode(strings.NewReader(brokenStore), list)
	require.NoError(t, err)

	for _, code := range []warning.Code{
		warning.MissingKeyStoreUUID,
		warning.MissingConsumerID,
		warning.InvalidUUID,
		warning.InvalidConsumerIndex,
		warning.InvalidAlgorithm,
		warning.InvalidCompression,
		warning.InvalidBase64,
		warning.MissingPath,
	} {
		assert.True(t, list.Has(code), "missing warning %s", code)
	}

	assert.NotEqual(t, uuid.Nil, ks.UUID())
	groups := ks.ResourceDataGroups()
	require.Len(t, groups, 1)
	rights := groups[0].AccessRights()
	require.Len(t, rights, 1)
	assert.Equal(t, "C1", rights[0].ConsumerID)
	assert.Equal(t, MGF1SHA1, rights[0].Params.MGFAlgorithm)
	assert.Equal(t, []byte{1, 2, 3}, rights[0].CipherValue)

	rd, ok := ks.FindResourceData("/3D/secret.model")
	require.True(t, ok)
	assert.Equal(t, CompressionNone, rd.Params.Compression)
	assert.Nil(t, rd.Params.IV)
}

func TestDecode_ThresholdEscalates(t *testing.T) {
	tests := []struct {
		name      string
		threshold warning.Severity
		wantErr   bool
	}{
		{"fatal threshold keeps going", warning.Fatal, false},
		{"missing mandatory escalates", warning.MissingMandatoryValue, true},
		{"optional escalates everything", warning.InvalidOptionalValue, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(brokenStore), warning.NewList(tt.threshold, nil))
			if tt.wantErr {
				assert.ErrorIs(t, err, warning.ErrEscalated)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(strings.NewReader("<keystore"), nil)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Decode(strings.NewReader(`<other xmlns="urn:x"/>`), nil)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestAlgorithmURIs(t *testing.T) {
	for _, m := range []MGFAlgorithm{MGF1SHA1, MGF1SHA224, MGF1SHA256, MGF1SHA384, MGF1SHA512} {
		got, err := ParseMGFAlgorithm(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	d, err := ParseDigestMethod("http://www.w3.org/2001/04/xmlenc#sha256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, d)

	_, err = ParseWrappingAlgorithm("http://www.w3.org/2001/04/xmlenc#rsa-1_5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}
