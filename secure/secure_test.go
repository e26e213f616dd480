// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secure_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/opcpack/keystore"
	"github.com/lemon4ksan/opcpack/secure"
	"github.com/lemon4ksan/opcpack/secure/securetest"
)

type sink struct {
	bytes.Buffer
	closed int
}

func (s *sink) Close() error {
	s.closed++
	return nil
}

func newCryptContext(compressed bool) *secure.CryptContext {
	return &secure.CryptContext{
		Descriptor: 1,
		Path:       "/3D/secret.model",
		Key:        bytes.Repeat([]byte{0x42}, 32),
		IV:         bytes.Repeat([]byte{0x07}, 12),
		AAD:        []byte("aad"),
		Compressed: compressed,
	}
}

// encrypt writes plaintext through an export stream and returns the stored
// bytes and the finalized tag.
func encrypt(t *testing.T, crypter secure.ContentCrypter, cc *secure.CryptContext, plaintext []byte) ([]byte, []byte) {
	t.Helper()
	dst := &sink{}
	s, err := secure.NewExportStream(dst, crypter, cc, 6)
	require.NoError(t, err)
	_, err = s.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, dst.closed)

	tag, err := s.Finalize()
	require.NoError(t, err)
	return dst.Bytes(), tag
}

func decrypt(crypter secure.ContentCrypter, cc *secure.CryptContext, stored []byte) ([]byte, error) {
	s, err := secure.NewImportStream(io.NopCloser(bytes.NewReader(stored)), crypter, cc)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return io.ReadAll(s)
}

func TestHeader(t *testing.T) {
	h := secure.NewHeader()
	raw := h.Encode()
	require.Len(t, raw, secure.HeaderSize)
	assert.Equal(t, []byte{'%', '3', 'M', 'c', 'F', 0, 1, 0, 12, 0, 0, 0}, raw)

	got, err := secure.ReadHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	t.Run("extension bytes are skipped", func(t *testing.T) {
		ext := secure.Header{Major: 0, Minor: 2, Length: 16}.Encode()
		r := bytes.NewReader(append(append(ext, 0xAA, 0xAA, 0xAA, 0xAA), "payload"...))
		_, err := secure.ReadHeader(r)
		require.NoError(t, err)
		rest, _ := io.ReadAll(r)
		assert.Equal(t, "payload", string(rest))
	})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"bad magic", append([]byte("PK\x03\x04\x00"), raw[5:]...)},
		{"unsupported major", secure.Header{Major: 1, Minor: 0, Length: 12}.Encode()},
		{"length too small", secure.Header{Length: 4}.Encode()},
		{"truncated", raw[:7]},
		{"truncated extension", secure.Header{Length: 64}.Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := secure.ReadHeader(bytes.NewReader(tt.raw))
			assert.ErrorIs(t, err, secure.ErrInvalidHeader)
		})
	}
}

func TestStream_HeaderLengthIsHeaderSize(t *testing.T) {
	for _, size := range []int{0, 1, 70000} {
		plaintext := bytes.Repeat([]byte{'v'}, size)
		stored, _ := encrypt(t, securetest.NewCrypter("dek"), newCryptContext(false), plaintext)

		h, err := secure.ReadHeader(bytes.NewReader(stored))
		require.NoError(t, err)
		assert.Equal(t, uint32(secure.HeaderSize), h.Length, "payload of %d bytes", size)
		assert.Len(t, stored, secure.HeaderSize+size)
	}
}

func TestStream_RoundTrip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("<vertex x=\"1\" y=\"2\" z=\"3\"/>\n"), 10000)

	for _, compressed := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "compressed"}[compressed], func(t *testing.T) {
			crypter := securetest.NewCrypter("dek")
			stored, tag := encrypt(t, crypter, newCryptContext(compressed), plaintext)
			assert.Len(t, tag, securetest.TagSize)
			assert.Equal(t, 0, crypter.Open())

			require.True(t, len(stored) > secure.HeaderSize)
			assert.Equal(t, secure.NewHeader().Encode(), stored[:secure.HeaderSize])
			assert.False(t, bytes.Contains(stored, []byte("<vertex")))
			if compressed {
				assert.Less(t, len(stored), len(plaintext)/10)
			} else {
				assert.Len(t, stored, secure.HeaderSize+len(plaintext))
			}

			cc := newCryptContext(compressed)
			cc.Tag = tag
			got, err := decrypt(crypter, cc, stored)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestStream_FinalizeIsStable(t *testing.T) {
	crypter := securetest.NewCrypter("dek")
	dst := &sink{}
	w, err := secure.NewWriter(dst, crypter, newCryptContext(false))
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), w.Written())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, secure.ErrStreamClosed)

	first, err := w.Finalize()
	require.NoError(t, err)
	calls := crypter.Calls()
	second, err := w.Finalize()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, crypter.Calls())
	assert.Equal(t, first, w.Context().Tag)
}

func TestStream_TamperingFails(t *testing.T) {
	plaintext := []byte(strings.Repeat("secret geometry ", 512))

	for _, compressed := range []bool{false, true} {
		crypter := securetest.NewCrypter("dek")
		stored, tag := encrypt(t, crypter, newCryptContext(compressed), plaintext)

		t.Run("flipped tag", func(t *testing.T) {
			cc := newCryptContext(compressed)
			cc.Tag = bytes.Clone(tag)
			cc.Tag[0] ^= 0xFF
			_, err := decrypt(crypter, cc, stored)
			assert.ErrorIs(t, err, secure.ErrCalculationAborted)
			assert.ErrorIs(t, err, securetest.ErrTagMismatch)
		})

		t.Run("different content key", func(t *testing.T) {
			cc := newCryptContext(compressed)
			cc.Tag = tag
			cc.Key = bytes.Repeat([]byte{0x43}, 32)
			got, err := decrypt(crypter, cc, stored)
			require.Error(t, err)
			assert.NotEqual(t, plaintext, got)
		})

		t.Run("different crypter", func(t *testing.T) {
			cc := newCryptContext(compressed)
			cc.Tag = tag
			_, err := decrypt(securetest.NewCrypter("other"), cc, stored)
			assert.Error(t, err)
		})
	}
}

func TestStream_AbortedCallback(t *testing.T) {
	refuse := secure.ContentCrypterFunc(func(*secure.CryptContext, []byte, []byte) (int, error) {
		return -1, nil
	})
	w, err := secure.NewWriter(&sink{}, refuse, newCryptContext(false))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	assert.ErrorIs(t, err, secure.ErrCalculationAborted)

	_, err = w.Finalize()
	assert.ErrorIs(t, err, secure.ErrCalculationAborted)

	failing := secure.ContentCrypterFunc(func(*secure.CryptContext, []byte, []byte) (int, error) {
		return 0, errors.New("vault offline")
	})
	r, err := secure.NewReader(io.NopCloser(bytes.NewReader(append(secure.NewHeader().Encode(), 1, 2, 3))), failing, newCryptContext(false))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, secure.ErrCalculationAborted)
	assert.ErrorContains(t, err, "vault offline")
}

func TestStream_MissingCrypter(t *testing.T) {
	_, err := secure.NewWriter(&sink{}, nil, newCryptContext(false))
	assert.ErrorIs(t, err, secure.ErrMissingDEK)

	ctx := secure.NewContext()
	_, err = ctx.ExportStream(&sink{}, newCryptContext(false), 6)
	assert.ErrorIs(t, err, secure.ErrMissingDEK)
	_, err = ctx.ImportStream(io.NopCloser(bytes.NewReader(nil)), newCryptContext(false))
	assert.ErrorIs(t, err, secure.ErrMissingDEK)
}

func TestStream_NotEncrypted(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write([]byte("plain"))
	require.NoError(t, zw.Close())

	_, err := decrypt(securetest.NewCrypter("dek"), newCryptContext(true), buf.Bytes())
	assert.ErrorIs(t, err, secure.ErrInvalidHeader)
}

func TestContext_Capabilities(t *testing.T) {
	ctx := secure.NewContext(secure.WithRandom(&securetest.CountingRandom{}))

	_, ok := ctx.DEK()
	assert.False(t, ok)
	ctx.SetDEK(securetest.NewCrypter("dek"))
	_, ok = ctx.DEK()
	assert.True(t, ok)

	assert.ErrorIs(t, ctx.AddKEK("", securetest.NewWrapper("x")), keystore.ErrInvalidConsumer)
	assert.ErrorIs(t, ctx.AddKEK("C1", nil), secure.ErrMissingKEK)
	require.NoError(t, ctx.AddKEK("C2", securetest.NewWrapper("two")))
	require.NoError(t, ctx.AddKEK("C1", securetest.NewWrapper("one")))
	assert.Equal(t, []string{"C1", "C2"}, ctx.KEKConsumers())

	key, err := ctx.RandomBytes(32)
	require.NoError(t, err)
	assert.Equal(t, byte(0), key[0])
	assert.Equal(t, byte(31), key[31])

	wc := secure.WrapContext{ConsumerID: "C1", KeyUUID: uuid.New(), Params: keystore.DefaultKEKParams()}
	wrapped, err := ctx.WrapKey(wc, key)
	require.NoError(t, err)
	assert.NotEqual(t, key, wrapped)
	unwrapped, err := ctx.UnwrapKey(wc, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)

	_, err = ctx.UnwrapKey(wc, nil)
	assert.ErrorIs(t, err, secure.ErrCalculationAborted)

	ctx.RemoveKEK("C1")
	_, err = ctx.WrapKey(wc, key)
	assert.ErrorIs(t, err, secure.ErrMissingKEK)
}

func TestContext_ShortRandom(t *testing.T) {
	short := secure.RandomFunc(func(p []byte) (int, error) { return len(p) / 2, nil })
	ctx := secure.NewContext(secure.WithRandom(short))
	_, err := ctx.RandomBytes(12)
	assert.ErrorIs(t, err, secure.ErrCalculationAborted)

	n, err := secure.SystemRandom.RandomBytes(make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
