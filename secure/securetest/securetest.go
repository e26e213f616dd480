// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package securetest provides deterministic stand-ins for the cryptographic
// capabilities of package secure. They are not secure and exist for tests.
package securetest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
	"sync"

	"github.com/lemon4ksan/opcpack/secure"
)

// TagSize is the length of the tags produced by Crypter.
const TagSize = 16

var (
	ErrTagMismatch = errors.New("securetest: tag mismatch")
	ErrShortOutput = errors.New("securetest: output buffer too small")
	ErrNoKey       = errors.New("securetest: wrapped key missing")
)

// Crypter XORs content with a keystream derived from its secret, the group
// key and the IV, and tags the ciphertext with a truncated HMAC-SHA256 over
// AAD and ciphertext.
type Crypter struct {
	secret  []byte
	mu      sync.Mutex
	streams map[*secure.CryptContext]*stream
	calls   int
}

type stream struct {
	mac     hash.Hash
	seed    []byte
	block   []byte
	counter uint64
	pos     int
}

// NewCrypter creates a crypter. Crypters with different secrets disagree on
// every keystream byte and tag.
func NewCrypter(secret string) *Crypter {
	return &Crypter{secret: []byte(secret), streams: make(map[*secure.CryptContext]*stream)}
}

// Calls returns how many times CryptContent ran.
func (c *Crypter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Open returns the number of streams not finalized yet.
func (c *Crypter) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Crypter) CryptContent(ctx *secure.CryptContext, in, out []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	st, ok := c.streams[ctx]
	if !ok {
		st = c.newStream(ctx)
		c.streams[ctx] = st
	}

	if len(in) == 0 {
		delete(c.streams, ctx)
		tag := st.mac.Sum(nil)[:TagSize]
		if ctx.Direction == secure.Decrypt {
			if !hmac.Equal(tag, ctx.Tag) {
				return -1, ErrTagMismatch
			}
			return 0, nil
		}
		ctx.Tag = tag
		return 0, nil
	}

	if len(out) < len(in) {
		return -1, ErrShortOutput
	}
	if ctx.Direction == secure.Decrypt {
		st.mac.Write(in)
	}
	for i, b := range in {
		out[i] = b ^ st.next()
	}
	if ctx.Direction == secure.Encrypt {
		st.mac.Write(out[:len(in)])
	}
	return len(in), nil
}

func (c *Crypter) newStream(ctx *secure.CryptContext) *stream {
	seed := make([]byte, 0, len(c.secret)+len(ctx.Key)+len(ctx.IV))
	seed = append(seed, c.secret...)
	seed = append(seed, ctx.Key...)
	seed = append(seed, ctx.IV...)

	mac := hmac.New(sha256.New, seed)
	mac.Write(ctx.AAD)
	return &stream{mac: mac, seed: seed}
}

func (s *stream) next() byte {
	if s.pos == len(s.block) {
		h := sha256.New()
		h.Write(s.seed)
		h.Write(binary.LittleEndian.AppendUint64(nil, s.counter))
		s.block = h.Sum(nil)
		s.counter++
		s.pos = 0
	}
	b := s.block[s.pos]
	s.pos++
	return b
}

// Wrapper XORs keys with a per-consumer secret.
type Wrapper struct {
	secret []byte
}

// NewWrapper creates a wrapper.
func NewWrapper(secret string) *Wrapper {
	return &Wrapper{secret: []byte(secret)}
}

func (w *Wrapper) WrapKey(_ secure.WrapContext, key []byte) ([]byte, error) {
	return w.xor(key), nil
}

func (w *Wrapper) UnwrapKey(_ secure.WrapContext, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, ErrNoKey
	}
	return w.xor(wrapped), nil
}

func (w *Wrapper) xor(in []byte) []byte {
	out := make([]byte, len(in))
	if len(w.secret) == 0 {
		copy(out, in)
		return out
	}
	for i, b := range in {
		out[i] = b ^ w.secret[i%len(w.secret)]
	}
	return out
}

// CountingRandom is a deterministic RandomSource filling buffers with an
// incrementing byte sequence.
type CountingRandom struct {
	mu   sync.Mutex
	next byte
}

func (r *CountingRandom) RandomBytes(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}
