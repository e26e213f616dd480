// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package secure binds key store metadata to caller supplied cryptography.
// The package never encrypts anything itself: content encryption, key
// wrapping and random generation are capabilities registered on a Context,
// and the stream adapters in this package only move bytes through them.
package secure

import (
	"crypto/rand"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/keystore"
)

// Direction tells a content crypter which way bytes flow.
type Direction uint8

const (
	Encrypt Direction = iota + 1
	Decrypt
)

func (d Direction) String() string {
	switch d {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// CryptContext is the per-stream state handed to a ContentCrypter. One
// context lives for the whole of a part stream, so crypters may key their
// own running state on its address or on Descriptor.
type CryptContext struct {
	Descriptor uint64 // Resource data descriptor from the key store
	Path       string
	Direction  Direction
	Key        []byte // Content key of the owning group
	IV         []byte
	Tag        []byte // Set by the crypter on encrypt, checked on decrypt
	AAD        []byte
	Compressed bool
}

// ContentCrypter transforms content bytes. Each call passes a chunk of input
// and an output buffer at least as long, and returns the number of bytes
// produced. A call with empty input finalizes the stream: on Encrypt the
// crypter stores the authentication tag in ctx.Tag, on Decrypt it verifies
// ctx.Tag. An error or a negative count aborts the stream.
type ContentCrypter interface {
	CryptContent(ctx *CryptContext, in, out []byte) (int, error)
}

// ContentCrypterFunc adapts a function to ContentCrypter.
type ContentCrypterFunc func(ctx *CryptContext, in, out []byte) (int, error)

func (f ContentCrypterFunc) CryptContent(ctx *CryptContext, in, out []byte) (int, error) {
	return f(ctx, in, out)
}

// WrapContext describes the access right a key is wrapped for.
type WrapContext struct {
	ConsumerID    string
	KeyUUID       uuid.UUID
	Params        keystore.KEKParams
	ResourcePaths []string // Parts encrypted with the key
}

// KeyWrapper protects a group content key for one consumer.
type KeyWrapper interface {
	WrapKey(ctx WrapContext, key []byte) ([]byte, error)
	UnwrapKey(ctx WrapContext, wrapped []byte) ([]byte, error)
}

// RandomSource fills p with random bytes and returns how many were written.
type RandomSource interface {
	RandomBytes(p []byte) (int, error)
}

// RandomFunc adapts a function to RandomSource.
type RandomFunc func(p []byte) (int, error)

func (f RandomFunc) RandomBytes(p []byte) (int, error) { return f(p) }

// SystemRandom reads from crypto/rand.
var SystemRandom RandomSource = RandomFunc(rand.Read)

// Option configures a Context.
type Option func(c *Context)

// WithRandom replaces the random source. Nil keeps SystemRandom.
func WithRandom(r RandomSource) Option {
	return func(c *Context) {
		if r != nil {
			c.random = r
		}
	}
}

// WithLogger sets the logger. Nil keeps the standard logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.log = logger.WithField("component", "secure")
		}
	}
}

// Context holds the cryptographic capabilities of a package session: at
// most one content crypter and one key wrapper per consumer id.
type Context struct {
	mu     sync.RWMutex
	dek    ContentCrypter
	keks   map[string]KeyWrapper
	random RandomSource
	log    *logrus.Entry
}

// NewContext creates a context without any registered capability.
func NewContext(opts ...Option) *Context {
	c := &Context{
		keks:   make(map[string]KeyWrapper),
		random: SystemRandom,
		log:    logrus.StandardLogger().WithField("component", "secure"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDEK registers the content crypter, replacing any previous one.
func (c *Context) SetDEK(crypter ContentCrypter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dek = crypter
}

// DEK returns the registered content crypter.
func (c *Context) DEK() (ContentCrypter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dek, c.dek != nil
}

// AddKEK registers the key wrapper of a consumer, replacing any previous one.
func (c *Context) AddKEK(consumerID string, wrapper KeyWrapper) error {
	if consumerID == "" {
		return fmt.Errorf("%w: empty consumer id", keystore.ErrInvalidConsumer)
	}
	if wrapper == nil {
		return fmt.Errorf("%w: nil wrapper for %s", ErrMissingKEK, consumerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keks[consumerID] = wrapper
	return nil
}

// RemoveKEK unregisters the key wrapper of a consumer.
func (c *Context) RemoveKEK(consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keks, consumerID)
}

// KEK returns the key wrapper of a consumer.
func (c *Context) KEK(consumerID string) (KeyWrapper, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.keks[consumerID]
	return w, ok
}

// KEKConsumers returns the consumer ids with a registered wrapper, sorted.
func (c *Context) KEKConsumers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.keks))
}

// Random returns the random source.
func (c *Context) Random() RandomSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.random
}

// RandomBytes returns n bytes from the random source. A short read aborts.
func (c *Context) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.Random().RandomBytes(buf)
	if err != nil || got != n {
		return nil, aborted("random", got, err)
	}
	return buf, nil
}

// WrapKey wraps key for the consumer of ctx.
func (c *Context) WrapKey(ctx WrapContext, key []byte) ([]byte, error) {
	w, ok := c.KEK(ctx.ConsumerID)
	if !ok {
		return nil, fmt.Errorf("%w: consumer %s", ErrMissingKEK, ctx.ConsumerID)
	}
	wrapped, err := w.WrapKey(ctx, key)
	if err != nil {
		return nil, aborted("wrap key", 0, err)
	}
	c.log.WithFields(logrus.Fields{"consumer": ctx.ConsumerID, "group": ctx.KeyUUID}).Debug("key wrapped")
	return wrapped, nil
}

// UnwrapKey recovers a content key through the consumer of ctx.
func (c *Context) UnwrapKey(ctx WrapContext, wrapped []byte) ([]byte, error) {
	w, ok := c.KEK(ctx.ConsumerID)
	if !ok {
		return nil, fmt.Errorf("%w: consumer %s", ErrMissingKEK, ctx.ConsumerID)
	}
	key, err := w.UnwrapKey(ctx, wrapped)
	if err != nil {
		return nil, aborted("unwrap key", 0, err)
	}
	c.log.WithFields(logrus.Fields{"consumer": ctx.ConsumerID, "group": ctx.KeyUUID}).Debug("key unwrapped")
	return key, nil
}

// crypter returns the content crypter or ErrMissingDEK.
func (c *Context) crypter() (ContentCrypter, error) {
	dek, ok := c.DEK()
	if !ok {
		return nil, ErrMissingDEK
	}
	return dek, nil
}
