// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opcpack

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/lemon4ksan/opcpack/keystore"
	"github.com/lemon4ksan/opcpack/opc"
	"github.com/lemon4ksan/opcpack/secure"
	"github.com/lemon4ksan/opcpack/warning"
)

// Reader opens a package and transparently decrypts the parts its key store
// lists. Group keys are unwrapped on open through the first consumer whose
// key wrapper is registered.
type Reader struct {
	sess     *session
	pkg      *opc.Reader
	ks       *keystore.KeyStore
	sec      *secure.Context
	warnings *warning.List
	closer   io.Closer
	log      *logrus.Entry
}

// NewReader opens the package in src. A nil context has no capabilities
// registered, so only plain parts can be read.
func NewReader(src io.ReaderAt, size int64, sec *secure.Context, cfg Config) (*Reader, error) {
	sess, err := cfg.newSession()
	if err != nil {
		return nil, err
	}
	if sec == nil {
		sec = secure.NewContext(secure.WithLogger(sess.logger))
	}
	warnings := warning.NewList(sess.threshold, sess.logger)

	pkg, err := opc.NewReader(src, size,
		opc.WithArchiveReaderOptions(sess.archiveReaderOptions(warnings)...),
		opc.WithReaderLogger(sess.logger),
	)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		sess:     sess,
		pkg:      pkg,
		sec:      sec,
		warnings: warnings,
		log:      sess.logger.WithField("component", "opcpack.reader"),
	}
	if err := r.readKeyStore(); err != nil {
		return nil, err
	}
	if err := r.unwrapKeys(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenFile opens the named package file. Close also closes the file.
func OpenFile(name string, sec *secure.Context, cfg Config) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewReader(f, info.Size(), sec, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func (r *Reader) readKeyStore() error {
	rel, ok := r.pkg.FindRootRelationship(keystore.RelationshipType)
	if !ok {
		r.ks = keystore.New()
		return nil
	}

	part, err := r.pkg.CreatePart(rel.Target)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer part.Close()

	ks, err := keystore.Decode(part, r.warnings)
	if err != nil {
		return fmt.Errorf("read key store %s: %w", rel.Target, err)
	}
	r.ks = ks

	r.log.WithFields(logrus.Fields{
		"path":      rel.Target,
		"consumers": len(ks.Consumers()),
		"resources": len(ks.ResourceData()),
	}).Debug("key store loaded")
	return nil
}

func (r *Reader) unwrapKeys() error {
	for _, group := range r.ks.ResourceDataGroups() {
		unwrapped, err := r.unwrapGroup(group)
		if err != nil {
			return err
		}
		if unwrapped {
			continue
		}
		if len(r.ks.ResourceDataByGroup(group.KeyUUID())) == 0 {
			continue
		}
		if err := r.warnings.Add(warning.MissingKEK, warning.MissingMandatoryValue,
			"no registered consumer can unwrap the key of group %s", group.KeyUUID()); err != nil {
			return err
		}
	}
	return nil
}

// unwrapGroup recovers the group key through the first usable access right.
func (r *Reader) unwrapGroup(group *keystore.ResourceDataGroup) (bool, error) {
	for _, ar := range group.AccessRights() {
		if _, ok := r.sec.KEK(ar.ConsumerID); !ok {
			continue
		}
		wc := secure.WrapContext{ConsumerID: ar.ConsumerID, KeyUUID: group.KeyUUID(), Params: ar.Params}
		key, err := r.sec.UnwrapKey(wc, ar.CipherValue)
		if err != nil {
			if werr := r.warnings.Add(warning.UnwrapFailed, warning.InvalidOptionalValue,
				"consumer %s, group %s: %v", ar.ConsumerID, group.KeyUUID(), err); werr != nil {
				return false, werr
			}
			continue
		}
		group.SetKey(key)
		return true, nil
	}
	return false, nil
}

// Package exposes the underlying package reader.
func (r *Reader) Package() *opc.Reader { return r.pkg }

// KeyStore returns the parsed key store, empty for plain packages.
func (r *Reader) KeyStore() *keystore.KeyStore { return r.ks }

// Context returns the cryptographic capabilities.
func (r *Reader) Context() *secure.Context { return r.sec }

// Warnings returns every warning recorded while opening and reading.
func (r *Reader) Warnings() *warning.List { return r.warnings }

// PartNames lists the parts of the package.
func (r *Reader) PartNames() []string { return r.pkg.PartNames() }

// IsEncrypted reports whether the key store lists the part.
func (r *Reader) IsEncrypted(name string) bool {
	_, ok := r.ks.FindResourceData(name)
	return ok
}

// CreatePart opens a part for reading, decrypting and decompressing it when
// the key store lists it.
func (r *Reader) CreatePart(name string) (*opc.Part, error) {
	rd, encrypted := r.ks.FindResourceData(name)
	if !encrypted {
		return r.pkg.CreatePart(name)
	}

	if _, ok := r.sec.DEK(); !ok {
		if err := r.warnings.Add(warning.MissingDEK, warning.MissingMandatoryValue,
			"part %s is encrypted", rd.Path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: part %s is encrypted", secure.ErrMissingDEK, rd.Path)
	}
	group, ok := r.ks.FindResourceDataGroup(rd.GroupUUID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", keystore.ErrGroupNotFound, rd.GroupUUID)
	}
	key := group.Key()
	if key == nil {
		return nil, fmt.Errorf("%w: key of group %s is not available", secure.ErrMissingKEK, rd.GroupUUID)
	}

	part, err := r.pkg.CreatePart(rd.Path)
	if err != nil {
		return nil, err
	}
	cc := &secure.CryptContext{
		Descriptor: rd.Descriptor,
		Path:       rd.Path,
		Key:        key,
		IV:         rd.Params.IV,
		Tag:        rd.Params.Tag,
		AAD:        rd.Params.AAD,
		Compressed: rd.Params.Compression == keystore.CompressionDeflate,
	}
	if err := part.WrapImport(func(src io.ReadCloser) (io.ReadCloser, error) {
		return r.sec.ImportStream(src, cc)
	}); err != nil {
		part.Close()
		return nil, fmt.Errorf("decrypt part %s: %w", rd.Path, err)
	}
	return part, nil
}

// Close releases the file opened by OpenFile.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
