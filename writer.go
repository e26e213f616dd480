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

const (
	contentKeySize = 32
	ivSize         = 12
)

// State is the lifecycle stage of a Writer.
type State uint8

const (
	StateCreated State = iota + 1
	StatePartsWritten
	StateRefreshing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePartsWritten:
		return "parts_written"
	case StateRefreshing:
		return "refreshing"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type encryptedPart struct {
	name   string
	stream *secure.ExportStream
}

// Writer writes a package whose parts are encrypted according to a key
// store. A part is encrypted exactly when the key store holds resource data
// for its name. On Close every tag and wrapped key is refreshed before the
// key store part and the central directory are written.
type Writer struct {
	sess      *session
	pkg       *opc.Writer
	ks        *keystore.KeyStore
	sec       *secure.Context
	warnings  *warning.List
	state     State
	encrypted []*encryptedPart
	closer    io.Closer
	log       *logrus.Entry
}

// NewWriter creates a writer into dest. A nil key store writes a plain
// package; a nil context has no capabilities registered.
func NewWriter(dest io.WriteSeeker, ks *keystore.KeyStore, sec *secure.Context, cfg Config) (*Writer, error) {
	sess, err := cfg.newSession()
	if err != nil {
		return nil, err
	}
	if ks == nil {
		ks = keystore.New()
	}
	if sec == nil {
		sec = secure.NewContext(secure.WithLogger(sess.logger))
	}
	if _, ok := ks.FindResourceData(sess.keyStorePath); ok {
		return nil, fmt.Errorf("%w: key store part %s cannot be encrypted", ErrInvalidConfig, sess.keyStorePath)
	}

	pkg, err := opc.NewWriter(dest,
		opc.WithArchiveOptions(sess.archiveWriterOptions()...),
		opc.WithWriterLogger(sess.logger),
	)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		sess:     sess,
		pkg:      pkg,
		ks:       ks,
		sec:      sec,
		warnings: warning.NewList(sess.threshold, sess.logger),
		state:    StateCreated,
		log:      sess.logger.WithField("component", "opcpack.writer"),
	}
	pkg.AddPartHook(w.claimPart)
	pkg.AddRelationshipHook(w.refresh)
	return w, nil
}

// CreateFile creates the named file and a Writer on it. Close also closes
// the file.
func CreateFile(name string, ks *keystore.KeyStore, sec *secure.Context, cfg Config) (*Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, ks, sec, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Package exposes the underlying package writer for content types and
// relationships. Parts added through it are encrypted exactly like parts
// added through AddPart.
func (w *Writer) Package() *opc.Writer { return w.pkg }

// KeyStore returns the key store driving encryption.
func (w *Writer) KeyStore() *keystore.KeyStore { return w.ks }

// Context returns the cryptographic capabilities.
func (w *Writer) Context() *secure.Context { return w.sec }

// Warnings returns the warnings recorded during the session.
func (w *Writer) Warnings() *warning.List { return w.warnings }

// State returns the lifecycle stage.
func (w *Writer) State() State { return w.state }

// AddPart starts a new part, closing the previous one. Parts listed in the
// key store are compressed if requested and encrypted with a fresh IV under
// their group's content key.
func (w *Writer) AddPart(name string) (*opc.Part, error) {
	if w.state >= StateRefreshing {
		return nil, ErrFinalized
	}
	return w.pkg.AddPart(name)
}

// claimPart is the package writer's part hook. It refuses encrypted parts
// the context cannot encrypt before their entry is created, and wraps the
// rest in an export stream.
func (w *Writer) claimPart(partName string) (opc.PartWrap, error) {
	if w.state >= StateRefreshing {
		if partName == w.sess.keyStorePath {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: part %s added during refresh", ErrFinalized, partName)
	}

	rd, encrypted := w.ks.FindResourceData(partName)
	if !encrypted {
		w.state = StatePartsWritten
		return nil, nil
	}

	if _, ok := w.sec.DEK(); !ok {
		return nil, fmt.Errorf("%w: part %s is encrypted", secure.ErrMissingDEK, rd.Path)
	}
	group, ok := w.ks.FindResourceDataGroup(rd.GroupUUID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", keystore.ErrGroupNotFound, rd.GroupUUID)
	}
	key := group.Key()
	if key == nil {
		var err error
		if key, err = w.sec.RandomBytes(contentKeySize); err != nil {
			return nil, err
		}
		group.SetKey(key)
	}
	iv, err := w.sec.RandomBytes(ivSize)
	if err != nil {
		return nil, err
	}

	cc := &secure.CryptContext{
		Descriptor: rd.Descriptor,
		Path:       rd.Path,
		Key:        key,
		IV:         iv,
		AAD:        rd.Params.AAD,
		Compressed: rd.Params.Compression == keystore.CompressionDeflate,
	}
	return func(part *opc.Part) error {
		ep := &encryptedPart{name: rd.Path}
		if err := part.WrapExport(func(dst io.WriteCloser) (io.WriteCloser, error) {
			s, err := w.sec.ExportStream(dst, cc, w.sess.streamLevel())
			if err != nil {
				return nil, err
			}
			ep.stream = s
			return s, nil
		}); err != nil {
			return fmt.Errorf("encrypt part %s: %w", rd.Path, err)
		}
		w.encrypted = append(w.encrypted, ep)
		w.state = StatePartsWritten

		w.log.WithFields(logrus.Fields{
			"part":       rd.Path,
			"group":      rd.GroupUUID,
			"compressed": cc.Compressed,
		}).Debug("encrypted part added")
		return nil
	}, nil
}

// Close refreshes the key store, writes it and finalizes the archive.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.state == StateFinalized {
		return nil
	}
	err := w.pkg.Close()
	w.state = StateFinalized
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// refresh runs once every part is closed and before any relationship or
// directory record is written.
func (w *Writer) refresh(pkg *opc.Writer) error {
	w.state = StateRefreshing

	if err := w.refreshTags(); err != nil {
		return err
	}
	if err := w.refreshAccessRights(); err != nil {
		return err
	}
	if w.ks.Empty() {
		return nil
	}
	return w.writeKeyStore(pkg)
}

func (w *Writer) refreshTags() error {
	for _, ep := range w.encrypted {
		tag, err := ep.stream.Finalize()
		if err != nil {
			return err
		}
		rd, ok := w.ks.FindResourceData(ep.name)
		if !ok {
			return fmt.Errorf("%w: %s", keystore.ErrResourceDataNotFound, ep.name)
		}
		params := rd.Params
		params.IV = ep.stream.Context().IV
		params.Tag = tag
		if err := w.ks.SetResourceParams(ep.name, params); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) refreshAccessRights() error {
	for _, group := range w.ks.ResourceDataGroups() {
		key := group.Key()
		if key == nil {
			continue
		}

		var paths []string
		for _, rd := range w.ks.ResourceDataByGroup(group.KeyUUID()) {
			paths = append(paths, rd.Path)
		}

		for _, ar := range group.AccessRights() {
			wc := secure.WrapContext{
				ConsumerID:    ar.ConsumerID,
				KeyUUID:       group.KeyUUID(),
				Params:        ar.Params,
				ResourcePaths: paths,
			}
			wrapped, err := w.sec.WrapKey(wc, key)
			switch {
			case errors.Is(err, secure.ErrMissingKEK) && !w.sess.Strict:
				if werr := w.warnings.Add(warning.MissingKEK, warning.MissingMandatoryValue,
					"no key wrapper for consumer %s of group %s", ar.ConsumerID, group.KeyUUID()); werr != nil {
					return werr
				}
				continue
			case err != nil:
				return err
			}
			if err := group.SetCipherValue(ar.ConsumerID, wrapped); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeKeyStore(pkg *opc.Writer) error {
	path := w.sess.keyStorePath
	pkg.ContentTypes().AddOverride(path, keystore.ContentType)
	part, err := pkg.AddPart(path)
	if err != nil {
		return fmt.Errorf("add key store part: %w", err)
	}
	if err := w.ks.Encode(part); err != nil {
		return err
	}

	if _, err := pkg.AddRootRelationship(keystore.RelationshipType, path); err != nil {
		return err
	}
	if _, err := pkg.AddRootRelationship(opc.MustPreserveRelationshipType, path); err != nil {
		return err
	}
	for _, ep := range w.encrypted {
		if _, err := pkg.AddRootRelationship(keystore.EncryptedFileRelationshipType, ep.name); err != nil {
			return err
		}
	}

	w.log.WithFields(logrus.Fields{
		"path":      path,
		"encrypted": len(w.encrypted),
		"groups":    len(w.ks.ResourceDataGroups()),
	}).Debug("key store written")
	return nil
}
