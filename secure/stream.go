// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secure

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/sirupsen/logrus"
)

const chunkSize = 64 * 1024

// Writer encrypts everything written to it into dst, after an encryption
// header. The authentication tag is produced by Finalize, which may run
// after the stream is closed.
type Writer struct {
	dst       io.WriteCloser
	crypter   ContentCrypter
	ctx       *CryptContext
	buf       []byte
	written   int64
	closed    bool
	finalized bool
}

// NewWriter writes the encryption header to dst and returns the encrypting
// stream.
func NewWriter(dst io.WriteCloser, crypter ContentCrypter, ctx *CryptContext) (*Writer, error) {
	if crypter == nil {
		return nil, ErrMissingDEK
	}
	ctx.Direction = Encrypt
	if _, err := NewHeader().WriteTo(dst); err != nil {
		return nil, fmt.Errorf("write encryption header: %w", err)
	}
	return &Writer{dst: dst, crypter: crypter, ctx: ctx, buf: make([]byte, chunkSize)}, nil
}

// Write encrypts p in chunks and forwards the ciphertext.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrStreamClosed
	}
	total := 0
	for len(p) > 0 {
		chunk := p[:min(len(p), chunkSize)]
		n, err := w.crypter.CryptContent(w.ctx, chunk, w.buf[:len(chunk)])
		if err != nil || n < 0 || n > len(chunk) {
			return total, aborted("encrypt "+w.ctx.Path, n, err)
		}
		if _, err := w.dst.Write(w.buf[:n]); err != nil {
			return total, err
		}
		w.written += int64(n)
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Written returns the number of ciphertext bytes emitted after the header.
func (w *Writer) Written() int64 { return w.written }

// Close closes the underlying stream. It does not finalize the tag.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.dst.Close()
}

// Finalize asks the crypter for the authentication tag with a zero-length
// call and returns it. Later calls return the same tag.
func (w *Writer) Finalize() ([]byte, error) {
	if !w.finalized {
		if n, err := w.crypter.CryptContent(w.ctx, nil, nil); err != nil || n < 0 {
			return nil, aborted("finalize "+w.ctx.Path, n, err)
		}
		w.finalized = true
	}
	return w.ctx.Tag, nil
}

// Context returns the crypt context of the stream.
func (w *Writer) Context() *CryptContext { return w.ctx }

// Reader decrypts a stream produced by Writer. Reaching the end of the
// ciphertext triggers tag verification; io.EOF is only returned once the
// tag was accepted.
type Reader struct {
	src     io.ReadCloser
	crypter ContentCrypter
	ctx     *CryptContext
	buf     []byte
	eof     bool
	err     error
}

// NewReader consumes the encryption header of src and returns the
// decrypting stream.
func NewReader(src io.ReadCloser, crypter ContentCrypter, ctx *CryptContext) (*Reader, error) {
	if crypter == nil {
		return nil, ErrMissingDEK
	}
	ctx.Direction = Decrypt
	if _, err := ReadHeader(src); err != nil {
		return nil, err
	}
	return &Reader{src: src, crypter: crypter, ctx: ctx, buf: make([]byte, chunkSize)}, nil
}

// Read decrypts into p.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.eof {
		r.err = r.verify()
		return 0, r.err
	}

	n, err := r.src.Read(r.buf[:min(len(p), len(r.buf))])
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
		return 0, err
	}
	if errors.Is(err, io.EOF) {
		r.eof = true
	}
	if n == 0 {
		return r.Read(p)
	}

	m, cerr := r.crypter.CryptContent(r.ctx, r.buf[:n], p[:n])
	if cerr != nil || m < 0 || m > n {
		r.err = aborted("decrypt "+r.ctx.Path, m, cerr)
		return 0, r.err
	}
	return m, nil
}

func (r *Reader) verify() error {
	if n, err := r.crypter.CryptContent(r.ctx, nil, nil); err != nil || n < 0 {
		return aborted("verify "+r.ctx.Path, n, err)
	}
	return io.EOF
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.src.Close()
}

// ExportStream is the write side of an encrypted part: optional zlib
// compression in front of a Writer.
type ExportStream struct {
	enc *Writer
	zw  *zlib.Writer
}

// NewExportStream composes the compression and encryption stages over dst.
// Compression is applied when ctx.Compressed is set.
func NewExportStream(dst io.WriteCloser, crypter ContentCrypter, ctx *CryptContext, level int) (*ExportStream, error) {
	enc, err := NewWriter(dst, crypter, ctx)
	if err != nil {
		return nil, err
	}
	s := &ExportStream{enc: enc}
	if ctx.Compressed {
		if s.zw, err = zlib.NewWriterLevel(enc, level); err != nil {
			return nil, fmt.Errorf("compression stage: %w", err)
		}
	}
	return s, nil
}

func (s *ExportStream) Write(p []byte) (int, error) {
	if s.zw != nil {
		return s.zw.Write(p)
	}
	return s.enc.Write(p)
}

// Close flushes the compression stage and closes the encrypted stream.
func (s *ExportStream) Close() error {
	if s.zw != nil && !s.enc.closed {
		if err := s.zw.Close(); err != nil {
			return err
		}
	}
	return s.enc.Close()
}

// Finalize produces the authentication tag, see Writer.Finalize.
func (s *ExportStream) Finalize() ([]byte, error) { return s.enc.Finalize() }

// Context returns the crypt context of the stream.
func (s *ExportStream) Context() *CryptContext { return s.enc.ctx }

// ImportStream is the read side of an encrypted part: a Reader followed by
// optional zlib decompression.
type ImportStream struct {
	dec *Reader
	zr  io.ReadCloser
}

// NewImportStream composes decryption and decompression over src.
func NewImportStream(src io.ReadCloser, crypter ContentCrypter, ctx *CryptContext) (*ImportStream, error) {
	dec, err := NewReader(src, crypter, ctx)
	if err != nil {
		return nil, err
	}
	s := &ImportStream{dec: dec}
	if ctx.Compressed {
		if s.zr, err = zlib.NewReader(dec); err != nil {
			if errors.Is(err, ErrCalculationAborted) {
				return nil, err
			}
			return nil, fmt.Errorf("compression stage: %w", err)
		}
	}
	return s, nil
}

// Read returns plaintext. At the end of the compressed data the remaining
// ciphertext is drained so the tag is always verified.
func (s *ImportStream) Read(p []byte) (int, error) {
	if s.zr == nil {
		return s.dec.Read(p)
	}
	n, err := s.zr.Read(p)
	if errors.Is(err, io.EOF) {
		if _, derr := io.Copy(io.Discard, s.dec); derr != nil {
			return n, derr
		}
	}
	return n, err
}

// Close closes both stages.
func (s *ImportStream) Close() error {
	var err error
	if s.zr != nil {
		err = s.zr.Close()
	}
	return errors.Join(err, s.dec.Close())
}

// ExportStream wraps dst with the registered content crypter.
func (c *Context) ExportStream(dst io.WriteCloser, ctx *CryptContext, level int) (*ExportStream, error) {
	crypter, err := c.crypter()
	if err != nil {
		return nil, err
	}
	s, err := NewExportStream(dst, crypter, ctx, level)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"part": ctx.Path, "descriptor": ctx.Descriptor, "compressed": ctx.Compressed}).Debug("encrypted export stream")
	return s, nil
}

// ImportStream wraps src with the registered content crypter.
func (c *Context) ImportStream(src io.ReadCloser, ctx *CryptContext) (*ImportStream, error) {
	crypter, err := c.crypter()
	if err != nil {
		return nil, err
	}
	s, err := NewImportStream(src, crypter, ctx)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"part": ctx.Path, "descriptor": ctx.Descriptor, "compressed": ctx.Compressed}).Debug("encrypted import stream")
	return s, nil
}
