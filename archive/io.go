// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import (
	"context"
	"fmt"
	"io"
)

// offsetWriter tracks the archive-relative position of everything the
// writer emits. Record offsets in the central directory come from it.
type offsetWriter struct {
	w   io.Writer
	pos int64
}

func (o *offsetWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.pos += int64(n)
	return n, err
}

// offset reports the current position as a record field value.
func (o *offsetWriter) offset() uint64 { return uint64(o.pos) }

// abortable stops an entry stream once its context is done.
type abortable struct {
	ctx context.Context
	src io.Reader
}

func (a abortable) Read(p []byte) (int, error) {
	if err := interrupted(a.ctx); err != nil {
		return 0, err
	}
	return a.src.Read(p)
}

// interrupted returns ErrUserAborted wrapping the context cause, or nil
// while ctx is live. A nil ctx never interrupts.
func interrupted(ctx context.Context) error {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUserAborted, context.Cause(ctx))
}
