// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opcpack

import "errors"

var (
	ErrInvalidConfig = errors.New("opcpack: invalid configuration")
	ErrFinalized     = errors.New("opcpack: writer finalized")
)
