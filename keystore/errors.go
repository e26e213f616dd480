// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keystore

import "errors"

var (
	ErrDuplicateConsumer     = errors.New("keystore: duplicate consumer")
	ErrDuplicateGroup        = errors.New("keystore: duplicate resource data group")
	ErrDuplicateResourceData = errors.New("keystore: duplicate resource data")
	ErrDuplicateAccessRight  = errors.New("keystore: duplicate access right")
	ErrMissingGroup          = errors.New("keystore: resource data group not set")
	ErrConsumerNotFound      = errors.New("keystore: consumer not found")
	ErrGroupNotFound         = errors.New("keystore: resource data group not found")
	ErrResourceDataNotFound  = errors.New("keystore: resource data not found")
	ErrInvalidConsumer       = errors.New("keystore: invalid consumer")
	ErrTooManyElements       = errors.New("keystore: too many elements")
	ErrUnknownAlgorithm      = errors.New("keystore: unknown algorithm")
	ErrFormat                = errors.New("keystore: invalid key store document")
)
