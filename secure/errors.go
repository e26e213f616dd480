// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secure

import (
	"errors"
	"fmt"
)

var (
	ErrCalculationAborted = errors.New("secure: calculation aborted")
	ErrMissingDEK         = errors.New("secure: no content encryption callback registered")
	ErrMissingKEK         = errors.New("secure: no key wrapping callback registered")
	ErrInvalidHeader      = errors.New("secure: invalid encryption header")
	ErrStreamClosed       = errors.New("secure: stream closed")
)

// aborted converts a failed or negative callback result into ErrCalculationAborted.
func aborted(op string, n int, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCalculationAborted, op, err)
	}
	return fmt.Errorf("%w: %s returned %d", ErrCalculationAborted, op, n)
}
