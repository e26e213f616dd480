// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opcpack reads and writes OPC packages whose parts may be
// encrypted. Which parts are encrypted is decided by a key store; the
// cryptography itself is supplied by the caller through a secure.Context.
//
// Writing:
//
//	w, err := opcpack.NewWriter(file, ks, sec, opcpack.DefaultConfig())
//	part, err := w.AddPart("/3D/3dmodel.model")
//	part.Write(model)
//	err = w.Close()
//
// Reading:
//
//	r, err := opcpack.NewReader(file, size, sec, opcpack.DefaultConfig())
//	part, err := r.CreatePart("/3D/3dmodel.model")
package opcpack
