// Copyright 2026 The UniSeg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the public CPU backend.
package cpu

import (
	internalcpu "github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/tensor"
)

// Backend is the pure Go CPU implementation of tensor.Backend; matrix
// products go through gonum BLAS.
type Backend = internalcpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
func New() *Backend {
	return internalcpu.New()
}
