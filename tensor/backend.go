// Copyright 2026 The UniSeg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Backend is the interface compute devices implement. All operations
// work on RawTensor values; the typed Tensor wrapper dispatches to a
// Backend.
type Backend = tensor.Backend
