// Copyright 2026 The UniSeg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// RawTensor is the untyped tensor representation: a byte buffer plus
// shape, strides, dtype and device.
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}
