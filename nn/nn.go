// Copyright 2026 The UniSeg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for neural-network building
// blocks: layers, attention, normalization and weight initializers.
package nn

import (
	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Module is the common interface of network components.
type Module[B tensor.Backend] = nn.Module[B]

// StateDicter is implemented by modules that load and save checkpoint
// state maps.
type StateDicter = nn.StateDicter

// Parameter is a named trainable tensor.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Layers

// Linear is a fully connected layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer with Xavier-uniform weights.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// NewLinearInit creates a linear layer with an explicit initializer
// and optional bias.
func NewLinearInit[B tensor.Backend](inFeatures, outFeatures int, useBias bool, init Initializer, backend B) *Linear[B] {
	return nn.NewLinearInit(inFeatures, outFeatures, useBias, init, backend)
}

// Conv2D is a 2D convolution layer.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// NewConv2D creates a convolution layer.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	return nn.NewConv2D[B](inChannels, outChannels, kernelH, kernelW, stride, padding, useBias, backend)
}

// LayerNorm normalizes the trailing feature axis.
type LayerNorm[B tensor.Backend] = nn.LayerNorm[B]

// NewLayerNorm creates a LayerNorm over normalizedShape features.
func NewLayerNorm[B tensor.Backend](normalizedShape int, epsilon float32, backend B) *LayerNorm[B] {
	return nn.NewLayerNorm(normalizedShape, epsilon, backend)
}

// Embedding is a lookup table from token ids to vectors.
type Embedding[B tensor.Backend] = nn.Embedding[B]

// NewEmbedding creates an embedding table.
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	return nn.NewEmbedding[B](numEmbeddings, embeddingDim, backend)
}

// MultiHeadAttention implements multi-head attention.
type MultiHeadAttention[B tensor.Backend] = nn.MultiHeadAttention[B]

// NewMultiHeadAttention creates a multi-head attention module.
func NewMultiHeadAttention[B tensor.Backend](embedDim, numHeads int, backend B) *MultiHeadAttention[B] {
	return nn.NewMultiHeadAttention[B](embedDim, numHeads, backend)
}

// FeedForward is the transformer MLP block.
type FeedForward[B tensor.Backend] = nn.FeedForward[B]

// NewFeedForward creates a GELU feed-forward block.
func NewFeedForward[B tensor.Backend](embedDim, hiddenDim int, backend B) *FeedForward[B] {
	return nn.NewFeedForward[B](embedDim, hiddenDim, backend)
}

// Activations

// ReLU applies the rectified linear unit.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU module.
func NewReLU[B tensor.Backend]() *ReLU[B] { return nn.NewReLU[B]() }

// Sigmoid applies the logistic function.
type Sigmoid[B tensor.Backend] = nn.Sigmoid[B]

// NewSigmoid creates a Sigmoid module.
func NewSigmoid[B tensor.Backend]() *Sigmoid[B] { return nn.NewSigmoid[B]() }

// GELU applies the Gaussian error linear unit.
type GELU[B tensor.Backend] = nn.GELU[B]

// NewGELU creates a GELU module.
func NewGELU[B tensor.Backend]() *GELU[B] { return nn.NewGELU[B]() }

// Initializers

// Initializer fills a tensor with starting weights.
type Initializer = nn.Initializer

// XavierNormal is Glorot-normal initialization:
// N(0, std^2) with std = gain * sqrt(2 / (fan_in + fan_out)).
type XavierNormal = nn.XavierNormal

// XavierUniform is Glorot-uniform initialization:
// U(+-bound) with bound = gain * sqrt(6 / (fan_in + fan_out)).
type XavierUniform = nn.XavierUniform

// Normal fills with N(Mean, Sigma^2); negative Sigma is rejected.
type Normal = nn.Normal

// Constant fills with a fixed value.
type Constant = nn.Constant

// FanInAndFanOut computes the input and output unit counts of a weight
// shape; receptive-field dimensions multiply both.
func FanInAndFanOut(shape tensor.Shape) (fanIn, fanOut int, err error) {
	return nn.FanInAndFanOut(shape)
}

// Seed makes subsequent weight initialization deterministic.
func Seed(seed int64) { nn.Seed(seed) }

// Attention computes scaled dot-product attention.
func Attention[B tensor.Backend](
	query, key, value *tensor.Tensor[float32, B],
	mask *tensor.Tensor[float32, B],
	scale float32,
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	return nn.ScaledDotProductAttention(query, key, value, mask, scale)
}
