package nn

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Linear is a fully connected layer: y = x @ W^T + b.
//
// Weight shape is [out_features, in_features], matching checkpoint
// conventions. Weights default to Xavier uniform, biases to zeros.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B] // nil when the layer has no bias
	backend     B
}

// NewLinear creates a Linear layer with default initialization.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return NewLinearInit(inFeatures, outFeatures, true, XavierUniform{}, backend)
}

// NewLinearInit creates a Linear layer with an explicit weight
// initializer and optional bias.
func NewLinearInit[B tensor.Backend](inFeatures, outFeatures int, useBias bool, init Initializer, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d out=%d", inFeatures, outFeatures))
	}
	weight := NewParameter("weight", Initialized(init, tensor.Shape{outFeatures, inFeatures}, backend))

	var bias *Parameter[B]
	if useBias {
		bias = NewParameter("bias", Zeros(tensor.Shape{outFeatures}, backend))
	}

	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      weight,
		bias:        bias,
		backend:     backend,
	}
}

// Forward computes y = x @ W^T + b.
//
// Accepts [batch, in_features] or any higher-rank input whose last axis
// is in_features; leading axes are preserved.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("linear: expected at least 2D input, got shape %v", shape))
	}
	if shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected %d input features, got %d", l.inFeatures, shape[len(shape)-1]))
	}

	rows := input.NumElements() / l.inFeatures
	x := input.Reshape(rows, l.inFeatures)

	output := x.MatMul(l.weight.Tensor().T())
	if l.bias != nil {
		output = output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
	}

	outShape := append(shape[:len(shape)-1].Clone(), l.outFeatures)
	return output.Reshape(outShape...)
}

// Parameters returns the trainable parameters.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] { return l.bias }

// InFeatures returns the input feature count.
func (l *Linear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output feature count.
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }

// StateDict returns the checkpoint state of this layer.
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{"weight": l.weight.Tensor().Raw()}
	if l.bias != nil {
		sd["bias"] = l.bias.Tensor().Raw()
	}
	return sd
}

// LoadStateDict loads weights (and bias, when present) from a state map.
func (l *Linear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	w, ok := stateDict["weight"]
	if !ok {
		return fmt.Errorf("missing weight in state dict")
	}
	if err := l.weight.Load(w); err != nil {
		return err
	}
	if l.bias != nil {
		b, ok := stateDict["bias"]
		if !ok {
			return fmt.Errorf("missing bias in state dict")
		}
		if err := l.bias.Load(b); err != nil {
			return err
		}
	}
	return nil
}
