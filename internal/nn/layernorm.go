package nn

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// LayerNorm normalizes the last dimension:
//
//	y = gamma * (x - mean(x)) / sqrt(var(x) + eps) + beta
//
// Gamma initializes to ones, beta to zeros.
type LayerNorm[B tensor.Backend] struct {
	Gamma   *Parameter[B]
	Beta    *Parameter[B]
	Epsilon float32
	dim     int
	backend B
}

// NewLayerNorm creates a LayerNorm over a feature dimension of the given
// size. Epsilon is typically 1e-5.
func NewLayerNorm[B tensor.Backend](normalizedShape int, epsilon float32, backend B) *LayerNorm[B] {
	if normalizedShape <= 0 {
		panic(fmt.Sprintf("layernorm: invalid normalized shape %d", normalizedShape))
	}
	return &LayerNorm[B]{
		Gamma:   NewParameter("weight", Ones(tensor.Shape{normalizedShape}, backend)),
		Beta:    NewParameter("bias", Zeros(tensor.Shape{normalizedShape}, backend)),
		Epsilon: epsilon,
		dim:     normalizedShape,
		backend: backend,
	}
}

// Forward normalizes the input over its last dimension.
// Shape is preserved: [..., d] -> [..., d].
func (l *LayerNorm[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if shape[len(shape)-1] != l.dim {
		panic(fmt.Sprintf("layernorm: last dim %d != normalized shape %d", shape[len(shape)-1], l.dim))
	}

	mean := x.MeanDim(-1, true)
	centered := x.Sub(mean)
	variance := centered.Mul(centered).MeanDim(-1, true)
	invStd := tensor.Ones[float32](variance.Shape(), l.backend).Div(variance.AddScalar(l.Epsilon).Sqrt())
	norm := centered.Mul(invStd)

	gamma := l.Gamma.Tensor()
	beta := l.Beta.Tensor()
	for i := 0; i < len(shape)-1; i++ {
		gamma = gamma.Unsqueeze(0)
		beta = beta.Unsqueeze(0)
	}
	return norm.Mul(gamma).Add(beta)
}

// Parameters returns gamma and beta.
func (l *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Gamma, l.Beta}
}

// StateDict returns the checkpoint state of this layer.
func (l *LayerNorm[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight": l.Gamma.Tensor().Raw(),
		"bias":   l.Beta.Tensor().Raw(),
	}
}

// LoadStateDict loads gamma and beta from a state map.
func (l *LayerNorm[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	w, ok := stateDict["weight"]
	if !ok {
		return fmt.Errorf("missing weight in state dict")
	}
	if err := l.Gamma.Load(w); err != nil {
		return err
	}
	b, ok := stateDict["bias"]
	if !ok {
		return fmt.Errorf("missing bias in state dict")
	}
	return l.Beta.Load(b)
}
