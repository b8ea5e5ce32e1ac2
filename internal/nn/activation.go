package nn

import (
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Activation capability interfaces. Activations are not part of the core
// Backend contract; backends advertise them by implementing these.

// ReLUBackend is implemented by backends supporting ReLU.
type ReLUBackend interface {
	ReLU(*tensor.RawTensor) *tensor.RawTensor
}

// SigmoidBackend is implemented by backends supporting Sigmoid.
type SigmoidBackend interface {
	Sigmoid(*tensor.RawTensor) *tensor.RawTensor
}

// GELUBackend is implemented by backends supporting GELU.
type GELUBackend interface {
	GELU(*tensor.RawTensor) *tensor.RawTensor
}

// ReLU is the rectified linear unit: f(x) = max(0, x).
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] { return &ReLU[B]{} }

// Forward applies the activation.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	if rb, ok := any(backend).(ReLUBackend); ok {
		return tensor.New[float32, B](rb.ReLU(input.Raw()), backend)
	}
	panic("ReLU: backend does not implement the ReLU operation")
}

// Parameters returns nil; ReLU has no trainable parameters.
func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

// Sigmoid squashes values to (0, 1).
type Sigmoid[B tensor.Backend] struct{}

// NewSigmoid creates a Sigmoid activation module.
func NewSigmoid[B tensor.Backend]() *Sigmoid[B] { return &Sigmoid[B]{} }

// Forward applies the activation.
func (s *Sigmoid[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	if sb, ok := any(backend).(SigmoidBackend); ok {
		return tensor.New[float32, B](sb.Sigmoid(input.Raw()), backend)
	}
	panic("Sigmoid: backend does not implement the Sigmoid operation")
}

// Parameters returns nil.
func (s *Sigmoid[B]) Parameters() []*Parameter[B] { return nil }

// GELU is the Gaussian error linear unit (tanh approximation), the
// activation transformer feed-forward blocks use.
type GELU[B tensor.Backend] struct{}

// NewGELU creates a GELU activation module.
func NewGELU[B tensor.Backend]() *GELU[B] { return &GELU[B]{} }

// Forward applies the activation.
func (g *GELU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	if gb, ok := any(backend).(GELUBackend); ok {
		return tensor.New[float32, B](gb.GELU(input.Raw()), backend)
	}
	panic("GELU: backend does not implement the GELU operation")
}

// Parameters returns nil.
func (g *GELU[B]) Parameters() []*Parameter[B] { return nil }
