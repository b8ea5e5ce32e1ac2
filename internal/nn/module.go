// Package nn implements the neural-network building blocks of the uniseg
// library: layers, attention, normalization and weight initializers.
//
// Modules are generic over the compute backend and compose the same way
// the models package wires them: constructors return structs, Forward
// panics on shape misuse, parameters carry their checkpoint names.
package nn

import (
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Module is the base interface for network components.
type Module[B tensor.Backend] interface {
	// Forward computes the module output for the input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, including those of
	// nested modules. Parameter-free modules return nil.
	Parameters() []*Parameter[B]
}

// StateDicter is implemented by modules whose parameters load from and
// save to checkpoint state maps.
type StateDicter interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// PrefixStateDict copies src into dst with every key prefixed. Used by
// container modules to compose checkpoint namespaces.
func PrefixStateDict(dst map[string]*tensor.RawTensor, prefix string, src map[string]*tensor.RawTensor) {
	for k, v := range src {
		dst[prefix+"."+k] = v
	}
}

// SubStateDict extracts the entries under prefix, with the prefix
// stripped. The inverse of PrefixStateDict.
func SubStateDict(src map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	p := prefix + "."
	for k, v := range src {
		if len(k) > len(p) && k[:len(p)] == p {
			out[k[len(p):]] = v
		}
	}
	return out
}
