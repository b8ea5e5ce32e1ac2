package nn

import (
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// FeedForward is the transformer MLP block: Linear -> activation ->
// Linear. The activation is GELU by default; pass act="relu" through
// NewFeedForwardAct for encoder variants that use ReLU.
type FeedForward[B tensor.Backend] struct {
	Fc1 *Linear[B]
	Fc2 *Linear[B]
	act Module[B]
}

func NewFeedForward[B tensor.Backend](embedDim, hiddenDim int, backend B) *FeedForward[B] {
	return NewFeedForwardAct(embedDim, hiddenDim, "gelu", backend)
}

func NewFeedForwardAct[B tensor.Backend](embedDim, hiddenDim int, act string, backend B) *FeedForward[B] {
	var activation Module[B]
	switch act {
	case "relu":
		activation = NewReLU[B]()
	case "gelu":
		activation = NewGELU[B]()
	default:
		panic("ffn: unsupported activation " + act)
	}
	return &FeedForward[B]{
		Fc1: NewLinear[B](embedDim, hiddenDim, backend),
		Fc2: NewLinear[B](hiddenDim, embedDim, backend),
		act: activation,
	}
}

func (f *FeedForward[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return f.Fc2.Forward(f.act.Forward(f.Fc1.Forward(input)))
}

func (f *FeedForward[B]) Parameters() []*Parameter[B] {
	return append(f.Fc1.Parameters(), f.Fc2.Parameters()...)
}

func (f *FeedForward[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	PrefixStateDict(sd, "fc1", f.Fc1.StateDict())
	PrefixStateDict(sd, "fc2", f.Fc2.StateDict())
	return sd
}

func (f *FeedForward[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := f.Fc1.LoadStateDict(SubStateDict(sd, "fc1")); err != nil {
		return err
	}
	return f.Fc2.LoadStateDict(SubStateDict(sd, "fc2"))
}
