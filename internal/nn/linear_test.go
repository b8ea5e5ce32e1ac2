package nn

import (
	"math"
	"testing"

	"github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

func TestLinearForward(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear[*cpu.Backend](3, 2, backend)

	// W = [[1, 0, 0], [0, 1, 0]], b = [0.5, -0.5]
	copy(layer.Weight().Tensor().Data(), []float32{1, 0, 0, 0, 1, 0})
	copy(layer.Bias().Tensor().Data(), []float32{0.5, -0.5})

	input, err := tensor.FromSlice[float32]([]float32{1, 2, 3}, tensor.Shape{1, 3}, backend)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	output := layer.Forward(input)

	// y = x @ W^T + b = [1+0.5, 2-0.5]
	expected := []float32{1.5, 1.5}
	for i, exp := range expected {
		if got := output.Data()[i]; math.Abs(float64(got-exp)) > 1e-6 {
			t.Errorf("output[%d] = %v, expected %v", i, got, exp)
		}
	}
}

func TestLinearForward3D(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear[*cpu.Backend](4, 8, backend)

	input := tensor.Randn[float32](tensor.Shape{2, 5, 4}, backend)
	output := layer.Forward(input)

	want := tensor.Shape{2, 5, 8}
	if !output.Shape().Equal(want) {
		t.Errorf("output shape = %v, expected %v", output.Shape(), want)
	}
}

func TestLinearPanicsOnFeatureMismatch(t *testing.T) {
	backend := cpu.New()
	layer := NewLinear[*cpu.Backend](3, 2, backend)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for wrong feature count")
		}
	}()
	layer.Forward(tensor.Randn[float32](tensor.Shape{1, 4}, backend))
}

func TestLinearStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := NewLinear[*cpu.Backend](4, 3, backend)
	dst := NewLinear[*cpu.Backend](4, 3, backend)

	if err := dst.LoadStateDict(src.StateDict()); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}
	for i := range src.Weight().Tensor().Data() {
		if src.Weight().Tensor().Data()[i] != dst.Weight().Tensor().Data()[i] {
			t.Fatalf("weight[%d] differs after load", i)
		}
	}
}

func TestLayerNormForward(t *testing.T) {
	backend := cpu.New()
	norm := NewLayerNorm(2, 1e-5, backend)

	input, err := tensor.FromSlice[float32]([]float32{1, 3}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	output := norm.Forward(input)

	// mean 2, var 1: normalized to [-1, 1]
	expected := []float32{-1, 1}
	for i, exp := range expected {
		if got := output.Data()[i]; math.Abs(float64(got-exp)) > 1e-3 {
			t.Errorf("output[%d] = %v, expected %v", i, got, exp)
		}
	}
}

func TestLayerNormGammaBeta(t *testing.T) {
	backend := cpu.New()
	norm := NewLayerNorm(2, 1e-5, backend)
	copy(norm.Gamma.Tensor().Data(), []float32{2, 2})
	copy(norm.Beta.Tensor().Data(), []float32{1, 1})

	input, err := tensor.FromSlice[float32]([]float32{1, 3}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	output := norm.Forward(input)

	expected := []float32{-1, 3} // 2*(-1)+1, 2*1+1
	for i, exp := range expected {
		if got := output.Data()[i]; math.Abs(float64(got-exp)) > 1e-3 {
			t.Errorf("output[%d] = %v, expected %v", i, got, exp)
		}
	}
}

func TestAttentionUniformWeights(t *testing.T) {
	backend := cpu.New()

	// identical keys make attention uniform, so the output is the mean
	// of the values
	q, _ := tensor.FromSlice[float32]([]float32{1, 0}, tensor.Shape{1, 1, 1, 2}, backend)
	k, _ := tensor.FromSlice[float32]([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2}, backend)
	v, _ := tensor.FromSlice[float32]([]float32{0, 2, 4, 6}, tensor.Shape{1, 1, 2, 2}, backend)

	out, weights := ScaledDotProductAttention(q, k, v, nil, 0)

	for i, exp := range []float32{0.5, 0.5} {
		if got := weights.Data()[i]; math.Abs(float64(got-exp)) > 1e-6 {
			t.Errorf("weights[%d] = %v, expected %v", i, got, exp)
		}
	}
	for i, exp := range []float32{2, 4} {
		if got := out.Data()[i]; math.Abs(float64(got-exp)) > 1e-6 {
			t.Errorf("out[%d] = %v, expected %v", i, got, exp)
		}
	}
}

func TestAttentionMask(t *testing.T) {
	backend := cpu.New()

	q, _ := tensor.FromSlice[float32]([]float32{1, 0}, tensor.Shape{1, 1, 1, 2}, backend)
	k, _ := tensor.FromSlice[float32]([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2}, backend)
	v, _ := tensor.FromSlice[float32]([]float32{0, 2, 4, 6}, tensor.Shape{1, 1, 2, 2}, backend)
	// mask out the second key
	mask, _ := tensor.FromSlice[float32]([]float32{0, NegInf}, tensor.Shape{1, 1, 1, 2}, backend)

	out, weights := ScaledDotProductAttention(q, k, v, mask, 0)

	if got := weights.Data()[0]; math.Abs(float64(got-1)) > 1e-4 {
		t.Errorf("weights[0] = %v, expected ~1", got)
	}
	for i, exp := range []float32{0, 2} {
		if got := out.Data()[i]; math.Abs(float64(got-exp)) > 1e-3 {
			t.Errorf("out[%d] = %v, expected %v", i, got, exp)
		}
	}
}

func TestMultiHeadAttentionShapes(t *testing.T) {
	backend := cpu.New()
	mha := NewMultiHeadAttention[*cpu.Backend](16, 4, backend)

	query := tensor.Randn[float32](tensor.Shape{2, 5, 16}, backend)
	memory := tensor.Randn[float32](tensor.Shape{2, 9, 16}, backend)

	out, weights := mha.ForwardWithWeights(query, memory, memory, nil)

	if !out.Shape().Equal(tensor.Shape{2, 5, 16}) {
		t.Errorf("output shape = %v, expected [2 5 16]", out.Shape())
	}
	if !weights.Shape().Equal(tensor.Shape{2, 4, 5, 9}) {
		t.Errorf("weights shape = %v, expected [2 4 5 9]", weights.Shape())
	}

	// each attention row is a distribution
	wd := weights.Data()
	for row := 0; row < 2*4*5; row++ {
		var sum float64
		for j := 0; j < 9; j++ {
			sum += float64(wd[row*9+j])
		}
		if math.Abs(sum-1) > 1e-4 {
			t.Fatalf("attention row %d sums to %v", row, sum)
		}
	}
}

func TestMultiHeadAttentionRejectsIndivisible(t *testing.T) {
	backend := cpu.New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when embed_dim is not divisible by heads")
		}
	}()
	NewMultiHeadAttention[*cpu.Backend](10, 3, backend)
}
