package modules

import (
	"testing"

	"github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

func tokenBatch(t *testing.T, batch, seq int, vocab int32, b *cpu.Backend) *tensor.Tensor[int32, *cpu.Backend] {
	t.Helper()
	data := make([]int32, batch*seq)
	for i := range data {
		data[i] = int32(i) % vocab
	}
	tokens, err := tensor.FromSlice(data, tensor.Shape{batch, seq}, b)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	return tokens
}

func TestRNNEncoderShapes(t *testing.T) {
	nn.Seed(1)
	b := cpu.New()
	enc := NewRNNEncoder[*cpu.Backend](1000, 32, 16, 2, b)

	tokens := tokenBatch(t, 8, 16, 1000, b)
	mask := tensor.Ones[int32](tensor.Shape{8, 16}, b)

	output, hiddens, outMask := enc.Forward(tokens, mask)

	if !output.Shape().Equal(tensor.Shape{8, 16, 16}) {
		t.Errorf("output shape = %v, expected [8 16 16]", output.Shape())
	}
	if !hiddens.Shape().Equal(tensor.Shape{2, 8, 16}) {
		t.Errorf("hiddens shape = %v, expected [2 8 16]", hiddens.Shape())
	}
	if outMask != mask {
		t.Error("mask should pass through unchanged")
	}
}

func TestRNNEncoderOutputBounded(t *testing.T) {
	nn.Seed(2)
	b := cpu.New()
	enc := NewRNNEncoder[*cpu.Backend](100, 8, 4, 1, b)

	tokens := tokenBatch(t, 2, 5, 100, b)
	output, _, _ := enc.Forward(tokens, nil)

	// tanh keeps every activation in (-1, 1)
	for i, v := range output.Data() {
		if v <= -1 || v >= 1 {
			t.Fatalf("output[%d] = %v, expected inside (-1, 1)", i, v)
		}
	}
}

func TestRNNEncoderLastStepMatchesFinalHidden(t *testing.T) {
	nn.Seed(3)
	b := cpu.New()
	enc := NewRNNEncoder[*cpu.Backend](50, 8, 4, 2, b)

	tokens := tokenBatch(t, 3, 6, 50, b)
	output, hiddens, _ := enc.Forward(tokens, nil)

	// the last time step of the top layer is its final hidden state
	for batch := 0; batch < 3; batch++ {
		for d := 0; d < 4; d++ {
			got := output.At(batch, 5, d)
			want := hiddens.At(1, batch, d)
			if got != want {
				t.Fatalf("output[%d,5,%d] = %v, final hidden = %v", batch, d, got, want)
			}
		}
	}
}

func TestRNNEncoderRejectsBadRank(t *testing.T) {
	b := cpu.New()
	enc := NewRNNEncoder[*cpu.Backend](10, 4, 4, 1, b)
	tokens, err := tensor.FromSlice([]int32{1, 2, 3}, tensor.Shape{3}, b)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected 1-D src_tokens to panic")
		}
	}()
	enc.Forward(tokens, nil)
}

func TestLSTMEncoderShapes(t *testing.T) {
	nn.Seed(5)
	b := cpu.New()
	enc := NewLSTMEncoder[*cpu.Backend](1000, 32, 16, 2, b)

	tokens := tokenBatch(t, 8, 16, 1000, b)
	mask := tensor.Ones[int32](tensor.Shape{8, 16}, b)

	output, hiddens, cells, outMask := enc.Forward(tokens, mask)

	if !output.Shape().Equal(tensor.Shape{8, 16, 16}) {
		t.Errorf("output shape = %v, expected [8 16 16]", output.Shape())
	}
	if !hiddens.Shape().Equal(tensor.Shape{2, 8, 16}) {
		t.Errorf("hiddens shape = %v, expected [2 8 16]", hiddens.Shape())
	}
	if !cells.Shape().Equal(tensor.Shape{2, 8, 16}) {
		t.Errorf("cells shape = %v, expected [2 8 16]", cells.Shape())
	}
	if outMask != mask {
		t.Error("mask should pass through unchanged")
	}
}

func TestLSTMEncoderOutputBounded(t *testing.T) {
	nn.Seed(6)
	b := cpu.New()
	enc := NewLSTMEncoder[*cpu.Backend](100, 8, 4, 1, b)

	tokens := tokenBatch(t, 2, 5, 100, b)
	output, _, _, _ := enc.Forward(tokens, nil)

	// h = o * tanh(c) with o in (0, 1) stays inside (-1, 1)
	for i, v := range output.Data() {
		if v <= -1 || v >= 1 {
			t.Fatalf("output[%d] = %v, expected inside (-1, 1)", i, v)
		}
	}
}

func TestLSTMEncoderLastStepMatchesFinalHidden(t *testing.T) {
	nn.Seed(7)
	b := cpu.New()
	enc := NewLSTMEncoder[*cpu.Backend](50, 8, 4, 2, b)

	tokens := tokenBatch(t, 3, 6, 50, b)
	output, hiddens, _, _ := enc.Forward(tokens, nil)

	for batch := 0; batch < 3; batch++ {
		for d := 0; d < 4; d++ {
			got := output.At(batch, 5, d)
			want := hiddens.At(1, batch, d)
			if got != want {
				t.Fatalf("output[%d,5,%d] = %v, final hidden = %v", batch, d, got, want)
			}
		}
	}
}

func TestLSTMEncoderRejectsBadRank(t *testing.T) {
	b := cpu.New()
	enc := NewLSTMEncoder[*cpu.Backend](10, 4, 4, 1, b)
	tokens, err := tensor.FromSlice([]int32{1, 2, 3}, tensor.Shape{3}, b)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected 1-D src_tokens to panic")
		}
	}()
	enc.Forward(tokens, nil)
}

func TestGRUEncoderShapes(t *testing.T) {
	nn.Seed(8)
	b := cpu.New()
	enc := NewGRUEncoder[*cpu.Backend](1000, 32, 16, 2, b)

	tokens := tokenBatch(t, 8, 16, 1000, b)
	mask := tensor.Ones[int32](tensor.Shape{8, 16}, b)

	output, hiddens, outMask := enc.Forward(tokens, mask)

	if !output.Shape().Equal(tensor.Shape{8, 16, 16}) {
		t.Errorf("output shape = %v, expected [8 16 16]", output.Shape())
	}
	if !hiddens.Shape().Equal(tensor.Shape{2, 8, 16}) {
		t.Errorf("hiddens shape = %v, expected [2 8 16]", hiddens.Shape())
	}
	if outMask != mask {
		t.Error("mask should pass through unchanged")
	}
}

func TestGRUEncoderOutputBounded(t *testing.T) {
	nn.Seed(9)
	b := cpu.New()
	enc := NewGRUEncoder[*cpu.Backend](100, 8, 4, 1, b)

	tokens := tokenBatch(t, 2, 5, 100, b)
	output, _, _ := enc.Forward(tokens, nil)

	// a convex mix of a tanh candidate and a bounded state stays in (-1, 1)
	for i, v := range output.Data() {
		if v <= -1 || v >= 1 {
			t.Fatalf("output[%d] = %v, expected inside (-1, 1)", i, v)
		}
	}
}

func TestGRUEncoderRejectsBadRank(t *testing.T) {
	b := cpu.New()
	enc := NewGRUEncoder[*cpu.Backend](10, 4, 4, 1, b)
	tokens, err := tensor.FromSlice([]int32{1, 2, 3}, tensor.Shape{3}, b)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected 1-D src_tokens to panic")
		}
	}()
	enc.Forward(tokens, nil)
}

func TestCNNEncoderShapes(t *testing.T) {
	nn.Seed(4)
	b := cpu.New()
	enc := NewCNNEncoder[*cpu.Backend](1000, 32, 128, []int{2, 3, 4, 5}, 16, b)

	tokens := tokenBatch(t, 8, 16, 1000, b)
	result := enc.Forward(tokens)

	if !result.Shape().Equal(tensor.Shape{8, 16}) {
		t.Errorf("result shape = %v, expected [8 16]", result.Shape())
	}
}

func TestCNNEncoderRejectsEmptyNgrams(t *testing.T) {
	b := cpu.New()
	defer func() {
		if recover() == nil {
			t.Error("expected empty ngram list to panic")
		}
	}()
	NewCNNEncoder[*cpu.Backend](10, 4, 8, nil, 4, b)
}
