package oneformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

func TestTextEncoderOutputShape(t *testing.T) {
	nn.Seed(31)
	b := cpu.New()
	cfg := testerConfig()
	enc := NewTextEncoder[*cpu.Backend](cfg, b)

	// num_texts prompts per image plus n_ctx learned queries = num_queries
	texts := tensor.RandInt(0, 99,
		tensor.Shape{testBatch, cfg.NumTexts(), testSeqLen}, b)
	out := enc.Forward(texts)

	assert.True(t, out.Shape().Equal(tensor.Shape{testBatch, testQueries, testHidden}),
		"text queries shape = %v", out.Shape())
}

func TestTextEncoderContextQueriesShared(t *testing.T) {
	nn.Seed(32)
	b := cpu.New()
	cfg := testerConfig()
	enc := NewTextEncoder[*cpu.Backend](cfg, b)

	texts := tensor.RandInt(0, 99, tensor.Shape{2, cfg.NumTexts(), 10}, b)
	out := enc.Forward(texts)

	// the trailing n_ctx queries are learned, identical for every image
	numTexts := cfg.NumTexts()
	for q := numTexts; q < testQueries; q++ {
		for d := 0; d < testHidden; d++ {
			require.Equal(t, out.At(0, q, d), out.At(1, q, d),
				"context query %d differs across the batch", q)
		}
	}
}

func TestTextEncoderRejectsBadRank(t *testing.T) {
	b := cpu.New()
	enc := NewTextEncoder[*cpu.Backend](testerConfig(), b)

	defer func() {
		if recover() == nil {
			t.Error("expected 2-D text_inputs to panic")
		}
	}()
	enc.Forward(tensor.RandInt(0, 99, tensor.Shape{2, testSeqLen}, b))
}

func TestTextEncoderRejectsLongSequence(t *testing.T) {
	b := cpu.New()
	enc := NewTextEncoder[*cpu.Backend](testerConfig(), b)

	defer func() {
		if recover() == nil {
			t.Error("expected over-length sequence to panic")
		}
	}()
	enc.Forward(tensor.RandInt(0, 99, tensor.Shape{1, 2, testSeqLen + 1}, b))
}

func TestHeadsFor(t *testing.T) {
	assert.Equal(t, 8, headsFor(64))
	assert.Equal(t, 4, headsFor(36))
	assert.Equal(t, 2, headsFor(6))
	assert.Equal(t, 1, headsFor(7))
}
