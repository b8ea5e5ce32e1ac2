package oneformer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

func TestMaskCostsHandValues(t *testing.T) {
	// zero logits: sigmoid 0.5 everywhere, bce = ln(2) regardless of target
	bce, dice := maskCosts([]float32{0, 0}, []float32{1, 0})
	assert.InDelta(t, math.Ln2, bce, 1e-9)
	// dice = 1 - (2*0.5+1)/(1+1+1) = 1/3
	assert.InDelta(t, 1.0/3.0, dice, 1e-9)
}

func TestMaskCostsConfidentPrediction(t *testing.T) {
	bce, dice := maskCosts([]float32{20, -20, 20, -20}, []float32{1, 0, 1, 0})
	assert.Less(t, bce, 1e-6)
	assert.Less(t, dice, 1e-3)
}

func TestMaskCostsWrongPrediction(t *testing.T) {
	bce, dice := maskCosts([]float32{-20, 20}, []float32{1, 0})
	assert.Greater(t, bce, 10.0)
	assert.Greater(t, dice, 0.9)
}

func TestSoftmaxRows(t *testing.T) {
	out := softmaxRows([]float32{0, 0, 1, 1}, 2, 2)
	assert.InDelta(t, 0.5, out[0], 1e-9)
	assert.InDelta(t, 0.5, out[1], 1e-9)
	assert.InDelta(t, 0.5, out[2], 1e-9)
	assert.InDelta(t, 0.5, out[3], 1e-9)
}

func TestNormalizedRows(t *testing.T) {
	out := normalizedRows([]float32{3, 4}, 1, 2)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
}

// lossFixture builds a 1-image problem with two targets at prediction
// resolution so upsampling is the identity.
func lossFixture(t *testing.T, b *cpu.Backend, correct bool) (
	*tensor.Tensor[float32, *cpu.Backend],
	*tensor.Tensor[float32, *cpu.Backend],
	*tensor.Tensor[float32, *cpu.Backend],
	*tensor.Tensor[int32, *cpu.Backend],
) {
	t.Helper()
	const (
		queries = 2
		classes = 3 // two labels + no-object
		side    = 4
	)
	pixels := side * side

	sign := float32(20)
	if !correct {
		sign = -20
	}

	classData := make([]float32, queries*classes)
	classData[0*classes+0] = sign // query 0 -> class 0
	classData[1*classes+1] = sign // query 1 -> class 1
	classLogits, err := tensor.FromSlice(classData, tensor.Shape{1, queries, classes}, b)
	require.NoError(t, err)

	// target 0 owns the top half, target 1 the bottom half
	maskData := make([]float32, queries*pixels)
	labelData := make([]float32, 2*pixels)
	for p := 0; p < pixels; p++ {
		top := p < pixels/2
		if top {
			labelData[p] = 1
		} else {
			labelData[pixels+p] = 1
		}
		if top {
			maskData[p] = sign
			maskData[pixels+p] = -sign
		} else {
			maskData[p] = -sign
			maskData[pixels+p] = sign
		}
	}
	maskLogits, err := tensor.FromSlice(maskData, tensor.Shape{1, queries, side, side}, b)
	require.NoError(t, err)
	maskLabels, err := tensor.FromSlice(labelData, tensor.Shape{1, 2, side, side}, b)
	require.NoError(t, err)

	classLabels, err := tensor.FromSlice([]int32{0, 1}, tensor.Shape{1, 2}, b)
	require.NoError(t, err)

	return classLogits, maskLogits, maskLabels, classLabels
}

func TestComputeNearPerfectPrediction(t *testing.T) {
	b := cpu.New()
	crit := newSegmentationLoss[*cpu.Backend](testerConfig())

	classLogits, maskLogits, maskLabels, classLabels := lossFixture(t, b, true)
	loss := crit.Compute(classLogits, maskLogits, nil, nil, maskLabels, classLabels)

	assert.Less(t, loss, float32(0.01))
}

func TestComputePenalizesWrongPrediction(t *testing.T) {
	b := cpu.New()
	crit := newSegmentationLoss[*cpu.Backend](testerConfig())

	classLogits, maskLogits, maskLabels, classLabels := lossFixture(t, b, true)
	good := crit.Compute(classLogits, maskLogits, nil, nil, maskLabels, classLabels)

	classLogits, maskLogits, maskLabels, classLabels = lossFixture(t, b, false)
	bad := crit.Compute(classLogits, maskLogits, nil, nil, maskLabels, classLabels)

	assert.Greater(t, bad, good*100)
}

func TestContrastiveAlignedQueries(t *testing.T) {
	b := cpu.New()
	crit := newSegmentationLoss[*cpu.Backend](testerConfig())

	// orthogonal unit rows aligned with themselves: the diagonal dominates
	data := []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
	queries, err := tensor.FromSlice(data, tensor.Shape{1, 3, 4}, b)
	require.NoError(t, err)
	texts, err := tensor.FromSlice(data, tensor.Shape{1, 3, 4}, b)
	require.NoError(t, err)

	loss := crit.contrastive(queries, texts, 0)
	assert.Less(t, loss, 0.01)
}

func TestContrastiveMisalignedQueries(t *testing.T) {
	b := cpu.New()
	crit := newSegmentationLoss[*cpu.Backend](testerConfig())

	queries, err := tensor.FromSlice([]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
	}, tensor.Shape{1, 2, 4}, b)
	require.NoError(t, err)
	// rows swapped: the match for each query sits off the diagonal
	texts, err := tensor.FromSlice([]float32{
		0, 1, 0, 0,
		1, 0, 0, 0,
	}, tensor.Shape{1, 2, 4}, b)
	require.NoError(t, err)

	aligned := crit.contrastive(queries, queries, 0)
	swapped := crit.contrastive(queries, texts, 0)
	assert.Greater(t, swapped, aligned)
}

func TestComputeRejectsMismatchedLabels(t *testing.T) {
	b := cpu.New()
	crit := newSegmentationLoss[*cpu.Backend](testerConfig())

	classLogits, maskLogits, _, classLabels := lossFixture(t, b, true)
	badMasks, err := tensor.FromSlice(make([]float32, 3*16), tensor.Shape{1, 3, 4, 4}, b)
	require.NoError(t, err)

	defer func() {
		if recover() == nil {
			t.Error("expected mismatched target counts to panic")
		}
	}()
	crit.Compute(classLogits, maskLogits, nil, nil, badMasks, classLabels)
}
