package oneformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniseg-ml/uniseg/internal/backend/cpu"
	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

const (
	testBatch     = 2
	testQueries   = 10
	testLabels    = 4
	testHidden    = 64
	testImageSize = 256
	testSeqLen    = 77
	testNCtx      = 4
)

// testerConfig shrinks every dimension so forward passes stay cheap.
func testerConfig() *Config {
	cfg := NewConfig()
	cfg.Backbone = &BackboneConfig{
		NumChannels: 3,
		EmbedDim:    16,
		Depths:      []int{1, 1, 1, 1},
	}
	cfg.TextEncoder = &TextEncoderConfig{
		VocabSize:     99,
		Width:         64,
		ContextLength: testSeqLen,
		NumLayers:     2,
		ProjLayers:    2,
		NCtx:          testNCtx,
	}
	cfg.NumQueries = testQueries
	cfg.NumLabels = testLabels
	cfg.HiddenDim = testHidden
	cfg.ConvDim = testHidden
	cfg.MaskDim = testHidden
	cfg.EncoderLayers = 2
	cfg.EncoderFeedforwardDim = 32
	cfg.DecoderLayers = 2
	cfg.DimFeedforward = 64
	cfg.NumAttentionHeads = 8
	cfg.TaskSeqLen = testSeqLen
	return cfg
}

func testerInputs(t *testing.T, b *cpu.Backend) (*tensor.Tensor[float32, *cpu.Backend], *tensor.Tensor[int32, *cpu.Backend]) {
	t.Helper()
	pixelValues := tensor.Randn[float32](
		tensor.Shape{testBatch, 3, testImageSize, testImageSize}, b)
	taskInputs := tensor.RandInt(0, 99, tensor.Shape{testBatch, testSeqLen}, b)
	return pixelValues, taskInputs
}

// testerLabels builds numTargets binary masks and class ids per image,
// plus per-class text prompts.
func testerLabels(t *testing.T, numTargets int, b *cpu.Backend) SegmentationLabels[*cpu.Backend] {
	t.Helper()
	maskData := make([]float32, testBatch*numTargets*testImageSize*testImageSize)
	for i := range maskData {
		if i%3 == 0 {
			maskData[i] = 1
		}
	}
	maskLabels, err := tensor.FromSlice(maskData,
		tensor.Shape{testBatch, numTargets, testImageSize, testImageSize}, b)
	require.NoError(t, err)

	classData := make([]int32, testBatch*numTargets)
	for i := range classData {
		classData[i] = int32(i) % testLabels
	}
	classLabels, err := tensor.FromSlice(classData, tensor.Shape{testBatch, numTargets}, b)
	require.NoError(t, err)

	return SegmentationLabels[*cpu.Backend]{
		TextInputs:  tensor.RandInt(0, 99, tensor.Shape{testBatch, testQueries - testNCtx, testSeqLen}, b),
		MaskLabels:  maskLabels,
		ClassLabels: classLabels,
	}
}

func TestOneFormerModelForward(t *testing.T) {
	nn.Seed(7)
	b := cpu.New()
	model, err := NewOneFormerModel[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{})

	assert.True(t, out.TransformerDecoderObjectQueries.Shape().Equal(
		tensor.Shape{testBatch, testQueries, testHidden}),
		"object queries shape = %v", out.TransformerDecoderObjectQueries.Shape())

	require.Len(t, out.EncoderHiddenStates, 4)
	// stage i runs at stride 4 << i with width embed_dim << i
	for i, fm := range out.EncoderHiddenStates {
		stride := 4 << i
		want := tensor.Shape{testBatch, 16 << i, testImageSize / stride, testImageSize / stride}
		assert.True(t, fm.Shape().Equal(want),
			"stage %d shape = %v, expected %v", i, fm.Shape(), want)
	}

	// hidden states are part of every forward, not an opt-in
	require.Len(t, out.PixelDecoderHiddenStates, 2)
	require.NotNil(t, out.TransformerDecoderHiddenStates)
	require.Len(t, out.TransformerDecoderHiddenStates, 2)
	for i, hs := range out.TransformerDecoderHiddenStates {
		assert.True(t, hs.Shape().Equal(tensor.Shape{testBatch, testQueries, testHidden}),
			"decoder hidden state %d shape = %v", i, hs.Shape())
	}

	assert.True(t, out.MaskFeatures.Shape().Equal(
		tensor.Shape{testBatch, testHidden, testImageSize / 4, testImageSize / 4}),
		"mask features shape = %v", out.MaskFeatures.Shape())
}

func TestOneFormerModelAttentions(t *testing.T) {
	nn.Seed(8)
	b := cpu.New()
	model, err := NewOneFormerModel[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{
		OutputAttentions: true,
	})

	// two weight maps (cross, self) per decoder layer
	require.Len(t, out.Attentions, 4)
	memoryLen := (testImageSize / 32) * (testImageSize / 32)
	cross := out.Attentions[0]
	assert.True(t, cross.Shape().Equal(tensor.Shape{testBatch, 8, testQueries, memoryLen}),
		"cross attention shape = %v", cross.Shape())
	self := out.Attentions[1]
	assert.True(t, self.Shape().Equal(tensor.Shape{testBatch, 8, testQueries, testQueries}),
		"self attention shape = %v", self.Shape())
}

func TestUniversalSegmentationForward(t *testing.T) {
	nn.Seed(9)
	b := cpu.New()
	model, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{}, SegmentationLabels[*cpu.Backend]{})

	assert.True(t, out.MasksQueriesLogits.Shape().Equal(
		tensor.Shape{testBatch, testQueries, testImageSize / 4, testImageSize / 4}),
		"masks shape = %v", out.MasksQueriesLogits.Shape())
	assert.True(t, out.ClassQueriesLogits.Shape().Equal(
		tensor.Shape{testBatch, testQueries, testLabels + 1}),
		"classes shape = %v", out.ClassQueriesLogits.Shape())
	require.NotNil(t, out.TransformerDecoderHiddenStates,
		"a plain forward must carry decoder hidden states")
	assert.Len(t, out.TransformerDecoderHiddenStates, 2)
	assert.Nil(t, out.Loss, "loss should be nil without labels")
}

func TestUniversalSegmentationWithLabels(t *testing.T) {
	nn.Seed(10)
	b := cpu.New()
	cfg := testerConfig()
	cfg.IsTraining = true
	model, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](cfg, b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{},
		testerLabels(t, testLabels, b))

	require.NotNil(t, out.Loss)
	assert.True(t, out.Loss.Shape().Equal(tensor.Shape{1}), "loss shape = %v", out.Loss.Shape())
	loss := out.Loss.Item()
	assert.False(t, loss != loss, "loss is NaN")
	assert.Greater(t, loss, float32(0))
}

func TestUniversalSegmentationMoreTargetsThanQueries(t *testing.T) {
	nn.Seed(11)
	b := cpu.New()
	cfg := testerConfig()
	cfg.IsTraining = true
	model, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](cfg, b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	// 150 targets against 10 queries exercises rectangular matching
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{},
		testerLabels(t, 150, b))

	require.NotNil(t, out.Loss)
	loss := out.Loss.Item()
	assert.False(t, loss != loss, "loss is NaN")
}

func TestUniversalSegmentationNoLossOutsideTraining(t *testing.T) {
	nn.Seed(12)
	b := cpu.New()
	model, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	pixelValues, taskInputs := testerInputs(t, b)
	out := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{},
		testerLabels(t, testLabels, b))

	assert.Nil(t, out.Loss)
}

func TestOneFormerRejectsBadInputs(t *testing.T) {
	b := cpu.New()
	model, err := NewOneFormerModel[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	taskInputs := tensor.RandInt(0, 99, tensor.Shape{1, testSeqLen}, b)

	t.Run("indivisible spatial size", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected 50x50 input to panic")
			}
		}()
		model.Forward(tensor.Randn[float32](tensor.Shape{1, 3, 50, 50}, b), taskInputs,
			ForwardOptions[*cpu.Backend]{})
	})

	t.Run("wrong channel count", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected 1-channel input to panic")
			}
		}()
		model.Forward(tensor.Randn[float32](tensor.Shape{1, 1, 32, 32}, b), taskInputs,
			ForwardOptions[*cpu.Backend]{})
	})

	t.Run("wrong task length", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected short task_inputs to panic")
			}
		}()
		short := tensor.RandInt(0, 99, tensor.Shape{1, 5}, b)
		model.Forward(tensor.Randn[float32](tensor.Shape{1, 3, 32, 32}, b), short,
			ForwardOptions[*cpu.Backend]{})
	})
}

func TestStateDictRoundTrip(t *testing.T) {
	nn.Seed(13)
	b := cpu.New()
	model, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	sd := model.StateDict()
	require.NotEmpty(t, sd)

	other, err := NewOneFormerForUniversalSegmentation[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)
	require.NoError(t, other.LoadStateDict(sd))

	pixelValues, taskInputs := testerInputs(t, b)
	a := model.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{}, SegmentationLabels[*cpu.Backend]{})
	c := other.Forward(pixelValues, taskInputs, ForwardOptions[*cpu.Backend]{}, SegmentationLabels[*cpu.Backend]{})

	assert.Equal(t, a.ClassQueriesLogits.Data(), c.ClassQueriesLogits.Data())
}

func TestLoadStateDictRejectsMissingKeys(t *testing.T) {
	b := cpu.New()
	model, err := NewOneFormerModel[*cpu.Backend](testerConfig(), b)
	require.NoError(t, err)

	assert.Error(t, model.LoadStateDict(map[string]*tensor.RawTensor{}))
}

func TestTrainingIsNotSupported(t *testing.T) {
	t.Skip("backpropagation is out of scope for the CPU inference backend")
}

func TestTorchscriptExportIsNotSupported(t *testing.T) {
	t.Skip("graph export has no equivalent for this runtime")
}
