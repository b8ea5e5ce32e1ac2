package oneformer

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// ModelOutput is the result of OneFormerModel.Forward.
type ModelOutput[B tensor.Backend] struct {
	// TransformerDecoderObjectQueries is [batch, num_queries, hidden_dim].
	TransformerDecoderObjectQueries *tensor.Tensor[float32, B]

	// EncoderHiddenStates holds one backbone feature map per stage.
	EncoderHiddenStates []*tensor.Tensor[float32, B]

	// PixelDecoderHiddenStates holds the stride-32 feature map after
	// every pixel-decoder encoder layer.
	PixelDecoderHiddenStates []*tensor.Tensor[float32, B]

	// TransformerDecoderHiddenStates holds the queries after every
	// decoder layer.
	TransformerDecoderHiddenStates []*tensor.Tensor[float32, B]

	// Attentions interleaves cross- and self-attention weights per
	// decoder layer. Populated only when attentions are requested.
	Attentions []*tensor.Tensor[float32, B]

	// MaskFeatures is [batch, mask_dim, H/4, W/4].
	MaskFeatures *tensor.Tensor[float32, B]
}

// ForwardOptions selects optional outputs and inputs common to both
// model variants.
type ForwardOptions[B tensor.Backend] struct {
	// PixelMask marks valid pixels, [batch, H, W]; nil means all valid.
	PixelMask *tensor.Tensor[float32, B]

	OutputAttentions bool
}

// OneFormerModel is the base model: backbone, pixel decoder and
// task-conditioned transformer decoder, without prediction heads.
type OneFormerModel[B tensor.Backend] struct {
	Config *Config

	backbone     *Backbone[B]
	pixelDecoder *PixelDecoder[B]
	decoder      *TransformerDecoder[B]

	backend B
}

// NewOneFormerModel builds the model from a validated configuration.
func NewOneFormerModel[B tensor.Backend](cfg *Config, backend B) (*OneFormerModel[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OneFormerModel[B]{
		Config:       cfg,
		backbone:     NewBackbone[B](cfg.Backbone, cfg.LayerNormEps, backend),
		pixelDecoder: NewPixelDecoder[B](cfg, backend),
		decoder:      NewTransformerDecoder[B](cfg, backend),
		backend:      backend,
	}, nil
}

// Forward runs the model on pixelValues [batch, channels, H, W] and
// tokenized taskInputs [batch, task_seq_len].
func (m *OneFormerModel[B]) Forward(
	pixelValues *tensor.Tensor[float32, B],
	taskInputs *tensor.Tensor[int32, B],
	opts ForwardOptions[B],
) *ModelOutput[B] {
	m.validateInputs(pixelValues, taskInputs, opts.PixelMask)

	features := m.backbone.Forward(pixelValues)
	pix := m.pixelDecoder.Forward(features)
	dec := m.decoder.Forward(taskInputs, pix.memory, opts.OutputAttentions)

	return &ModelOutput[B]{
		TransformerDecoderObjectQueries: dec.objectQueries,
		EncoderHiddenStates:             features,
		PixelDecoderHiddenStates:        pix.hiddenStates,
		TransformerDecoderHiddenStates:  dec.hiddenStates,
		MaskFeatures:                    pix.maskFeatures,
		Attentions:                      dec.attentions,
	}
}

func (m *OneFormerModel[B]) validateInputs(
	pixelValues *tensor.Tensor[float32, B],
	taskInputs *tensor.Tensor[int32, B],
	pixelMask *tensor.Tensor[float32, B],
) {
	ps := pixelValues.Shape()
	if len(ps) != 4 {
		panic(fmt.Sprintf("oneformer: pixel_values must be [batch, channels, h, w], got %v", ps))
	}
	if ps[1] != m.Config.Backbone.NumChannels {
		panic(fmt.Sprintf("oneformer: expected %d channels, got %d", m.Config.Backbone.NumChannels, ps[1]))
	}
	if ps[2]%32 != 0 || ps[3]%32 != 0 {
		panic(fmt.Sprintf("oneformer: spatial size %dx%d must be divisible by 32", ps[2], ps[3]))
	}
	ts := taskInputs.Shape()
	if len(ts) != 2 || ts[0] != ps[0] || ts[1] != m.Config.TaskSeqLen {
		panic(fmt.Sprintf("oneformer: task_inputs must be [%d, %d], got %v", ps[0], m.Config.TaskSeqLen, ts))
	}
	if pixelMask != nil {
		ms := pixelMask.Shape()
		if len(ms) != 3 || ms[0] != ps[0] || ms[1] != ps[2] || ms[2] != ps[3] {
			panic(fmt.Sprintf("oneformer: pixel_mask must be [%d, %d, %d], got %v", ps[0], ps[2], ps[3], ms))
		}
	}
}

// Parameters returns every trainable parameter of the model.
func (m *OneFormerModel[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, m.backbone.Parameters()...)
	params = append(params, m.pixelDecoder.Parameters()...)
	params = append(params, m.decoder.Parameters()...)
	return params
}

func (m *OneFormerModel[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "backbone", m.backbone.StateDict())
	nn.PrefixStateDict(sd, "pixel_decoder", m.pixelDecoder.StateDict())
	nn.PrefixStateDict(sd, "decoder", m.decoder.StateDict())
	return sd
}

func (m *OneFormerModel[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := m.backbone.LoadStateDict(nn.SubStateDict(sd, "backbone")); err != nil {
		return fmt.Errorf("backbone: %w", err)
	}
	if err := m.pixelDecoder.LoadStateDict(nn.SubStateDict(sd, "pixel_decoder")); err != nil {
		return fmt.Errorf("pixel_decoder: %w", err)
	}
	if err := m.decoder.LoadStateDict(nn.SubStateDict(sd, "decoder")); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}

// UniversalSegmentationOutput extends ModelOutput with the prediction
// heads and, when labels are supplied, the training loss.
type UniversalSegmentationOutput[B tensor.Backend] struct {
	ModelOutput[B]

	// ClassQueriesLogits is [batch, num_queries, num_labels+1]; the
	// trailing class is "no object".
	ClassQueriesLogits *tensor.Tensor[float32, B]

	// MasksQueriesLogits is [batch, num_queries, H/4, W/4].
	MasksQueriesLogits *tensor.Tensor[float32, B]

	// Loss has shape [1]; nil unless labels were given in training mode.
	Loss *tensor.Tensor[float32, B]
}

// SegmentationLabels carries the optional training inputs of
// OneFormerForUniversalSegmentation.Forward.
type SegmentationLabels[B tensor.Backend] struct {
	// TextInputs is [batch, num_queries-n_ctx, task_seq_len].
	TextInputs *tensor.Tensor[int32, B]
	// MaskLabels is [batch, num_targets, H, W] with 0/1 entries.
	MaskLabels *tensor.Tensor[float32, B]
	// ClassLabels is [batch, num_targets].
	ClassLabels *tensor.Tensor[int32, B]
}

// OneFormerForUniversalSegmentation adds class and mask prediction
// heads and the Hungarian-matched training loss on top of the base
// model.
type OneFormerForUniversalSegmentation[B tensor.Backend] struct {
	Model *OneFormerModel[B]

	classHead *nn.Linear[B]
	maskHead  *maskEmbedder[B]
	textEnc   *TextEncoder[B]
	criterion *segmentationLoss[B]

	backend B
}

// maskEmbedder maps object queries into mask-feature space.
type maskEmbedder[B tensor.Backend] struct {
	fc1 *nn.Linear[B]
	fc2 *nn.Linear[B]
	fc3 *nn.Linear[B]
}

func newMaskEmbedder[B tensor.Backend](hiddenDim, maskDim int, backend B) *maskEmbedder[B] {
	return &maskEmbedder[B]{
		fc1: nn.NewLinear[B](hiddenDim, hiddenDim, backend),
		fc2: nn.NewLinear[B](hiddenDim, hiddenDim, backend),
		fc3: nn.NewLinear[B](hiddenDim, maskDim, backend),
	}
}

func (e *maskEmbedder[B]) Forward(queries *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	relu := nn.NewReLU[B]()
	h := relu.Forward(e.fc1.Forward(queries))
	h = relu.Forward(e.fc2.Forward(h))
	return e.fc3.Forward(h)
}

func (e *maskEmbedder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "fc1", e.fc1.StateDict())
	nn.PrefixStateDict(sd, "fc2", e.fc2.StateDict())
	nn.PrefixStateDict(sd, "fc3", e.fc3.StateDict())
	return sd
}

func (e *maskEmbedder[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := e.fc1.LoadStateDict(nn.SubStateDict(sd, "fc1")); err != nil {
		return err
	}
	if err := e.fc2.LoadStateDict(nn.SubStateDict(sd, "fc2")); err != nil {
		return err
	}
	return e.fc3.LoadStateDict(nn.SubStateDict(sd, "fc3"))
}

func NewOneFormerForUniversalSegmentation[B tensor.Backend](cfg *Config, backend B) (*OneFormerForUniversalSegmentation[B], error) {
	model, err := NewOneFormerModel[B](cfg, backend)
	if err != nil {
		return nil, err
	}
	return &OneFormerForUniversalSegmentation[B]{
		Model:     model,
		classHead: nn.NewLinear[B](cfg.HiddenDim, cfg.NumLabels+1, backend),
		maskHead:  newMaskEmbedder[B](cfg.HiddenDim, cfg.MaskDim, backend),
		textEnc:   NewTextEncoder[B](cfg, backend),
		criterion: newSegmentationLoss[B](cfg),
		backend:   backend,
	}, nil
}

// Forward runs the segmentation model. Labels may be zero-valued; the
// loss is computed only in training mode with mask and class labels
// present.
func (m *OneFormerForUniversalSegmentation[B]) Forward(
	pixelValues *tensor.Tensor[float32, B],
	taskInputs *tensor.Tensor[int32, B],
	opts ForwardOptions[B],
	labels SegmentationLabels[B],
) *UniversalSegmentationOutput[B] {
	base := m.Model.Forward(pixelValues, taskInputs, opts)

	queries := base.TransformerDecoderObjectQueries
	classLogits := m.classHead.Forward(queries)

	// masks: [B,Q,mask_dim] x [B,mask_dim,H/4*W/4] -> [B,Q,H/4,W/4]
	maskEmbed := m.maskHead.Forward(queries)
	mf := base.MaskFeatures
	batch, maskDim := mf.Shape()[0], mf.Shape()[1]
	h4, w4 := mf.Shape()[2], mf.Shape()[3]
	flat := mf.Reshape(batch, maskDim, h4*w4)
	maskLogits := maskEmbed.BatchMatMul(flat).
		Reshape(batch, queries.Shape()[1], h4, w4)

	out := &UniversalSegmentationOutput[B]{
		ModelOutput:        *base,
		ClassQueriesLogits: classLogits,
		MasksQueriesLogits: maskLogits,
	}

	if m.Model.Config.IsTraining && labels.MaskLabels != nil && labels.ClassLabels != nil {
		var textQueries *tensor.Tensor[float32, B]
		if labels.TextInputs != nil {
			textQueries = m.textEnc.Forward(labels.TextInputs)
		}
		loss := m.criterion.Compute(classLogits, maskLogits, queries, textQueries,
			labels.MaskLabels, labels.ClassLabels)
		lt, err := tensor.FromSlice([]float32{loss}, tensor.Shape{1}, m.backend)
		if err != nil {
			panic(err)
		}
		out.Loss = lt
	}
	return out
}

func (m *OneFormerForUniversalSegmentation[B]) Parameters() []*nn.Parameter[B] {
	params := m.Model.Parameters()
	params = append(params, m.classHead.Parameters()...)
	params = append(params, m.maskHead.fc1.Parameters()...)
	params = append(params, m.maskHead.fc2.Parameters()...)
	params = append(params, m.maskHead.fc3.Parameters()...)
	params = append(params, m.textEnc.Parameters()...)
	return params
}

func (m *OneFormerForUniversalSegmentation[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "model", m.Model.StateDict())
	nn.PrefixStateDict(sd, "class_head", m.classHead.StateDict())
	nn.PrefixStateDict(sd, "mask_head", m.maskHead.StateDict())
	nn.PrefixStateDict(sd, "text_encoder", m.textEnc.StateDict())
	return sd
}

func (m *OneFormerForUniversalSegmentation[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := m.Model.LoadStateDict(nn.SubStateDict(sd, "model")); err != nil {
		return err
	}
	if err := m.classHead.LoadStateDict(nn.SubStateDict(sd, "class_head")); err != nil {
		return fmt.Errorf("class_head: %w", err)
	}
	if err := m.maskHead.LoadStateDict(nn.SubStateDict(sd, "mask_head")); err != nil {
		return fmt.Errorf("mask_head: %w", err)
	}
	if err := m.textEnc.LoadStateDict(nn.SubStateDict(sd, "text_encoder")); err != nil {
		return fmt.Errorf("text_encoder: %w", err)
	}
	return nil
}
