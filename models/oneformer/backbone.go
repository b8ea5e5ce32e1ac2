package oneformer

import (
	"strconv"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// channelsLastNorm applies LayerNorm over the channel axis of a
// [batch, channels, h, w] feature map.
func channelsLastNorm[B tensor.Backend](norm *nn.LayerNorm[B], x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	normed := norm.Forward(x.Transpose(0, 2, 3, 1))
	return normed.Transpose(0, 3, 1, 2)
}

// backboneBlock is one residual block of a backbone stage: a 3x3
// convolution, channel LayerNorm and a pointwise inverted MLP.
type backboneBlock[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	norm *nn.LayerNorm[B]
	mlp  *nn.FeedForward[B]
}

func newBackboneBlock[B tensor.Backend](dim int, eps float32, backend B) *backboneBlock[B] {
	return &backboneBlock[B]{
		conv: nn.NewConv2D[B](dim, dim, 3, 3, 1, 1, true, backend),
		norm: nn.NewLayerNorm(dim, eps, backend),
		mlp:  nn.NewFeedForward[B](dim, 4*dim, backend),
	}
}

func (b *backboneBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	h := channelsLastNorm(b.norm, b.conv.Forward(x))
	// pointwise MLP runs channels-last
	h = b.mlp.Forward(h.Transpose(0, 2, 3, 1)).Transpose(0, 3, 1, 2)
	return x.Add(h)
}

func (b *backboneBlock[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "conv", b.conv.StateDict())
	nn.PrefixStateDict(sd, "norm", b.norm.StateDict())
	nn.PrefixStateDict(sd, "mlp", b.mlp.StateDict())
	return sd
}

func (b *backboneBlock[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := b.conv.LoadStateDict(nn.SubStateDict(sd, "conv")); err != nil {
		return err
	}
	if err := b.norm.LoadStateDict(nn.SubStateDict(sd, "norm")); err != nil {
		return err
	}
	return b.mlp.LoadStateDict(nn.SubStateDict(sd, "mlp"))
}

// backboneStage is a downsampling layer followed by residual blocks.
type backboneStage[B tensor.Backend] struct {
	downsample *nn.Conv2D[B]
	norm       *nn.LayerNorm[B]
	blocks     []*backboneBlock[B]
}

// Backbone is a four-stage convolutional feature extractor producing
// maps at strides 4, 8, 16 and 32.
type Backbone[B tensor.Backend] struct {
	stages []*backboneStage[B]
	widths []int
}

func NewBackbone[B tensor.Backend](cfg *BackboneConfig, eps float32, backend B) *Backbone[B] {
	widths := cfg.StageWidths()
	stages := make([]*backboneStage[B], len(cfg.Depths))
	inChannels := cfg.NumChannels
	for i, depth := range cfg.Depths {
		var down *nn.Conv2D[B]
		if i == 0 {
			// stem: non-overlapping 4x4 patches
			down = nn.NewConv2D[B](inChannels, widths[i], 4, 4, 4, 0, true, backend)
		} else {
			down = nn.NewConv2D[B](inChannels, widths[i], 2, 2, 2, 0, true, backend)
		}
		blocks := make([]*backboneBlock[B], depth)
		for j := range blocks {
			blocks[j] = newBackboneBlock[B](widths[i], eps, backend)
		}
		stages[i] = &backboneStage[B]{
			downsample: down,
			norm:       nn.NewLayerNorm(widths[i], eps, backend),
			blocks:     blocks,
		}
		inChannels = widths[i]
	}
	return &Backbone[B]{stages: stages, widths: widths}
}

// StageWidths returns the channel width of each output feature map.
func (b *Backbone[B]) StageWidths() []int { return b.widths }

// Forward returns one feature map per stage, shallow to deep.
func (b *Backbone[B]) Forward(pixelValues *tensor.Tensor[float32, B]) []*tensor.Tensor[float32, B] {
	features := make([]*tensor.Tensor[float32, B], 0, len(b.stages))
	x := pixelValues
	for _, stage := range b.stages {
		x = channelsLastNorm(stage.norm, stage.downsample.Forward(x))
		for _, block := range stage.blocks {
			x = block.Forward(x)
		}
		features = append(features, x)
	}
	return features
}

func (b *Backbone[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, stage := range b.stages {
		params = append(params, stage.downsample.Parameters()...)
		params = append(params, stage.norm.Parameters()...)
		for _, block := range stage.blocks {
			params = append(params, block.conv.Parameters()...)
			params = append(params, block.norm.Parameters()...)
			params = append(params, block.mlp.Parameters()...)
		}
	}
	return params
}

func (b *Backbone[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for i, stage := range b.stages {
		prefix := "stages." + strconv.Itoa(i)
		nn.PrefixStateDict(sd, prefix+".downsample", stage.downsample.StateDict())
		nn.PrefixStateDict(sd, prefix+".norm", stage.norm.StateDict())
		for j, block := range stage.blocks {
			nn.PrefixStateDict(sd, prefix+".blocks."+strconv.Itoa(j), block.StateDict())
		}
	}
	return sd
}

func (b *Backbone[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	for i, stage := range b.stages {
		prefix := "stages." + strconv.Itoa(i)
		if err := stage.downsample.LoadStateDict(nn.SubStateDict(sd, prefix+".downsample")); err != nil {
			return err
		}
		if err := stage.norm.LoadStateDict(nn.SubStateDict(sd, prefix+".norm")); err != nil {
			return err
		}
		for j, block := range stage.blocks {
			if err := block.LoadStateDict(nn.SubStateDict(sd, prefix+".blocks."+strconv.Itoa(j))); err != nil {
				return err
			}
		}
	}
	return nil
}
