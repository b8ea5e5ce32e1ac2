package oneformer

import (
	"strconv"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// encoderLayer is a post-norm transformer encoder layer.
type encoderLayer[B tensor.Backend] struct {
	selfAttn *nn.MultiHeadAttention[B]
	norm1    *nn.LayerNorm[B]
	ffn      *nn.FeedForward[B]
	norm2    *nn.LayerNorm[B]
}

func newEncoderLayer[B tensor.Backend](dim, ffnDim, heads int, act string, eps float32, backend B) *encoderLayer[B] {
	return &encoderLayer[B]{
		selfAttn: nn.NewMultiHeadAttention[B](dim, heads, backend),
		norm1:    nn.NewLayerNorm(dim, eps, backend),
		ffn:      nn.NewFeedForwardAct[B](dim, ffnDim, act, backend),
		norm2:    nn.NewLayerNorm(dim, eps, backend),
	}
}

func (l *encoderLayer[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	h := l.norm1.Forward(x.Add(l.selfAttn.Forward(x, x, x, nil)))
	return l.norm2.Forward(h.Add(l.ffn.Forward(h)))
}

func (l *encoderLayer[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "self_attn", l.selfAttn.StateDict())
	nn.PrefixStateDict(sd, "norm1", l.norm1.StateDict())
	nn.PrefixStateDict(sd, "ffn", l.ffn.StateDict())
	nn.PrefixStateDict(sd, "norm2", l.norm2.StateDict())
	return sd
}

func (l *encoderLayer[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := l.selfAttn.LoadStateDict(nn.SubStateDict(sd, "self_attn")); err != nil {
		return err
	}
	if err := l.norm1.LoadStateDict(nn.SubStateDict(sd, "norm1")); err != nil {
		return err
	}
	if err := l.ffn.LoadStateDict(nn.SubStateDict(sd, "ffn")); err != nil {
		return err
	}
	return l.norm2.LoadStateDict(nn.SubStateDict(sd, "norm2"))
}

// PixelDecoder fuses backbone features into high-resolution mask
// features. The deepest (stride 32) level runs through a transformer
// encoder; a top-down FPN path merges the shallower levels.
type PixelDecoder[B tensor.Backend] struct {
	inputProj []*nn.Conv2D[B] // 1x1, per backbone level
	posEmbed  *nn.Parameter[B]
	layers    []*encoderLayer[B]
	fuse      []*nn.Conv2D[B] // 3x3, per FPN merge
	maskProj  *nn.Conv2D[B]
	convDim   int
}

// pixelDecoderOutput carries everything downstream consumers need.
type pixelDecoderOutput[B tensor.Backend] struct {
	// maskFeatures is [batch, mask_dim, H/4, W/4].
	maskFeatures *tensor.Tensor[float32, B]
	// memory is the encoded stride-32 level as tokens [batch, n, conv_dim],
	// the transformer decoder attends over it.
	memory *tensor.Tensor[float32, B]
	// hiddenStates holds the stride-32 map after every encoder layer.
	hiddenStates []*tensor.Tensor[float32, B]
}

func NewPixelDecoder[B tensor.Backend](cfg *Config, backend B) *PixelDecoder[B] {
	widths := cfg.Backbone.StageWidths()
	proj := make([]*nn.Conv2D[B], len(widths))
	for i, w := range widths {
		proj[i] = nn.NewConv2D[B](w, cfg.ConvDim, 1, 1, 1, 0, true, backend)
	}
	layers := make([]*encoderLayer[B], cfg.EncoderLayers)
	for i := range layers {
		layers[i] = newEncoderLayer[B](cfg.ConvDim, cfg.EncoderFeedforwardDim,
			cfg.NumAttentionHeads, "relu", cfg.LayerNormEps, backend)
	}
	// one fusion conv per top-down merge (strides 16, 8, 4)
	fuse := make([]*nn.Conv2D[B], len(widths)-1)
	for i := range fuse {
		fuse[i] = nn.NewConv2D[B](cfg.ConvDim, cfg.ConvDim, 3, 3, 1, 1, true, backend)
	}
	return &PixelDecoder[B]{
		inputProj: proj,
		posEmbed: nn.NewParameter("pos_embed", nn.Initialized(
			nn.Normal{Sigma: float64(cfg.InitStd)},
			tensor.Shape{maxEncoderTokens, cfg.ConvDim}, backend)),
		layers:   layers,
		fuse:     fuse,
		maskProj: nn.NewConv2D[B](cfg.ConvDim, cfg.MaskDim, 3, 3, 1, 1, true, backend),
		convDim:  cfg.ConvDim,
	}
}

// maxEncoderTokens bounds the stride-32 grid the encoder can handle;
// 48x48 covers inputs up to 1536 pixels on a side.
const maxEncoderTokens = 48 * 48

func (p *PixelDecoder[B]) Forward(features []*tensor.Tensor[float32, B]) *pixelDecoderOutput[B] {
	if len(features) != len(p.inputProj) {
		panic("pixel decoder: feature level count mismatch")
	}

	projected := make([]*tensor.Tensor[float32, B], len(features))
	for i, f := range features {
		projected[i] = p.inputProj[i].Forward(f)
	}

	// encode the deepest level as a token sequence
	deep := projected[len(projected)-1]
	batch := deep.Shape()[0]
	h32, w32 := deep.Shape()[2], deep.Shape()[3]
	n := h32 * w32
	if n > maxEncoderTokens {
		panic("pixel decoder: input too large for encoder position table")
	}

	tokens := deep.Reshape(batch, p.convDim, n).Transpose(0, 2, 1)
	pos := p.posEmbed.Tensor().Reshape(1, maxEncoderTokens, p.convDim)
	tokens = tokens.Add(sliceRows(pos, n))

	hidden := make([]*tensor.Tensor[float32, B], 0, len(p.layers))
	for _, layer := range p.layers {
		tokens = layer.Forward(tokens)
		hidden = append(hidden, tokens.Transpose(0, 2, 1).Reshape(batch, p.convDim, h32, w32))
	}
	encoded := hidden[len(hidden)-1]

	// top-down FPN
	x := encoded
	for i := len(projected) - 2; i >= 0; i-- {
		lateral := projected[i]
		up := x.Upsample2D(lateral.Shape()[2], lateral.Shape()[3])
		x = p.fuse[i].Forward(lateral.Add(up))
	}

	return &pixelDecoderOutput[B]{
		maskFeatures: p.maskProj.Forward(x),
		memory:       tokens,
		hiddenStates: hidden,
	}
}

// sliceRows returns the first n rows of a [1, rows, dim] tensor.
func sliceRows[B tensor.Backend](t *tensor.Tensor[float32, B], n int) *tensor.Tensor[float32, B] {
	dim := t.Shape()[2]
	data := t.Data()
	out := make([]float32, n*dim)
	copy(out, data[:n*dim])
	s, err := tensor.FromSlice(out, tensor.Shape{1, n, dim}, t.Backend())
	if err != nil {
		panic(err)
	}
	return s
}

func (p *PixelDecoder[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{p.posEmbed}
	for _, proj := range p.inputProj {
		params = append(params, proj.Parameters()...)
	}
	for _, layer := range p.layers {
		params = append(params, layer.selfAttn.Parameters()...)
		params = append(params, layer.norm1.Parameters()...)
		params = append(params, layer.ffn.Parameters()...)
		params = append(params, layer.norm2.Parameters()...)
	}
	for _, f := range p.fuse {
		params = append(params, f.Parameters()...)
	}
	params = append(params, p.maskProj.Parameters()...)
	return params
}

func (p *PixelDecoder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{"pos_embed": p.posEmbed.Tensor().Raw()}
	for i, proj := range p.inputProj {
		nn.PrefixStateDict(sd, "input_proj."+strconv.Itoa(i), proj.StateDict())
	}
	for i, layer := range p.layers {
		nn.PrefixStateDict(sd, "layers."+strconv.Itoa(i), layer.StateDict())
	}
	for i, f := range p.fuse {
		nn.PrefixStateDict(sd, "fuse."+strconv.Itoa(i), f.StateDict())
	}
	nn.PrefixStateDict(sd, "mask_proj", p.maskProj.StateDict())
	return sd
}

func (p *PixelDecoder[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if pe, ok := sd["pos_embed"]; ok {
		if err := p.posEmbed.Load(pe); err != nil {
			return err
		}
	}
	for i, proj := range p.inputProj {
		if err := proj.LoadStateDict(nn.SubStateDict(sd, "input_proj."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	for i, layer := range p.layers {
		if err := layer.LoadStateDict(nn.SubStateDict(sd, "layers."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	for i, f := range p.fuse {
		if err := f.LoadStateDict(nn.SubStateDict(sd, "fuse."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return p.maskProj.LoadStateDict(nn.SubStateDict(sd, "mask_proj"))
}
