package oneformer

import (
	"fmt"
	"strconv"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// TextEncoder embeds tokenized class prompts into query space. Each
// prompt becomes one text query; NCtx learned context queries are
// appended so the result matches the object query count.
type TextEncoder[B tensor.Backend] struct {
	tokenEmbed *nn.Embedding[B]
	posEmbed   *nn.Parameter[B]
	layers     []*encoderLayer[B]
	proj       []*nn.Linear[B]
	ctxEmbed   *nn.Parameter[B]

	width     int
	hiddenDim int
	ctxLen    int
}

func NewTextEncoder[B tensor.Backend](cfg *Config, backend B) *TextEncoder[B] {
	tc := cfg.TextEncoder
	layers := make([]*encoderLayer[B], tc.NumLayers)
	for i := range layers {
		layers[i] = newEncoderLayer[B](tc.Width, 4*tc.Width,
			headsFor(tc.Width), "gelu", cfg.LayerNormEps, backend)
	}
	// projection stack maps encoder width into query space
	proj := make([]*nn.Linear[B], tc.ProjLayers)
	for i := range proj {
		in, out := tc.Width, tc.Width
		if i == len(proj)-1 {
			out = cfg.HiddenDim
		}
		proj[i] = nn.NewLinear[B](in, out, backend)
	}
	return &TextEncoder[B]{
		tokenEmbed: nn.NewEmbedding[B](tc.VocabSize, tc.Width, backend),
		posEmbed: nn.NewParameter("pos_embed", nn.Initialized(
			nn.Normal{Sigma: 0.01},
			tensor.Shape{tc.ContextLength, tc.Width}, backend)),
		layers: layers,
		proj:   proj,
		ctxEmbed: nn.NewParameter("ctx_embed", nn.Initialized(
			nn.Normal{Sigma: float64(cfg.InitStd)},
			tensor.Shape{tc.NCtx, cfg.HiddenDim}, backend)),
		width:     tc.Width,
		hiddenDim: cfg.HiddenDim,
		ctxLen:    tc.ContextLength,
	}
}

// headsFor picks an attention head count that divides the width.
func headsFor(width int) int {
	for _, h := range []int{8, 4, 2} {
		if width%h == 0 {
			return h
		}
	}
	return 1
}

// Forward encodes textInputs [batch, num_texts, seq_len] into text
// queries [batch, num_texts+n_ctx, hidden_dim].
func (t *TextEncoder[B]) Forward(textInputs *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	shape := textInputs.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("text encoder: expected [batch, num_texts, seq_len], got %v", shape))
	}
	batch, numTexts, seqLen := shape[0], shape[1], shape[2]
	if seqLen > t.ctxLen {
		panic(fmt.Sprintf("text encoder: sequence length %d exceeds context length %d", seqLen, t.ctxLen))
	}

	flat := textInputs.Reshape(batch*numTexts, seqLen)
	x := t.tokenEmbed.Forward(flat) // [batch*num_texts, seq, width]
	pos := sliceRows(t.posEmbed.Tensor().Reshape(1, t.ctxLen, t.width), seqLen)
	x = x.Add(pos)

	for _, layer := range t.layers {
		x = layer.Forward(x)
	}

	// sequence summary: final token position
	pooled := lastToken(x)
	for i, p := range t.proj {
		pooled = p.Forward(pooled)
		if i < len(t.proj)-1 {
			pooled = nn.NewGELU[B]().Forward(pooled)
		}
	}

	texts := pooled.Reshape(batch, numTexts, t.hiddenDim)
	nCtx := t.ctxEmbed.Tensor().Shape()[0]
	ctx := t.ctxEmbed.Tensor().
		Reshape(1, nCtx, t.hiddenDim).
		Expand(tensor.Shape{batch, nCtx, t.hiddenDim})
	return tensor.Cat([]*tensor.Tensor[float32, B]{texts, ctx}, 1)
}

// lastToken extracts position seq-1 from [n, seq, width].
func lastToken[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	n, seq, width := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	data := x.Data()
	out := make([]float32, n*width)
	for i := 0; i < n; i++ {
		copy(out[i*width:(i+1)*width], data[(i*seq+seq-1)*width:(i*seq+seq)*width])
	}
	t, err := tensor.FromSlice(out, tensor.Shape{n, width}, x.Backend())
	if err != nil {
		panic(err)
	}
	return t
}

func (t *TextEncoder[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{t.posEmbed, t.ctxEmbed}
	params = append(params, t.tokenEmbed.Parameters()...)
	for _, layer := range t.layers {
		params = append(params, layer.selfAttn.Parameters()...)
		params = append(params, layer.norm1.Parameters()...)
		params = append(params, layer.ffn.Parameters()...)
		params = append(params, layer.norm2.Parameters()...)
	}
	for _, p := range t.proj {
		params = append(params, p.Parameters()...)
	}
	return params
}

func (t *TextEncoder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{
		"pos_embed": t.posEmbed.Tensor().Raw(),
		"ctx_embed": t.ctxEmbed.Tensor().Raw(),
	}
	nn.PrefixStateDict(sd, "token_embed", t.tokenEmbed.StateDict())
	for i, layer := range t.layers {
		nn.PrefixStateDict(sd, "layers."+strconv.Itoa(i), layer.StateDict())
	}
	for i, p := range t.proj {
		nn.PrefixStateDict(sd, "proj."+strconv.Itoa(i), p.StateDict())
	}
	return sd
}

func (t *TextEncoder[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if pe, ok := sd["pos_embed"]; ok {
		if err := t.posEmbed.Load(pe); err != nil {
			return err
		}
	}
	if ce, ok := sd["ctx_embed"]; ok {
		if err := t.ctxEmbed.Load(ce); err != nil {
			return err
		}
	}
	if err := t.tokenEmbed.LoadStateDict(nn.SubStateDict(sd, "token_embed")); err != nil {
		return err
	}
	for i, layer := range t.layers {
		if err := layer.LoadStateDict(nn.SubStateDict(sd, "layers."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	for i, p := range t.proj {
		if err := p.LoadStateDict(nn.SubStateDict(sd, "proj."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return nil
}
