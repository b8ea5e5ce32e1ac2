package oneformer

import (
	"strconv"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// decoderLayer runs cross-attention over the pixel memory, then
// self-attention among the queries, then the FFN.
type decoderLayer[B tensor.Backend] struct {
	crossAttn *nn.MultiHeadAttention[B]
	normCross *nn.LayerNorm[B]
	selfAttn  *nn.MultiHeadAttention[B]
	normSelf  *nn.LayerNorm[B]
	ffn       *nn.FeedForward[B]
	normFFN   *nn.LayerNorm[B]
}

func newDecoderLayer[B tensor.Backend](cfg *Config, backend B) *decoderLayer[B] {
	return &decoderLayer[B]{
		crossAttn: nn.NewMultiHeadAttention[B](cfg.HiddenDim, cfg.NumAttentionHeads, backend),
		normCross: nn.NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps, backend),
		selfAttn:  nn.NewMultiHeadAttention[B](cfg.HiddenDim, cfg.NumAttentionHeads, backend),
		normSelf:  nn.NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps, backend),
		ffn:       nn.NewFeedForwardAct[B](cfg.HiddenDim, cfg.DimFeedforward, "relu", backend),
		normFFN:   nn.NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps, backend),
	}
}

func (l *decoderLayer[B]) Forward(queries, memory *tensor.Tensor[float32, B]) (out, crossWeights, selfWeights *tensor.Tensor[float32, B]) {
	attended, crossWeights := l.crossAttn.ForwardWithWeights(queries, memory, memory, nil)
	queries = l.normCross.Forward(queries.Add(attended))

	attended, selfWeights = l.selfAttn.ForwardWithWeights(queries, queries, queries, nil)
	queries = l.normSelf.Forward(queries.Add(attended))

	queries = l.normFFN.Forward(queries.Add(l.ffn.Forward(queries)))
	return queries, crossWeights, selfWeights
}

func (l *decoderLayer[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "cross_attn", l.crossAttn.StateDict())
	nn.PrefixStateDict(sd, "norm_cross", l.normCross.StateDict())
	nn.PrefixStateDict(sd, "self_attn", l.selfAttn.StateDict())
	nn.PrefixStateDict(sd, "norm_self", l.normSelf.StateDict())
	nn.PrefixStateDict(sd, "ffn", l.ffn.StateDict())
	nn.PrefixStateDict(sd, "norm_ffn", l.normFFN.StateDict())
	return sd
}

func (l *decoderLayer[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	parts := []struct {
		prefix string
		mod    nn.StateDicter
	}{
		{"cross_attn", l.crossAttn},
		{"norm_cross", l.normCross},
		{"self_attn", l.selfAttn},
		{"norm_self", l.normSelf},
		{"ffn", l.ffn},
		{"norm_ffn", l.normFFN},
	}
	for _, p := range parts {
		if err := p.mod.LoadStateDict(nn.SubStateDict(sd, p.prefix)); err != nil {
			return err
		}
	}
	return nil
}

// taskEncoder turns the tokenized task description into a single
// conditioning token.
type taskEncoder[B tensor.Backend] struct {
	embed *nn.Embedding[B]
	fc1   *nn.Linear[B]
	fc2   *nn.Linear[B]
}

func newTaskEncoder[B tensor.Backend](cfg *Config, backend B) *taskEncoder[B] {
	return &taskEncoder[B]{
		embed: nn.NewEmbedding[B](cfg.TextEncoder.VocabSize, cfg.HiddenDim, backend),
		fc1:   nn.NewLinear[B](cfg.HiddenDim, cfg.HiddenDim, backend),
		fc2:   nn.NewLinear[B](cfg.HiddenDim, cfg.HiddenDim, backend),
	}
}

// Forward maps taskInputs [batch, seq_len] to [batch, 1, hidden_dim].
func (t *taskEncoder[B]) Forward(taskInputs *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	embedded := t.embed.Forward(taskInputs) // [batch, seq, hidden]
	pooled := embedded.MeanDim(1, true)     // [batch, 1, hidden]
	h := nn.NewGELU[B]().Forward(t.fc1.Forward(pooled))
	return t.fc2.Forward(h)
}

func (t *taskEncoder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	nn.PrefixStateDict(sd, "embed", t.embed.StateDict())
	nn.PrefixStateDict(sd, "fc1", t.fc1.StateDict())
	nn.PrefixStateDict(sd, "fc2", t.fc2.StateDict())
	return sd
}

func (t *taskEncoder[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := t.embed.LoadStateDict(nn.SubStateDict(sd, "embed")); err != nil {
		return err
	}
	if err := t.fc1.LoadStateDict(nn.SubStateDict(sd, "fc1")); err != nil {
		return err
	}
	return t.fc2.LoadStateDict(nn.SubStateDict(sd, "fc2"))
}

// TransformerDecoder refines learned, task-conditioned object queries
// by attending over the encoded pixel memory.
type TransformerDecoder[B tensor.Backend] struct {
	queryEmbed *nn.Parameter[B]
	queryPos   *nn.Parameter[B]
	taskNorm   *nn.LayerNorm[B]
	task       *taskEncoder[B]
	memProj    *nn.Linear[B]
	layers     []*decoderLayer[B]
	finalNorm  *nn.LayerNorm[B]

	numQueries int
	hiddenDim  int
}

func NewTransformerDecoder[B tensor.Backend](cfg *Config, backend B) *TransformerDecoder[B] {
	layers := make([]*decoderLayer[B], cfg.DecoderLayers)
	for i := range layers {
		layers[i] = newDecoderLayer[B](cfg, backend)
	}
	return &TransformerDecoder[B]{
		queryEmbed: nn.NewParameter("query_embed", nn.Initialized(
			nn.Normal{Sigma: float64(cfg.InitStd)},
			tensor.Shape{cfg.NumQueries, cfg.HiddenDim}, backend)),
		queryPos: nn.NewParameter("query_pos", nn.Initialized(
			nn.Normal{Sigma: float64(cfg.InitStd)},
			tensor.Shape{cfg.NumQueries, cfg.HiddenDim}, backend)),
		taskNorm:   nn.NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps, backend),
		task:       newTaskEncoder[B](cfg, backend),
		memProj:    nn.NewLinear[B](cfg.ConvDim, cfg.HiddenDim, backend),
		layers:     layers,
		finalNorm:  nn.NewLayerNorm(cfg.HiddenDim, cfg.LayerNormEps, backend),
		numQueries: cfg.NumQueries,
		hiddenDim:  cfg.HiddenDim,
	}
}

type decoderOutput[B tensor.Backend] struct {
	// objectQueries is [batch, num_queries, hidden_dim].
	objectQueries *tensor.Tensor[float32, B]
	// hiddenStates holds the queries after every layer.
	hiddenStates []*tensor.Tensor[float32, B]
	// attentions interleaves cross and self weights per layer; nil
	// unless requested.
	attentions []*tensor.Tensor[float32, B]
}

func (d *TransformerDecoder[B]) Forward(
	taskInputs *tensor.Tensor[int32, B],
	memory *tensor.Tensor[float32, B],
	outputAttentions bool,
) *decoderOutput[B] {
	batch := memory.Shape()[0]

	taskToken := d.taskNorm.Forward(d.task.Forward(taskInputs)) // [batch, 1, hidden]
	queries := d.queryEmbed.Tensor().
		Reshape(1, d.numQueries, d.hiddenDim).
		Expand(tensor.Shape{batch, d.numQueries, d.hiddenDim}).
		Add(d.queryPos.Tensor().Reshape(1, d.numQueries, d.hiddenDim)).
		Add(taskToken)

	mem := d.memProj.Forward(memory)

	out := &decoderOutput[B]{}
	for _, layer := range d.layers {
		var cross, self *tensor.Tensor[float32, B]
		queries, cross, self = layer.Forward(queries, mem)
		out.hiddenStates = append(out.hiddenStates, queries)
		if outputAttentions {
			out.attentions = append(out.attentions, cross, self)
		}
	}
	out.objectQueries = d.finalNorm.Forward(queries)
	return out
}

func (d *TransformerDecoder[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{d.queryEmbed, d.queryPos}
	params = append(params, d.taskNorm.Parameters()...)
	params = append(params, d.task.embed.Parameters()...)
	params = append(params, d.task.fc1.Parameters()...)
	params = append(params, d.task.fc2.Parameters()...)
	params = append(params, d.memProj.Parameters()...)
	for _, layer := range d.layers {
		params = append(params, layer.crossAttn.Parameters()...)
		params = append(params, layer.normCross.Parameters()...)
		params = append(params, layer.selfAttn.Parameters()...)
		params = append(params, layer.normSelf.Parameters()...)
		params = append(params, layer.ffn.Parameters()...)
		params = append(params, layer.normFFN.Parameters()...)
	}
	params = append(params, d.finalNorm.Parameters()...)
	return params
}

func (d *TransformerDecoder[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{
		"query_embed": d.queryEmbed.Tensor().Raw(),
		"query_pos":   d.queryPos.Tensor().Raw(),
	}
	nn.PrefixStateDict(sd, "task_norm", d.taskNorm.StateDict())
	nn.PrefixStateDict(sd, "task", d.task.StateDict())
	nn.PrefixStateDict(sd, "mem_proj", d.memProj.StateDict())
	for i, layer := range d.layers {
		nn.PrefixStateDict(sd, "layers."+strconv.Itoa(i), layer.StateDict())
	}
	nn.PrefixStateDict(sd, "final_norm", d.finalNorm.StateDict())
	return sd
}

func (d *TransformerDecoder[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if qe, ok := sd["query_embed"]; ok {
		if err := d.queryEmbed.Load(qe); err != nil {
			return err
		}
	}
	if qp, ok := sd["query_pos"]; ok {
		if err := d.queryPos.Load(qp); err != nil {
			return err
		}
	}
	if err := d.taskNorm.LoadStateDict(nn.SubStateDict(sd, "task_norm")); err != nil {
		return err
	}
	if err := d.task.LoadStateDict(nn.SubStateDict(sd, "task")); err != nil {
		return err
	}
	if err := d.memProj.LoadStateDict(nn.SubStateDict(sd, "mem_proj")); err != nil {
		return err
	}
	for i, layer := range d.layers {
		if err := layer.LoadStateDict(nn.SubStateDict(sd, "layers."+strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return d.finalNorm.LoadStateDict(nn.SubStateDict(sd, "final_norm"))
}
