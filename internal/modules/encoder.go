// Package modules provides generic sequence encoders built from the nn
// building blocks: a recurrent seq2seq encoder and an n-gram CNN
// sentence encoder.
package modules

import (
	"fmt"
	"math"

	"github.com/uniseg-ml/uniseg/internal/nn"
	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// RNNEncoder embeds tokens and runs a multi-layer tanh RNN over the
// sequence, batch first.
type RNNEncoder[B tensor.Backend] struct {
	embedding *nn.Embedding[B]
	inputW    []*nn.Linear[B] // per layer, input -> hidden
	hiddenW   []*nn.Linear[B] // per layer, hidden -> hidden, no bias
	hiddenDim int
	backend   B
}

func NewRNNEncoder[B tensor.Backend](vocabSize, embedDim, hiddenDim, numLayers int, backend B) *RNNEncoder[B] {
	if numLayers <= 0 {
		panic(fmt.Sprintf("rnn encoder: invalid layer count %d", numLayers))
	}
	inputW := make([]*nn.Linear[B], numLayers)
	hiddenW := make([]*nn.Linear[B], numLayers)
	for i := range inputW {
		in := embedDim
		if i > 0 {
			in = hiddenDim
		}
		inputW[i] = nn.NewLinear[B](in, hiddenDim, backend)
		hiddenW[i] = nn.NewLinearInit[B](hiddenDim, hiddenDim, false, rnnInit(hiddenDim), backend)
	}
	return &RNNEncoder[B]{
		embedding: nn.NewEmbedding[B](vocabSize, embedDim, backend),
		inputW:    inputW,
		hiddenW:   hiddenW,
		hiddenDim: hiddenDim,
		backend:   backend,
	}
}

// rnnInit is the usual uniform(-1/sqrt(h), 1/sqrt(h)) recurrent init
// expressed through the Xavier-uniform gain.
func rnnInit(hiddenDim int) nn.Initializer {
	// bound = gain*sqrt(6/(2h)) = 1/sqrt(h) when gain = 1/sqrt(3)
	return nn.XavierUniform{Gain: 1 / math.Sqrt(3)}
}

// Forward encodes srcTokens [batch, seq]. It returns the per-step
// outputs [batch, seq, hidden], the final hidden state of every layer
// [layers, batch, hidden], and the mask unchanged.
func (e *RNNEncoder[B]) Forward(
	srcTokens *tensor.Tensor[int32, B],
	mask *tensor.Tensor[int32, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], *tensor.Tensor[int32, B]) {
	shape := srcTokens.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("rnn encoder: src_tokens must be [batch, seq], got %v", shape))
	}
	batch, seq := shape[0], shape[1]

	x := e.embedding.Forward(srcTokens) // [batch, seq, embed]

	finals := make([]*tensor.Tensor[float32, B], len(e.inputW))
	for layer := range e.inputW {
		h := tensor.Zeros[float32](tensor.Shape{batch, e.hiddenDim}, e.backend)
		steps := make([]*tensor.Tensor[float32, B], seq)
		for t := 0; t < seq; t++ {
			xt := timeStep(x, t)
			h = e.inputW[layer].Forward(xt).Add(e.hiddenW[layer].Forward(h)).Tanh()
			steps[t] = h.Reshape(batch, 1, e.hiddenDim)
		}
		x = tensor.Cat(steps, 1) // [batch, seq, hidden]
		finals[layer] = h.Reshape(1, batch, e.hiddenDim)
	}

	return x, tensor.Cat(finals, 0), mask
}

// timeStep slices x [batch, seq, dim] at one sequence position.
func timeStep[B tensor.Backend](x *tensor.Tensor[float32, B], t int) *tensor.Tensor[float32, B] {
	batch, seq, dim := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	data := x.Data()
	out := make([]float32, batch*dim)
	for b := 0; b < batch; b++ {
		copy(out[b*dim:(b+1)*dim], data[(b*seq+t)*dim:(b*seq+t)*dim+dim])
	}
	s, err := tensor.FromSlice(out, tensor.Shape{batch, dim}, x.Backend())
	if err != nil {
		panic(err)
	}
	return s
}

// LSTMEncoder embeds tokens and runs a multi-layer LSTM over the
// sequence, batch first. Gate weights are packed [i, f, g, o] along the
// output axis of one linear per layer.
type LSTMEncoder[B tensor.Backend] struct {
	embedding *nn.Embedding[B]
	inputW    []*nn.Linear[B] // per layer, input -> 4*hidden
	hiddenW   []*nn.Linear[B] // per layer, hidden -> 4*hidden, no bias
	hiddenDim int
	backend   B
}

func NewLSTMEncoder[B tensor.Backend](vocabSize, embedDim, hiddenDim, numLayers int, backend B) *LSTMEncoder[B] {
	if numLayers <= 0 {
		panic(fmt.Sprintf("lstm encoder: invalid layer count %d", numLayers))
	}
	inputW := make([]*nn.Linear[B], numLayers)
	hiddenW := make([]*nn.Linear[B], numLayers)
	for i := range inputW {
		in := embedDim
		if i > 0 {
			in = hiddenDim
		}
		inputW[i] = nn.NewLinear[B](in, 4*hiddenDim, backend)
		hiddenW[i] = nn.NewLinearInit[B](hiddenDim, 4*hiddenDim, false, rnnInit(hiddenDim), backend)
	}
	return &LSTMEncoder[B]{
		embedding: nn.NewEmbedding[B](vocabSize, embedDim, backend),
		inputW:    inputW,
		hiddenW:   hiddenW,
		hiddenDim: hiddenDim,
		backend:   backend,
	}
}

// Forward encodes srcTokens [batch, seq]. It returns the per-step
// outputs [batch, seq, hidden], the final hidden and cell states of
// every layer [layers, batch, hidden] each, and the mask unchanged.
func (e *LSTMEncoder[B]) Forward(
	srcTokens *tensor.Tensor[int32, B],
	mask *tensor.Tensor[int32, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], *tensor.Tensor[float32, B], *tensor.Tensor[int32, B]) {
	shape := srcTokens.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("lstm encoder: src_tokens must be [batch, seq], got %v", shape))
	}
	batch, seq := shape[0], shape[1]
	sig := nn.NewSigmoid[B]()

	x := e.embedding.Forward(srcTokens)

	finalH := make([]*tensor.Tensor[float32, B], len(e.inputW))
	finalC := make([]*tensor.Tensor[float32, B], len(e.inputW))
	for layer := range e.inputW {
		h := tensor.Zeros[float32](tensor.Shape{batch, e.hiddenDim}, e.backend)
		c := tensor.Zeros[float32](tensor.Shape{batch, e.hiddenDim}, e.backend)
		steps := make([]*tensor.Tensor[float32, B], seq)
		for t := 0; t < seq; t++ {
			xt := timeStep(x, t)
			gates := chunk(e.inputW[layer].Forward(xt).Add(e.hiddenW[layer].Forward(h)), 4)
			in := sig.Forward(gates[0])
			forget := sig.Forward(gates[1])
			cell := gates[2].Tanh()
			out := sig.Forward(gates[3])
			c = forget.Mul(c).Add(in.Mul(cell))
			h = out.Mul(c.Tanh())
			steps[t] = h.Reshape(batch, 1, e.hiddenDim)
		}
		x = tensor.Cat(steps, 1)
		finalH[layer] = h.Reshape(1, batch, e.hiddenDim)
		finalC[layer] = c.Reshape(1, batch, e.hiddenDim)
	}

	return x, tensor.Cat(finalH, 0), tensor.Cat(finalC, 0), mask
}

// GRUEncoder embeds tokens and runs a multi-layer GRU over the
// sequence, batch first. Gate weights are packed [r, z, n].
type GRUEncoder[B tensor.Backend] struct {
	embedding *nn.Embedding[B]
	inputW    []*nn.Linear[B] // per layer, input -> 3*hidden
	hiddenW   []*nn.Linear[B] // per layer, hidden -> 3*hidden, no bias
	hiddenDim int
	backend   B
}

func NewGRUEncoder[B tensor.Backend](vocabSize, embedDim, hiddenDim, numLayers int, backend B) *GRUEncoder[B] {
	if numLayers <= 0 {
		panic(fmt.Sprintf("gru encoder: invalid layer count %d", numLayers))
	}
	inputW := make([]*nn.Linear[B], numLayers)
	hiddenW := make([]*nn.Linear[B], numLayers)
	for i := range inputW {
		in := embedDim
		if i > 0 {
			in = hiddenDim
		}
		inputW[i] = nn.NewLinear[B](in, 3*hiddenDim, backend)
		hiddenW[i] = nn.NewLinearInit[B](hiddenDim, 3*hiddenDim, false, rnnInit(hiddenDim), backend)
	}
	return &GRUEncoder[B]{
		embedding: nn.NewEmbedding[B](vocabSize, embedDim, backend),
		inputW:    inputW,
		hiddenW:   hiddenW,
		hiddenDim: hiddenDim,
		backend:   backend,
	}
}

// Forward encodes srcTokens [batch, seq]. It returns the per-step
// outputs [batch, seq, hidden], the final hidden state of every layer
// [layers, batch, hidden], and the mask unchanged.
func (e *GRUEncoder[B]) Forward(
	srcTokens *tensor.Tensor[int32, B],
	mask *tensor.Tensor[int32, B],
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B], *tensor.Tensor[int32, B]) {
	shape := srcTokens.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("gru encoder: src_tokens must be [batch, seq], got %v", shape))
	}
	batch, seq := shape[0], shape[1]
	sig := nn.NewSigmoid[B]()

	x := e.embedding.Forward(srcTokens)

	finals := make([]*tensor.Tensor[float32, B], len(e.inputW))
	for layer := range e.inputW {
		h := tensor.Zeros[float32](tensor.Shape{batch, e.hiddenDim}, e.backend)
		steps := make([]*tensor.Tensor[float32, B], seq)
		for t := 0; t < seq; t++ {
			xt := timeStep(x, t)
			xg := chunk(e.inputW[layer].Forward(xt), 3)
			hg := chunk(e.hiddenW[layer].Forward(h), 3)
			reset := sig.Forward(xg[0].Add(hg[0]))
			update := sig.Forward(xg[1].Add(hg[1]))
			cand := xg[2].Add(reset.Mul(hg[2])).Tanh()
			// h = (1-z)*n + z*h
			h = update.Mul(h).Add(update.MulScalar(-1).AddScalar(1).Mul(cand))
			steps[t] = h.Reshape(batch, 1, e.hiddenDim)
		}
		x = tensor.Cat(steps, 1)
		finals[layer] = h.Reshape(1, batch, e.hiddenDim)
	}

	return x, tensor.Cat(finals, 0), mask
}

// chunk splits x [batch, parts*size] into parts tensors [batch, size].
func chunk[B tensor.Backend](x *tensor.Tensor[float32, B], parts int) []*tensor.Tensor[float32, B] {
	batch, width := x.Shape()[0], x.Shape()[1]
	size := width / parts
	data := x.Data()
	out := make([]*tensor.Tensor[float32, B], parts)
	for p := range out {
		buf := make([]float32, batch*size)
		for b := 0; b < batch; b++ {
			copy(buf[b*size:(b+1)*size], data[b*width+p*size:b*width+p*size+size])
		}
		t, err := tensor.FromSlice(buf, tensor.Shape{batch, size}, x.Backend())
		if err != nil {
			panic(err)
		}
		out[p] = t
	}
	return out
}

// CNNEncoder embeds tokens and summarizes the sequence with n-gram
// convolutions, max-pooling over time and a final projection.
type CNNEncoder[B tensor.Backend] struct {
	embedding *nn.Embedding[B]
	convs     []*nn.Conv2D[B]
	proj      *nn.Linear[B]
	embedDim  int
	numFilter int
}

func NewCNNEncoder[B tensor.Backend](vocabSize, embedDim, numFilter int, ngramSizes []int, outputDim int, backend B) *CNNEncoder[B] {
	if len(ngramSizes) == 0 {
		panic("cnn encoder: no ngram sizes")
	}
	convs := make([]*nn.Conv2D[B], len(ngramSizes))
	for i, k := range ngramSizes {
		convs[i] = nn.NewConv2D[B](1, numFilter, k, embedDim, 1, 0, true, backend)
	}
	return &CNNEncoder[B]{
		embedding: nn.NewEmbedding[B](vocabSize, embedDim, backend),
		convs:     convs,
		proj:      nn.NewLinear[B](len(ngramSizes)*numFilter, outputDim, backend),
		embedDim:  embedDim,
		numFilter: numFilter,
	}
}

// Forward maps srcTokens [batch, seq] to [batch, output_dim].
func (e *CNNEncoder[B]) Forward(srcTokens *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	shape := srcTokens.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cnn encoder: src_tokens must be [batch, seq], got %v", shape))
	}
	batch, seq := shape[0], shape[1]

	x := e.embedding.Forward(srcTokens).Reshape(batch, 1, seq, e.embedDim)

	relu := nn.NewReLU[B]()
	pooled := make([]*tensor.Tensor[float32, B], len(e.convs))
	for i, conv := range e.convs {
		c := relu.Forward(conv.Forward(x)) // [batch, filters, seq-k+1, 1]
		pooled[i] = maxOverTime(c)
	}
	return e.proj.Forward(tensor.Cat(pooled, 1))
}

// maxOverTime reduces [batch, filters, steps, 1] to [batch, filters].
func maxOverTime[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	batch, filters, steps := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	data := x.Data()
	out := make([]float32, batch*filters)
	for b := 0; b < batch; b++ {
		for f := 0; f < filters; f++ {
			best := float32(math.Inf(-1))
			base := (b*filters + f) * steps
			for t := 0; t < steps; t++ {
				if data[base+t] > best {
					best = data[base+t]
				}
			}
			out[b*filters+f] = best
		}
	}
	t, err := tensor.FromSlice(out, tensor.Shape{batch, filters}, x.Backend())
	if err != nil {
		panic(err)
	}
	return t
}
