package nn

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// MultiHeadAttention implements multi-head attention with separate
// query, key and value projections and an output projection.
type MultiHeadAttention[B tensor.Backend] struct {
	EmbedDim int
	NumHeads int
	HeadDim  int

	QProj   *Linear[B]
	KProj   *Linear[B]
	VProj   *Linear[B]
	OutProj *Linear[B]
}

func NewMultiHeadAttention[B tensor.Backend](embedDim, numHeads int, backend B) *MultiHeadAttention[B] {
	if embedDim%numHeads != 0 {
		panic(fmt.Sprintf("mha: embed_dim %d not divisible by num_heads %d", embedDim, numHeads))
	}
	return &MultiHeadAttention[B]{
		EmbedDim: embedDim,
		NumHeads: numHeads,
		HeadDim:  embedDim / numHeads,
		QProj:    NewLinear[B](embedDim, embedDim, backend),
		KProj:    NewLinear[B](embedDim, embedDim, backend),
		VProj:    NewLinear[B](embedDim, embedDim, backend),
		OutProj:  NewLinear[B](embedDim, embedDim, backend),
	}
}

// Forward attends query over key/value. All inputs are
// [batch, seq, embed_dim]; key and value share a sequence length.
func (m *MultiHeadAttention[B]) Forward(query, key, value *tensor.Tensor[float32, B], mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out, _ := m.ForwardWithWeights(query, key, value, mask)
	return out
}

// ForwardWithWeights additionally returns the per-head attention
// weights [batch, heads, seq_q, seq_k].
func (m *MultiHeadAttention[B]) ForwardWithWeights(query, key, value *tensor.Tensor[float32, B], mask *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := query.Shape()[0]
	seqQ := query.Shape()[1]
	seqK := key.Shape()[1]

	q := m.split(m.QProj.Forward(query), batch, seqQ)
	k := m.split(m.KProj.Forward(key), batch, seqK)
	v := m.split(m.VProj.Forward(value), batch, seqK)

	attended, weights := ScaledDotProductAttention(q, k, v, mask, 0)

	// [batch, heads, seq_q, head_dim] -> [batch, seq_q, embed_dim]
	merged := attended.Transpose(0, 2, 1, 3).Reshape(batch, seqQ, m.EmbedDim)
	return m.OutProj.Forward(merged), weights
}

// split reshapes [batch, seq, embed_dim] into [batch, heads, seq, head_dim].
func (m *MultiHeadAttention[B]) split(x *tensor.Tensor[float32, B], batch, seq int) *tensor.Tensor[float32, B] {
	return x.Reshape(batch, seq, m.NumHeads, m.HeadDim).Transpose(0, 2, 1, 3)
}

func (m *MultiHeadAttention[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	params = append(params, m.QProj.Parameters()...)
	params = append(params, m.KProj.Parameters()...)
	params = append(params, m.VProj.Parameters()...)
	params = append(params, m.OutProj.Parameters()...)
	return params
}

func (m *MultiHeadAttention[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	PrefixStateDict(sd, "q_proj", m.QProj.StateDict())
	PrefixStateDict(sd, "k_proj", m.KProj.StateDict())
	PrefixStateDict(sd, "v_proj", m.VProj.StateDict())
	PrefixStateDict(sd, "out_proj", m.OutProj.StateDict())
	return sd
}

func (m *MultiHeadAttention[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	if err := m.QProj.LoadStateDict(SubStateDict(sd, "q_proj")); err != nil {
		return fmt.Errorf("q_proj: %w", err)
	}
	if err := m.KProj.LoadStateDict(SubStateDict(sd, "k_proj")); err != nil {
		return fmt.Errorf("k_proj: %w", err)
	}
	if err := m.VProj.LoadStateDict(SubStateDict(sd, "v_proj")); err != nil {
		return fmt.Errorf("v_proj: %w", err)
	}
	if err := m.OutProj.LoadStateDict(SubStateDict(sd, "out_proj")); err != nil {
		return fmt.Errorf("out_proj: %w", err)
	}
	return nil
}
