package nn

import (
	"math"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// ScaledDotProductAttention computes
//
//	Attention(Q, K, V) = softmax(QK^T / sqrt(d_k) + mask) V
//
// Shapes:
//   - query: [batch, heads, seq_q, head_dim]
//   - key:   [batch, heads, seq_k, head_dim]
//   - value: [batch, heads, seq_k, head_dim]
//   - mask:  additive, broadcastable to [batch, heads, seq_q, seq_k],
//     with large negative values on masked positions; nil for none
//
// Returns the attended values [batch, heads, seq_q, head_dim] and the
// attention weights [batch, heads, seq_q, seq_k].
func ScaledDotProductAttention[B tensor.Backend](
	query, key, value *tensor.Tensor[float32, B],
	mask *tensor.Tensor[float32, B],
	scale float32,
) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	validateAttentionInputs(query, key, value)

	if scale == 0 {
		scale = float32(1.0 / math.Sqrt(float64(query.Shape()[3])))
	}

	kT := key.Transpose(0, 1, 3, 2)
	scores := query.BatchMatMul(kT).MulScalar(scale)
	if mask != nil {
		scores = scores.Add(mask)
	}
	weights := scores.Softmax(-1)
	return weights.BatchMatMul(value), weights
}

func validateAttentionInputs[B tensor.Backend](query, key, value *tensor.Tensor[float32, B]) {
	if len(query.Shape()) != 4 || len(key.Shape()) != 4 || len(value.Shape()) != 4 {
		panic("attention: query, key and value must be 4D [batch, heads, seq, head_dim]")
	}
	if query.Shape()[3] != key.Shape()[3] {
		panic("attention: query and key head_dim differ")
	}
	if key.Shape()[2] != value.Shape()[2] {
		panic("attention: key and value sequence lengths differ")
	}
}

// NegInf is the additive mask value for disallowed attention positions.
// A large finite value keeps softmax free of NaN when a row is fully
// masked.
const NegInf = float32(-1e9)
