package nn

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Embedding maps integer token IDs to dense vectors via a learned
// lookup table of shape [num_embeddings, embedding_dim].
//
// Weights initialize from N(0, 0.02), the convention transformer text
// encoders use for token tables.
type Embedding[B tensor.Backend] struct {
	Weight   *Parameter[B]
	NumEmbed int
	EmbedDim int
}

// NewEmbedding creates an embedding table.
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	if numEmbeddings <= 0 || embeddingDim <= 0 {
		panic(fmt.Sprintf("embedding: invalid size %dx%d", numEmbeddings, embeddingDim))
	}
	weight := Initialized(Normal{Sigma: 0.02}, tensor.Shape{numEmbeddings, embeddingDim}, backend)
	return &Embedding[B]{
		Weight:   NewParameter("weight", weight),
		NumEmbed: numEmbeddings,
		EmbedDim: embeddingDim,
	}
}

// Forward looks up embeddings.
// indices [...] int32 -> [..., embedding_dim] float32.
func (e *Embedding[B]) Forward(indices *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	return e.Weight.Tensor().Embedding(indices)
}

// Parameters returns the embedding table.
func (e *Embedding[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{e.Weight}
}

// StateDict returns the checkpoint state of this layer.
func (e *Embedding[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{"weight": e.Weight.Tensor().Raw()}
}

// LoadStateDict loads the table from a state map.
func (e *Embedding[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	w, ok := stateDict["weight"]
	if !ok {
		return fmt.Errorf("missing weight in state dict")
	}
	return e.Weight.Load(w)
}
