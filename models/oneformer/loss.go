package oneformer

import (
	"fmt"
	"math"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// segmentationLoss computes the Hungarian-matched training objective:
// class cross-entropy with a down-weighted no-object class, binary
// cross-entropy and dice on matched masks, and a query-text contrastive
// term. Weighted by the config loss coefficients.
type segmentationLoss[B tensor.Backend] struct {
	cfg *Config
}

func newSegmentationLoss[B tensor.Backend](cfg *Config) *segmentationLoss[B] {
	return &segmentationLoss[B]{cfg: cfg}
}

// Compute returns the scalar loss averaged over the batch.
//
// classLogits [B,Q,L+1], maskLogits [B,Q,h,w], queries [B,Q,C],
// textQueries [B,Q,C] or nil, maskLabels [B,T,H,W], classLabels [B,T].
func (l *segmentationLoss[B]) Compute(
	classLogits, maskLogits, queries, textQueries *tensor.Tensor[float32, B],
	maskLabels *tensor.Tensor[float32, B],
	classLabels *tensor.Tensor[int32, B],
) float32 {
	batch := classLogits.Shape()[0]
	numQueries := classLogits.Shape()[1]
	numClasses := classLogits.Shape()[2] // includes no-object
	numTargets := classLabels.Shape()[1]
	h, w := maskLogits.Shape()[2], maskLogits.Shape()[3]

	if maskLabels.Shape()[1] != numTargets {
		panic(fmt.Sprintf("loss: %d mask labels for %d class labels", maskLabels.Shape()[1], numTargets))
	}

	// bring target masks to prediction resolution
	targets := maskLabels.Upsample2D(h, w).Data()
	preds := maskLogits.Data()
	logits := classLogits.Data()
	labels := classLabels.Data()

	pixels := h * w
	var total float64
	for b := 0; b < batch; b++ {
		probs := softmaxRows(logits[b*numQueries*numClasses:(b+1)*numQueries*numClasses], numQueries, numClasses)
		predOff := b * numQueries * pixels
		tgtOff := b * numTargets * pixels

		// assignment cost per (query, target) pair
		cost := make([][]float64, numQueries)
		for q := range cost {
			cost[q] = make([]float64, numTargets)
			for t := 0; t < numTargets; t++ {
				class := int(labels[b*numTargets+t])
				bce, dice := maskCosts(
					preds[predOff+q*pixels:predOff+(q+1)*pixels],
					targets[tgtOff+t*pixels:tgtOff+(t+1)*pixels],
				)
				cost[q][t] = float64(l.cfg.ClassWeight)*-probs[q*numClasses+class] +
					float64(l.cfg.MaskWeight)*bce +
					float64(l.cfg.DiceWeight)*dice
			}
		}
		match := hungarian(cost, numQueries, numTargets)

		assigned := make([]int, numQueries)
		for q := range assigned {
			assigned[q] = numClasses - 1 // no-object
		}
		for t, q := range match {
			if q >= 0 {
				assigned[q] = int(labels[b*numTargets+t])
			}
		}

		// class loss: weighted cross-entropy over all queries
		var classLoss, weightSum float64
		for q := 0; q < numQueries; q++ {
			wt := 1.0
			if assigned[q] == numClasses-1 {
				wt = float64(l.cfg.NoObjectWeight)
			}
			p := probs[q*numClasses+assigned[q]]
			classLoss += wt * -math.Log(math.Max(p, 1e-12))
			weightSum += wt
		}
		classLoss /= weightSum

		// mask losses over matched pairs
		var bceLoss, diceLoss float64
		matched := 0
		for t, q := range match {
			if q < 0 {
				continue
			}
			bce, dice := maskCosts(
				preds[predOff+q*pixels:predOff+(q+1)*pixels],
				targets[tgtOff+t*pixels:tgtOff+(t+1)*pixels],
			)
			bceLoss += bce
			diceLoss += dice
			matched++
		}
		if matched > 0 {
			bceLoss /= float64(matched)
			diceLoss /= float64(matched)
		}

		item := float64(l.cfg.ClassWeight)*classLoss +
			float64(l.cfg.MaskWeight)*bceLoss +
			float64(l.cfg.DiceWeight)*diceLoss

		if textQueries != nil {
			item += float64(l.cfg.ContrastiveWeight) *
				l.contrastive(queries, textQueries, b)
		}
		total += item
	}
	return float32(total / float64(batch))
}

// maskCosts returns the mean binary cross-entropy (on logits) and the
// dice loss between one predicted mask and one binary target mask.
func maskCosts(pred []float32, target []float32) (bce, dice float64) {
	var inter, predSum, tgtSum float64
	for i := range pred {
		x := float64(pred[i])
		t := float64(target[i])
		// log(1+exp(x)) - x*t, computed stably
		if x >= 0 {
			bce += math.Log1p(math.Exp(-x)) + x*(1-t)
		} else {
			bce += math.Log1p(math.Exp(x)) - x*t
		}
		s := 1.0 / (1.0 + math.Exp(-x))
		inter += s * t
		predSum += s
		tgtSum += t
	}
	n := float64(len(pred))
	bce /= n
	dice = 1 - (2*inter+1)/(predSum+tgtSum+1)
	return bce, dice
}

// contrastive aligns object queries with text queries for one batch
// item via a symmetric InfoNCE over the query axis.
func (l *segmentationLoss[B]) contrastive(queries, textQueries *tensor.Tensor[float32, B], b int) float64 {
	numQueries := queries.Shape()[1]
	dim := queries.Shape()[2]
	q := normalizedRows(queries.Data()[b*numQueries*dim:(b+1)*numQueries*dim], numQueries, dim)
	t := normalizedRows(textQueries.Data()[b*numQueries*dim:(b+1)*numQueries*dim], numQueries, dim)

	tau := float64(l.cfg.ContrastiveTemperature)
	sim := make([]float64, numQueries*numQueries)
	for i := 0; i < numQueries; i++ {
		for j := 0; j < numQueries; j++ {
			var dot float64
			for k := 0; k < dim; k++ {
				dot += q[i*dim+k] * t[j*dim+k]
			}
			sim[i*numQueries+j] = dot / tau
		}
	}

	// cross-entropy with the diagonal as targets, both directions
	var loss float64
	for i := 0; i < numQueries; i++ {
		loss += rowCE(sim, numQueries, i, i, false)
		loss += rowCE(sim, numQueries, i, i, true)
	}
	return loss / (2 * float64(numQueries))
}

// rowCE is -log softmax(sim row or column)[target].
func rowCE(sim []float64, n, idx, target int, column bool) float64 {
	at := func(j int) float64 {
		if column {
			return sim[j*n+idx]
		}
		return sim[idx*n+j]
	}
	max := math.Inf(-1)
	for j := 0; j < n; j++ {
		if at(j) > max {
			max = at(j)
		}
	}
	var sum float64
	for j := 0; j < n; j++ {
		sum += math.Exp(at(j) - max)
	}
	return math.Log(sum) - (at(target) - max)
}

func softmaxRows(logits []float32, rows, cols int) []float64 {
	out := make([]float64, len(logits))
	for r := 0; r < rows; r++ {
		row := logits[r*cols : (r+1)*cols]
		max := float64(row[0])
		for _, v := range row[1:] {
			if float64(v) > max {
				max = float64(v)
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v) - max)
			out[r*cols+i] = e
			sum += e
		}
		for i := range row {
			out[r*cols+i] /= sum
		}
	}
	return out
}

func normalizedRows(data []float32, rows, dim int) []float64 {
	out := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		var norm float64
		for i := 0; i < dim; i++ {
			v := float64(data[r*dim+i])
			norm += v * v
		}
		norm = math.Sqrt(norm) + 1e-12
		for i := 0; i < dim; i++ {
			out[r*dim+i] = float64(data[r*dim+i]) / norm
		}
	}
	return out
}
