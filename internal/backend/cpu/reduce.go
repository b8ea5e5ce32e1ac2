package cpu

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Sum reduces every element into a shape-[1] tensor.
func (c *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}
	result := mustRaw(tensor.Shape{1}, tensor.Float32, c.device)
	var acc float64
	for _, v := range x.AsFloat32() {
		acc += float64(v)
	}
	result.AsFloat32()[0] = float32(acc)
	return result
}

// SumDim sums along dim. With keepDim the reduced axis keeps size 1.
func (c *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return c.reduceDim("sumdim", x, dim, keepDim, false)
}

// MeanDim averages along dim. With keepDim the reduced axis keeps size 1.
func (c *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return c.reduceDim("meandim", x, dim, keepDim, true)
}

func (c *Backend) reduceDim(name string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("%s: dim out of range for shape %v", name, shape))
	}
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	n := shape[dim]
	inner := 1
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := x.NumElements() / (n * inner)

	var outShape tensor.Shape
	for i, d := range shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	result := mustRaw(outShape, tensor.Float32, c.device)
	in, out := x.AsFloat32(), result.AsFloat32()

	for o := 0; o < outer; o++ {
		for iN := 0; iN < inner; iN++ {
			var acc float64
			base := o*n*inner + iN
			for j := 0; j < n; j++ {
				acc += float64(in[base+j*inner])
			}
			if mean {
				acc /= float64(n)
			}
			out[o*inner+iN] = float32(acc)
		}
	}
	return result
}
