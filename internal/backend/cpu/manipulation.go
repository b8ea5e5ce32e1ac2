package cpu

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Reshape returns a view over the same buffer with a new shape.
func (c *Backend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	if shape.NumElements() != x.NumElements() {
		panic(fmt.Sprintf("reshape: cannot view %v as %v", x.Shape(), shape))
	}
	return x.WithShape(shape)
}

// Transpose permutes dimensions, materializing the result.
// With no axes, all dimensions reverse.
func (c *Backend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	nd := len(shape)
	if len(axes) == 0 {
		axes = make([]int, nd)
		for i := range axes {
			axes[i] = nd - 1 - i
		}
	}
	if len(axes) != nd {
		panic(fmt.Sprintf("transpose: %d axes for %dD tensor", len(axes), nd))
	}
	seen := make([]bool, nd)
	outShape := make(tensor.Shape, nd)
	for i, ax := range axes {
		if ax < 0 || ax >= nd || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for shape %v", axes, shape))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
	}

	result := mustRaw(outShape, x.DType(), c.device)
	elemSize := x.DType().Size()
	src, dst := x.Bytes(), result.Bytes()
	inStrides := shape.Strides()

	coords := make([]int, nd)
	total := x.NumElements()
	for i := 0; i < total; i++ {
		srcIdx := 0
		for j, ax := range axes {
			srcIdx += coords[j] * inStrides[ax]
		}
		copy(dst[i*elemSize:(i+1)*elemSize], src[srcIdx*elemSize:(srcIdx+1)*elemSize])
		advance(coords, outShape)
	}
	return result
}

// Cat concatenates tensors along dim. All shapes must match outside dim.
func (c *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	if dim < 0 {
		dim += len(first)
	}
	catDim := 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: rank mismatch %v vs %v", first, s))
		}
		for i := range s {
			if i != dim && s[i] != first[i] {
				panic(fmt.Sprintf("cat: shape mismatch %v vs %v at axis %d", first, s, i))
			}
		}
		catDim += s[dim]
	}

	outShape := first.Clone()
	outShape[dim] = catDim
	result := mustRaw(outShape, tensors[0].DType(), c.device)

	elemSize := tensors[0].DType().Size()
	inner := 1
	for i := dim + 1; i < len(first); i++ {
		inner *= first[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= first[i]
	}

	dst := result.Bytes()
	rowBytes := catDim * inner * elemSize
	offset := 0
	for _, t := range tensors {
		src := t.Bytes()
		chunk := t.Shape()[dim] * inner * elemSize
		for o := 0; o < outer; o++ {
			copy(dst[o*rowBytes+offset:], src[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return result
}

// Unsqueeze inserts a size-1 axis at dim.
func (c *Backend) Unsqueeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape) + 1
	}
	if dim < 0 || dim > len(shape) {
		panic(fmt.Sprintf("unsqueeze: dim %d out of range for shape %v", dim, shape))
	}
	out := make(tensor.Shape, 0, len(shape)+1)
	out = append(out, shape[:dim]...)
	out = append(out, 1)
	out = append(out, shape[dim:]...)
	return x.WithShape(out)
}

// Squeeze removes a size-1 axis at dim.
func (c *Backend) Squeeze(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) || shape[dim] != 1 {
		panic(fmt.Sprintf("squeeze: axis %d of shape %v is not size 1", dim, shape))
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	out = append(out, shape[:dim]...)
	out = append(out, shape[dim+1:]...)
	return x.WithShape(out)
}

// Expand broadcasts x to shape, materializing the result.
func (c *Backend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	outShape, _, err := tensor.Broadcast(x.Shape(), shape)
	if err != nil || !outShape.Equal(shape) {
		panic(fmt.Sprintf("expand: cannot broadcast %v to %v", x.Shape(), shape))
	}
	result := mustRaw(shape, x.DType(), c.device)
	elemSize := x.DType().Size()
	src, dst := x.Bytes(), result.Bytes()
	idx := newBroadcastIndexer(x.Shape(), shape)
	coords := make([]int, len(shape))
	total := shape.NumElements()
	for i := 0; i < total; i++ {
		j := idx.at(coords)
		copy(dst[i*elemSize:(i+1)*elemSize], src[j*elemSize:(j+1)*elemSize])
		advance(coords, shape)
	}
	return result
}

// Embedding gathers rows of weight by integer indices.
// weight: [vocab, dim], indices: [...] int32/int64 -> [..., dim].
func (c *Backend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	ws := weight.Shape()
	if len(ws) != 2 {
		panic(fmt.Sprintf("embedding: weight must be 2D, got %v", ws))
	}
	vocab, dim := ws[0], ws[1]

	var idx []int
	switch indices.DType() {
	case tensor.Int32:
		for _, v := range indices.AsInt32() {
			idx = append(idx, int(v))
		}
	case tensor.Int64:
		for _, v := range indices.AsInt64() {
			idx = append(idx, int(v))
		}
	default:
		panic(fmt.Sprintf("embedding: indices must be integer, got %s", indices.DType()))
	}

	outShape := append(indices.Shape().Clone(), dim)
	result := mustRaw(outShape, weight.DType(), c.device)
	w, out := weight.AsFloat32(), result.AsFloat32()
	for i, id := range idx {
		if id < 0 || id >= vocab {
			panic(fmt.Sprintf("embedding: index %d out of range [0, %d)", id, vocab))
		}
		copy(out[i*dim:(i+1)*dim], w[id*dim:(id+1)*dim])
	}
	return result
}
