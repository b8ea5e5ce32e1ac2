// Package cpu implements the tensor.Backend contract for the host CPU.
//
// Dense linear algebra routes through gonum's BLAS (blas32); everything
// else is straightforward Go over flat slices.
package cpu

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Backend is the CPU implementation of tensor.Backend.
type Backend struct {
	device tensor.Device
}

// New creates a CPU backend.
func New() *Backend {
	return &Backend{device: tensor.CPU}
}

// Name returns the backend name.
func (c *Backend) Name() string { return "CPU" }

// Device returns the compute device.
func (c *Backend) Device() tensor.Device { return c.device }

// Add performs element-wise addition with broadcasting.
func (c *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (c *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (c *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (c *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// binary applies op element-wise, expanding operands as needed.
func (c *Backend) binary(name string, a, b *tensor.RawTensor, op func(x, y float32) float32) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtypes %s, %s", name, a.DType(), b.DType()))
	}
	outShape, expand, err := tensor.Broadcast(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, tensor.Float32, c.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	out := result.AsFloat32()

	if !expand && a.Shape().Equal(b.Shape()) {
		// Fast path: identical layouts.
		ad, bd := a.AsFloat32(), b.AsFloat32()
		for i := range out {
			out[i] = op(ad[i], bd[i])
		}
		return result
	}

	ad, bd := a.AsFloat32(), b.AsFloat32()
	aIdx := newBroadcastIndexer(a.Shape(), outShape)
	bIdx := newBroadcastIndexer(b.Shape(), outShape)
	coords := make([]int, len(outShape))
	for i := range out {
		out[i] = op(ad[aIdx.at(coords)], bd[bIdx.at(coords)])
		advance(coords, outShape)
	}
	return result
}

// broadcastIndexer maps output coordinates to a flat index of a (possibly
// smaller) operand, with stride 0 on broadcast axes.
type broadcastIndexer struct {
	strides []int
}

func newBroadcastIndexer(in, out tensor.Shape) broadcastIndexer {
	strides := make([]int, len(out))
	inStrides := in.Strides()
	offset := len(out) - len(in)
	for i := range out {
		j := i - offset
		if j < 0 || in[j] == 1 {
			strides[i] = 0
		} else {
			strides[i] = inStrides[j]
		}
	}
	return broadcastIndexer{strides: strides}
}

func (bi broadcastIndexer) at(coords []int) int {
	idx := 0
	for i, c := range coords {
		idx += c * bi.strides[i]
	}
	return idx
}

// advance increments coords as a row-major odometer over shape.
func advance(coords []int, shape tensor.Shape) {
	for i := len(coords) - 1; i >= 0; i-- {
		coords[i]++
		if coords[i] < shape[i] {
			return
		}
		coords[i] = 0
	}
}

// AddScalar adds a scalar to every element.
func (c *Backend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp("addscalar", x, scalar, func(v, s float32) float32 { return v + s })
}

// MulScalar multiplies every element by a scalar.
func (c *Backend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return c.scalarOp("mulscalar", x, scalar, func(v, s float32) float32 { return v * s })
}

func (c *Backend) scalarOp(name string, x *tensor.RawTensor, scalar any, op func(v, s float32) float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	var s float32
	switch v := scalar.(type) {
	case float32:
		s = v
	case float64:
		s = float32(v)
	case int:
		s = float32(v)
	default:
		panic(fmt.Sprintf("%s: unsupported scalar type %T", name, scalar))
	}
	result := mustRaw(x.Shape(), tensor.Float32, c.device)
	in, out := x.AsFloat32(), result.AsFloat32()
	for i := range in {
		out[i] = op(in[i], s)
	}
	return result
}

// Cast converts element types.
func (c *Backend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}
	result := mustRaw(x.Shape(), dtype, c.device)
	switch {
	case x.DType() == tensor.Int32 && dtype == tensor.Float32:
		in, out := x.AsInt32(), result.AsFloat32()
		for i := range in {
			out[i] = float32(in[i])
		}
	case x.DType() == tensor.Int64 && dtype == tensor.Float32:
		in, out := x.AsInt64(), result.AsFloat32()
		for i := range in {
			out[i] = float32(in[i])
		}
	case x.DType() == tensor.Int64 && dtype == tensor.Int32:
		in, out := x.AsInt64(), result.AsInt32()
		for i := range in {
			out[i] = int32(in[i])
		}
	case x.DType() == tensor.Int32 && dtype == tensor.Int64:
		in, out := x.AsInt32(), result.AsInt64()
		for i := range in {
			out[i] = int64(in[i])
		}
	case x.DType() == tensor.Float32 && dtype == tensor.Int32:
		in, out := x.AsFloat32(), result.AsInt32()
		for i := range in {
			out[i] = int32(in[i])
		}
	case x.DType() == tensor.Float64 && dtype == tensor.Float32:
		in, out := x.AsFloat64(), result.AsFloat32()
		for i := range in {
			out[i] = float32(in[i])
		}
	case x.DType() == tensor.Bool && dtype == tensor.Float32:
		in, out := x.AsBool(), result.AsFloat32()
		for i := range in {
			if in[i] {
				out[i] = 1
			}
		}
	default:
		panic(fmt.Sprintf("cast: unsupported conversion %s -> %s", x.DType(), dtype))
	}
	return result
}

// mustRaw allocates or panics; shapes entering backend ops are validated.
func mustRaw(shape tensor.Shape, dtype tensor.DataType, device tensor.Device) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}
