package cpu

import (
	"fmt"
	"math"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Exp applies the element-wise exponential.
func (c *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log applies the element-wise natural logarithm.
func (c *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("log", x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt applies the element-wise square root.
func (c *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Tanh applies the element-wise hyperbolic tangent.
func (c *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("tanh", x, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// ReLU applies max(0, x). Exposed through the nn capability interface.
func (c *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("relu", x, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Sigmoid applies 1/(1+exp(-x)).
func (c *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary("sigmoid", x, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func (c *Backend) GELU(x *tensor.RawTensor) *tensor.RawTensor {
	const k = 0.7978845608028654 // sqrt(2/pi)
	return c.unary("gelu", x, func(v float32) float32 {
		f := float64(v)
		return float32(0.5 * f * (1.0 + math.Tanh(k*(f+0.044715*f*f*f))))
	})
}

func (c *Backend) unary(name string, x *tensor.RawTensor, op func(float32) float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	result := mustRaw(x.Shape(), tensor.Float32, c.device)
	in, out := x.AsFloat32(), result.AsFloat32()
	for i := range in {
		out[i] = op(in[i])
	}
	return result
}

// Softmax normalizes along dim with the usual max subtraction for
// numerical stability. Negative dims count from the end.
func (c *Backend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("softmax: dim out of range for shape %v", shape))
	}
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("softmax: unsupported dtype %s", x.DType()))
	}

	result := mustRaw(shape, tensor.Float32, c.device)
	in, out := x.AsFloat32(), result.AsFloat32()

	n := shape[dim]
	inner := 1
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := x.NumElements() / (n * inner)

	for o := 0; o < outer; o++ {
		for iN := 0; iN < inner; iN++ {
			base := o*n*inner + iN

			maxV := in[base]
			for j := 1; j < n; j++ {
				if v := in[base+j*inner]; v > maxV {
					maxV = v
				}
			}
			var sum float64
			for j := 0; j < n; j++ {
				e := math.Exp(float64(in[base+j*inner] - maxV))
				out[base+j*inner] = float32(e)
				sum += e
			}
			for j := 0; j < n; j++ {
				out[base+j*inner] = float32(float64(out[base+j*inner]) / sum)
			}
		}
	}
	return result
}
