package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// MatMul performs 2D matrix multiplication through BLAS SGEMM.
// [M, K] @ [K, N] -> [M, N].
func (c *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: need 2D tensors, got %dD and %dD", len(aShape), len(bShape)))
	}
	m, k := aShape[0], aShape[1]
	k2, n := bShape[0], bShape[1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, k2, n))
	}
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("matmul: unsupported dtypes %s, %s", a.DType(), b.DType()))
	}

	result := mustRaw(tensor.Shape{m, n}, tensor.Float32, c.device)
	gemm(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n)
	return result
}

// BatchMatMul multiplies matching batches of matrices.
// 3D: [B, M, K] @ [B, K, N] -> [B, M, N]
// 4D: [B, H, M, K] @ [B, H, K, N] -> [B, H, M, N].
func (c *Backend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != len(bShape) || (len(aShape) != 3 && len(aShape) != 4) {
		panic(fmt.Sprintf("batchmatmul: need matching 3D or 4D tensors, got %v and %v", aShape, bShape))
	}
	nd := len(aShape)
	batch := 1
	for i := 0; i < nd-2; i++ {
		if aShape[i] != bShape[i] {
			panic(fmt.Sprintf("batchmatmul: batch dims differ: %v vs %v", aShape, bShape))
		}
		batch *= aShape[i]
	}
	m, k := aShape[nd-2], aShape[nd-1]
	k2, n := bShape[nd-2], bShape[nd-1]
	if k != k2 {
		panic(fmt.Sprintf("batchmatmul: inner dims differ: %v @ %v", aShape, bShape))
	}

	outShape := aShape.Clone()
	outShape[nd-1] = n
	result := mustRaw(outShape, tensor.Float32, c.device)

	ad, bd, out := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
	for i := 0; i < batch; i++ {
		gemm(out[i*m*n:(i+1)*m*n], ad[i*m*k:(i+1)*m*k], bd[i*k*n:(i+1)*k*n], m, k, n)
	}
	return result
}

// gemm computes c = a @ b for row-major float32 buffers.
func gemm(c, a, b []float32, m, k, n int) {
	am := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	cm := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, am, bm, 0, cm)
}
