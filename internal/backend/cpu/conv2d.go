package cpu

import (
	"fmt"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Conv2D performs 2D convolution on NCHW input via im2col + SGEMM.
//
// input:  [batch, in_ch, H, W]
// kernel: [out_ch, in_ch, kH, kW]
// output: [batch, out_ch, outH, outW] with
//
//	outH = (H + 2*padding - kH)/stride + 1
//	outW = (W + 2*padding - kW)/stride + 1
func (c *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	in, kr := input.Shape(), kernel.Shape()
	if len(in) != 4 || len(kr) != 4 {
		panic(fmt.Sprintf("conv2d: need 4D input and kernel, got %v and %v", in, kr))
	}
	batch, inCh, h, w := in[0], in[1], in[2], in[3]
	outCh, kInCh, kh, kw := kr[0], kr[1], kr[2], kr[3]
	if inCh != kInCh {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", inCh, kInCh))
	}
	outH := (h+2*padding-kh)/stride + 1
	outW := (w+2*padding-kw)/stride + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("conv2d: output would be empty for input %v kernel %v", in, kr))
	}

	result := mustRaw(tensor.Shape{batch, outCh, outH, outW}, tensor.Float32, c.device)
	src, dst, kd := input.AsFloat32(), result.AsFloat32(), kernel.AsFloat32()

	// im2col buffer for one image: [in_ch*kh*kw, outH*outW].
	colRows := inCh * kh * kw
	colCols := outH * outW
	col := make([]float32, colRows*colCols)

	for b := 0; b < batch; b++ {
		img := src[b*inCh*h*w:]
		row := 0
		for ci := 0; ci < inCh; ci++ {
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					dest := col[row*colCols:]
					i := 0
					for oy := 0; oy < outH; oy++ {
						sy := oy*stride + ky - padding
						for ox := 0; ox < outW; ox++ {
							sx := ox*stride + kx - padding
							if sy >= 0 && sy < h && sx >= 0 && sx < w {
								dest[i] = img[ci*h*w+sy*w+sx]
							} else {
								dest[i] = 0
							}
							i++
						}
					}
					row++
				}
			}
		}
		// [out_ch, colRows] @ [colRows, colCols] -> [out_ch, colCols]
		gemm(dst[b*outCh*colCols:(b+1)*outCh*colCols], kd, col, outCh, colRows, colCols)
	}
	return result
}

// Upsample2D resizes NCHW input to (outH, outW) with bilinear
// interpolation and align_corners=false semantics.
func (c *Backend) Upsample2D(input *tensor.RawTensor, outH, outW int) *tensor.RawTensor {
	in := input.Shape()
	if len(in) != 4 {
		panic(fmt.Sprintf("upsample2d: need 4D input, got %v", in))
	}
	batch, ch, h, w := in[0], in[1], in[2], in[3]
	result := mustRaw(tensor.Shape{batch, ch, outH, outW}, tensor.Float32, c.device)
	src, dst := input.AsFloat32(), result.AsFloat32()

	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for b := 0; b < batch; b++ {
		for ci := 0; ci < ch; ci++ {
			plane := src[(b*ch+ci)*h*w:]
			out := dst[(b*ch+ci)*outH*outW:]
			for oy := 0; oy < outH; oy++ {
				fy := (float64(oy)+0.5)*scaleY - 0.5
				if fy < 0 {
					fy = 0
				}
				y0 := int(fy)
				y1 := y0 + 1
				if y1 > h-1 {
					y1 = h - 1
				}
				wy := float32(fy - float64(y0))
				for ox := 0; ox < outW; ox++ {
					fx := (float64(ox)+0.5)*scaleX - 0.5
					if fx < 0 {
						fx = 0
					}
					x0 := int(fx)
					x1 := x0 + 1
					if x1 > w-1 {
						x1 = w - 1
					}
					wx := float32(fx - float64(x0))

					top := plane[y0*w+x0]*(1-wx) + plane[y0*w+x1]*wx
					bot := plane[y1*w+x0]*(1-wx) + plane[y1*w+x1]*wx
					out[oy*outW+ox] = top*(1-wy) + bot*wy
				}
			}
		}
	}
	return result
}
