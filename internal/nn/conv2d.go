package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/wastenet/internal/parallel"
	"github.com/born-ml/wastenet/internal/tensor"
)

// Conv2D is a 2D convolutional layer with a square kernel and bias.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// Each sample is lowered with im2col into a [in_channels*k*k, out_h*out_w]
// matrix and multiplied by the weight matrix; samples run in parallel.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter // [out_channels, in_channels, kernel, kernel]
	bias   *Parameter // [out_channels]

	input *tensor.Tensor // cached for Backward
}

// NewConv2D creates a new 2D convolutional layer.
//
// Weights and bias are drawn from KaimingUniform with
// fan_in = in_channels * kernel * kernel.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	fanIn := inChannels * kernelSize * kernelSize
	weight := KaimingUniform(fanIn, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, rng)
	bias := KaimingUniform(fanIn, tensor.Shape{outChannels}, rng)

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("conv2d.weight", weight),
		bias:        NewParameter("conv2d.bias", bias),
	}
}

// NewConv2DFromWeights wraps existing weight [out, in, k, k] and bias [out]
// tensors in a Conv2D. The tensors are shared, not copied.
func NewConv2DFromWeights(weight, bias *tensor.Tensor, stride, padding int) (*Conv2D, error) {
	ws := weight.Shape()
	if len(ws) != 4 || ws[2] != ws[3] {
		return nil, fmt.Errorf("conv2d: weight must be [out, in, k, k], got %v", ws)
	}
	if !bias.Shape().Equal(tensor.Shape{ws[0]}) {
		return nil, fmt.Errorf("conv2d: bias shape %v does not match %d output channels", bias.Shape(), ws[0])
	}
	if stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv2d: invalid stride %d or padding %d", stride, padding)
	}
	return &Conv2D{
		inChannels:  ws[1],
		outChannels: ws[0],
		kernelSize:  ws[2],
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("conv2d.weight", weight),
		bias:        NewParameter("conv2d.bias", bias),
	}, nil
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", shape[1], c.inChannels))
	}

	n, h, w := shape[0], shape[2], shape[3]
	outSize := c.ComputeOutputSize(h, w)
	outH, outW := outSize[0], outSize[1]
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d", outH, outW))
	}

	output := tensor.Zeros(tensor.Shape{n, c.outChannels, outH, outW})

	spatial := outH * outW
	colLen := c.inChannels * c.kernelSize * c.kernelSize
	inStride := c.inChannels * h * w
	outStride := c.outChannels * spatial

	in := input.Data()
	out := output.Data()
	weight := c.weight.Tensor().Data()
	bias := c.bias.Tensor().Data()

	parallel.For(n, func(i int) {
		col := make([]float32, colLen*spatial)
		c.im2col(col, in[i*inStride:(i+1)*inStride], h, w, outH, outW)

		o := out[i*outStride : (i+1)*outStride]
		for oc := 0; oc < c.outChannels; oc++ {
			row := o[oc*spatial : (oc+1)*spatial]
			for j := range row {
				row[j] = bias[oc]
			}
		}
		gemm(false, false, c.outChannels, spatial, colLen, 1, weight, col, 1, o)
	}, parallel.CoarseConfig())

	c.input = input
	return output
}

// Backward computes weight, bias and input gradients for the last Forward.
func (c *Conv2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if c.input == nil {
		panic("conv2d: Backward called before Forward")
	}

	shape := c.input.Shape()
	n, h, w := shape[0], shape[2], shape[3]
	gshape := gradOutput.Shape()
	outH, outW := gshape[2], gshape[3]

	spatial := outH * outW
	colLen := c.inChannels * c.kernelSize * c.kernelSize
	inStride := c.inChannels * h * w
	outStride := c.outChannels * spatial

	gradInput := tensor.Zeros(shape)
	in := c.input.Data()
	gin := gradInput.Data()
	gout := gradOutput.Data()
	weight := c.weight.Tensor().Data()

	// Per-sample weight gradients are reduced after the parallel section.
	partials := make([][]float32, n)

	parallel.For(n, func(i int) {
		col := make([]float32, colLen*spatial)
		c.im2col(col, in[i*inStride:(i+1)*inStride], h, w, outH, outW)
		g := gout[i*outStride : (i+1)*outStride]

		dw := make([]float32, c.outChannels*colLen)
		gemm(false, true, c.outChannels, colLen, spatial, 1, g, col, 0, dw)
		partials[i] = dw

		dcol := col // reuse: col is no longer needed
		gemm(true, false, colLen, spatial, c.outChannels, 1, weight, g, 0, dcol)
		c.col2im(gin[i*inStride:(i+1)*inStride], dcol, h, w, outH, outW)
	}, parallel.CoarseConfig())

	gw := c.weight.Grad().Data()
	for _, dw := range partials {
		for j, v := range dw {
			gw[j] += v
		}
	}

	gb := c.bias.Grad().Data()
	for i := 0; i < n; i++ {
		for oc := 0; oc < c.outChannels; oc++ {
			row := gout[i*outStride+oc*spatial : i*outStride+(oc+1)*spatial]
			var sum float32
			for _, v := range row {
				sum += v
			}
			gb[oc] += sum
		}
	}

	return gradInput
}

// im2col lowers one sample [C, H, W] into col [C*K*K, outH*outW].
func (c *Conv2D) im2col(col, in []float32, h, w, outH, outW int) {
	k := c.kernelSize
	spatial := outH * outW
	for ch := 0; ch < c.inChannels; ch++ {
		plane := in[ch*h*w : (ch+1)*h*w]
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((ch*k+kh)*k+kw)*spatial:]
				for oh := 0; oh < outH; oh++ {
					ih := oh*c.stride - c.padding + kh
					for ow := 0; ow < outW; ow++ {
						iw := ow*c.stride - c.padding + kw
						v := float32(0)
						if ih >= 0 && ih < h && iw >= 0 && iw < w {
							v = plane[ih*w+iw]
						}
						row[oh*outW+ow] = v
					}
				}
			}
		}
	}
}

// col2im scatters col [C*K*K, outH*outW] back into one sample [C, H, W],
// summing overlapping contributions.
func (c *Conv2D) col2im(dst, col []float32, h, w, outH, outW int) {
	k := c.kernelSize
	spatial := outH * outW
	for ch := 0; ch < c.inChannels; ch++ {
		plane := dst[ch*h*w : (ch+1)*h*w]
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((ch*k+kh)*k+kw)*spatial:]
				for oh := 0; oh < outH; oh++ {
					ih := oh*c.stride - c.padding + kh
					if ih < 0 || ih >= h {
						continue
					}
					for ow := 0; ow < outW; ow++ {
						iw := ow*c.stride - c.padding + kw
						if iw < 0 || iw >= w {
							continue
						}
						plane[ih*w+iw] += row[oh*outW+ow]
					}
				}
			}
		}
	}
}

// Parameters returns all trainable parameters.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// State returns the weight and bias tensors.
func (c *Conv2D) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight": c.weight.Tensor(),
		"bias":   c.bias.Tensor(),
	}
}

// Weight returns the weight parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// Stride returns the stride.
func (c *Conv2D) Stride() int {
	return c.stride
}

// Padding returns the padding.
func (c *Conv2D) Padding() int {
	return c.padding
}

// KernelSize returns the kernel size.
func (c *Conv2D) KernelSize() int {
	return c.kernelSize
}

// ComputeOutputSize computes output spatial dimensions for given input size.
//
// Returns: [out_height, out_width].
func (c *Conv2D) ComputeOutputSize(inputH, inputW int) [2]int {
	outH := (inputH+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputW+2*c.padding-c.kernelSize)/c.stride + 1
	return [2]int{outH, outW}
}

// String returns a string representation of the layer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=%d, padding=%d)",
		c.inChannels, c.outChannels, c.kernelSize, c.kernelSize, c.stride, c.padding)
}
