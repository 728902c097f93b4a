package nn

import (
	"fmt"

	"github.com/born-ml/wastenet/internal/tensor"
)

// GlobalAvgPool2D averages each channel's spatial map to a single value.
//
// Input: [N, C, H, W] -> Output: [N, C, 1, 1]
type GlobalAvgPool2D struct {
	inputShape tensor.Shape
}

// NewGlobalAvgPool2D creates a global average pooling layer.
func NewGlobalAvgPool2D() *GlobalAvgPool2D {
	return &GlobalAvgPool2D{}
}

// Forward averages over H and W.
func (g *GlobalAvgPool2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("globalavgpool2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	n, c := shape[0], shape[1]
	spatial := shape[2] * shape[3]

	output := tensor.Zeros(tensor.Shape{n, c, 1, 1})
	in := input.Data()
	out := output.Data()
	for i := 0; i < n*c; i++ {
		var sum float32
		for _, v := range in[i*spatial : (i+1)*spatial] {
			sum += v
		}
		out[i] = sum / float32(spatial)
	}

	g.inputShape = shape.Clone()
	return output
}

// Backward spreads each channel's gradient evenly over its spatial map.
func (g *GlobalAvgPool2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if g.inputShape == nil {
		panic("globalavgpool2d: Backward called before Forward")
	}
	n, c := g.inputShape[0], g.inputShape[1]
	spatial := g.inputShape[2] * g.inputShape[3]

	gradInput := tensor.Zeros(g.inputShape)
	dx := gradInput.Data()
	dy := gradOutput.Data()
	for i := 0; i < n*c; i++ {
		v := dy[i] / float32(spatial)
		for j := i * spatial; j < (i+1)*spatial; j++ {
			dx[j] = v
		}
	}
	return gradInput
}

// Parameters returns an empty slice.
func (g *GlobalAvgPool2D) Parameters() []*Parameter {
	return []*Parameter{}
}

// String returns a string representation of the layer.
func (g *GlobalAvgPool2D) String() string {
	return "GlobalAvgPool2D(output_size=1)"
}

// Flatten collapses every dimension after the batch dimension.
//
// Input: [N, d1, d2, ...] -> Output: [N, d1*d2*...]
type Flatten struct {
	inputShape tensor.Shape
}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Forward reshapes input to 2D. The output shares storage with input.
func (f *Flatten) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	f.inputShape = shape.Clone()
	return input.Reshape(shape[0], shape.NumElements()/shape[0])
}

// Backward restores the input shape.
func (f *Flatten) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	return gradOutput.Reshape(f.inputShape...)
}

// Parameters returns an empty slice.
func (f *Flatten) Parameters() []*Parameter {
	return []*Parameter{}
}

// String returns a string representation of the layer.
func (f *Flatten) String() string {
	return "Flatten()"
}
