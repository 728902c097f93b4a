package nn

import (
	"github.com/born-ml/wastenet/internal/tensor"
)

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
//
// Example:
//
//	relu := nn.NewReLU()
//	output := relu.Forward(input)  // All negative values become 0
type ReLU struct {
	mask []bool
}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	output := input.Clone()
	data := output.Data()
	mask := make([]bool, len(data))
	for i, v := range data {
		if v > 0 {
			mask[i] = true
		} else {
			data[i] = 0
		}
	}
	r.mask = mask
	return output
}

// Backward passes the gradient through where the input was positive.
func (r *ReLU) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if r.mask == nil {
		panic("relu: Backward called before Forward")
	}
	gradInput := gradOutput.Clone()
	data := gradInput.Data()
	for i, on := range r.mask {
		if !on {
			data[i] = 0
		}
	}
	return gradInput
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return []*Parameter{}
}

// String returns a string representation of the layer.
func (r *ReLU) String() string {
	return "ReLU()"
}
