package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/wastenet/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Example:
//
//	layer := nn.NewLinear(64, 32, rng)
//	output := layer.Forward(input)  // [batch, 64] -> [batch, 32]
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]

	input *tensor.Tensor
}

// NewLinear creates a new Linear layer with KaimingUniform weights and bias.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	weight := KaimingUniform(inFeatures, tensor.Shape{outFeatures, inFeatures}, rng)
	bias := KaimingUniform(inFeatures, tensor.Shape{outFeatures}, rng)

	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("linear.weight", weight),
		bias:        NewParameter("linear.bias", bias),
	}
}

// NewLinearFromWeights wraps existing weight [out, in] and bias [out]
// tensors in a Linear layer. The tensors are shared, not copied.
func NewLinearFromWeights(weight, bias *tensor.Tensor) (*Linear, error) {
	ws := weight.Shape()
	if len(ws) != 2 {
		return nil, fmt.Errorf("linear: weight must be [out, in], got %v", ws)
	}
	if !bias.Shape().Equal(tensor.Shape{ws[0]}) {
		return nil, fmt.Errorf("linear: bias shape %v does not match %d outputs", bias.Shape(), ws[0])
	}
	return &Linear{
		inFeatures:  ws[1],
		outFeatures: ws[0],
		weight:      NewParameter("linear.weight", weight),
		bias:        NewParameter("linear.bias", bias),
	}, nil
}

// Forward computes y = x @ W.T + b.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected input [batch, %d], got %v", l.inFeatures, shape))
	}
	n := shape[0]

	output := tensor.Zeros(tensor.Shape{n, l.outFeatures})
	out := output.Data()
	bias := l.bias.Tensor().Data()
	for i := 0; i < n; i++ {
		copy(out[i*l.outFeatures:(i+1)*l.outFeatures], bias)
	}
	gemm(false, true, n, l.outFeatures, l.inFeatures, 1, input.Data(), l.weight.Tensor().Data(), 1, out)

	l.input = input
	return output
}

// Backward accumulates dW = dy.T @ x and db = sum(dy), and returns dy @ W.
func (l *Linear) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if l.input == nil {
		panic("linear: Backward called before Forward")
	}
	n := l.input.Shape()[0]
	dy := gradOutput.Data()

	gemm(true, false, l.outFeatures, l.inFeatures, n, 1, dy, l.input.Data(), 1, l.weight.Grad().Data())

	db := l.bias.Grad().Data()
	for i := 0; i < n; i++ {
		for j := 0; j < l.outFeatures; j++ {
			db[j] += dy[i*l.outFeatures+j]
		}
	}

	gradInput := tensor.Zeros(tensor.Shape{n, l.inFeatures})
	gemm(false, false, n, l.inFeatures, l.outFeatures, 1, dy, l.weight.Tensor().Data(), 0, gradInput.Data())
	return gradInput
}

// Parameters returns weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// State returns the weight and bias tensors.
func (l *Linear) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight": l.weight.Tensor(),
		"bias":   l.bias.Tensor(),
	}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// String returns a string representation of the layer.
func (l *Linear) String() string {
	return fmt.Sprintf("Linear(in=%d, out=%d)", l.inFeatures, l.outFeatures)
}
