// Package nn implements the layers, loss and state handling of the waste
// classifier.
//
// This package provides building blocks for constructing the network:
//   - Module interface: Forward/Backward pair with cached activations
//   - Parameter: Trainable tensor with an accumulated gradient
//   - Conv2D, BatchNorm2D, ReLU, GlobalAvgPool2D, Flatten, Linear
//   - CrossEntropyLoss with optional per-class weights
//   - Sequential: Named container with state dict support
//
// Design inspired by PyTorch's nn.Module. Gradients are computed by each
// layer's Backward from the activations cached during Forward, so Backward
// must follow the Forward it differentiates.
package nn

import (
	"github.com/born-ml/wastenet/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input and cache what Backward needs
//   - Backward: Accumulate parameter gradients and return the input gradient
//   - Parameters: Return all trainable parameters
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Backward receives dL/dOutput for the most recent Forward call,
	// adds dL/dParam into each parameter's gradient and returns dL/dInput.
	Backward(gradOutput *tensor.Tensor) *tensor.Tensor

	// Parameters returns all trainable parameters of this module.
	// Returns an empty slice for modules without trainable parameters.
	Parameters() []*Parameter
}

// ModeSetter is implemented by modules whose behavior differs between
// training and evaluation (BatchNorm2D).
type ModeSetter interface {
	SetTraining(training bool)
}

// Stateful is implemented by modules that contribute tensors to a state
// dict. The returned tensors are live: writing to them changes the module.
type Stateful interface {
	State() map[string]*tensor.Tensor
}
