package onnx

import (
	internalonnx "github.com/born-ml/wastenet/internal/onnx"
	"github.com/born-ml/wastenet/internal/tensor"
)

// Model represents a loaded ONNX model ready for inference.
//
// This interface hides the internal implementation and allows for:
//   - Easy mocking in tests
//   - Decoupling from internal package structure
//
// Forward is not safe for concurrent use.
type Model interface {
	// Forward runs the graph on a [batch, 3, H, W] input and returns the
	// graph output.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)

	// InputNames returns the names of model inputs.
	InputNames() []string

	// OutputNames returns the names of model outputs.
	OutputNames() []string

	// OpsetVersion returns the ONNX opset version.
	OpsetVersion() int64

	// Metadata returns model metadata as key-value pairs.
	Metadata() map[string]string
}

var _ Model = (*internalonnx.Model)(nil)
