// Package model defines the waste classification network.
package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/tensor"
)

// BatchNorm hyperparameters shared by both normalization layers.
const (
	BNEps      = 1e-5
	BNMomentum = 0.1
)

// WasteClassifier is a small convolutional network for RGB images.
//
// Architecture:
//
//	Input: [batch, 3, H, W]
//	Conv1: 3 → 32 channels, 3x3 kernel, padding 1 -> [batch, 32, H, W]
//	BatchNorm + ReLU
//	Conv2: 32 → 64 channels, 3x3 kernel, padding 1 -> [batch, 64, H, W]
//	BatchNorm + ReLU
//	GlobalAvgPool -> [batch, 64, 1, 1]
//	Flatten -> [batch, 64]
//	FC1: 64 → 32
//	ReLU
//	FC2: 32 → numClasses (raw logits)
//
// Global average pooling makes the network independent of the input
// resolution.
type WasteClassifier struct {
	numClasses int

	conv1 *nn.Conv2D
	bn1   *nn.BatchNorm2D
	conv2 *nn.Conv2D
	bn2   *nn.BatchNorm2D
	fc1   *nn.Linear
	fc2   *nn.Linear

	seq *nn.Sequential
}

// New creates a WasteClassifier with freshly initialized weights drawn
// from rng.
func New(numClasses int, rng *rand.Rand) *WasteClassifier {
	if numClasses <= 0 {
		panic(fmt.Sprintf("model: invalid class count %d", numClasses))
	}
	m := &WasteClassifier{
		numClasses: numClasses,
		conv1:      nn.NewConv2D(3, 32, 3, 1, 1, rng),
		bn1:        nn.NewBatchNorm2D(32, BNEps, BNMomentum),
		conv2:      nn.NewConv2D(32, 64, 3, 1, 1, rng),
		bn2:        nn.NewBatchNorm2D(64, BNEps, BNMomentum),
		fc1:        nn.NewLinear(64, 32, rng),
		fc2:        nn.NewLinear(32, numClasses, rng),
	}
	m.seq = nn.NewSequential().
		Add("conv1", m.conv1).
		Add("bn1", m.bn1).
		Add("", nn.NewReLU()).
		Add("conv2", m.conv2).
		Add("bn2", m.bn2).
		Add("", nn.NewReLU()).
		Add("", nn.NewGlobalAvgPool2D()).
		Add("", nn.NewFlatten()).
		Add("fc1", m.fc1).
		Add("", nn.NewReLU()).
		Add("fc2", m.fc2)
	return m
}

// Forward maps a [batch, 3, H, W] image batch to [batch, numClasses] logits.
func (m *WasteClassifier) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != 3 {
		panic(fmt.Sprintf("model: expected input [batch, 3, H, W], got %v", shape))
	}
	return m.seq.Forward(input)
}

// Backward propagates the logit gradient through the network, accumulating
// parameter gradients. It must follow a training-mode Forward.
func (m *WasteClassifier) Backward(gradLogits *tensor.Tensor) *tensor.Tensor {
	return m.seq.Backward(gradLogits)
}

// Parameters returns all trainable parameters.
func (m *WasteClassifier) Parameters() []*nn.Parameter {
	return m.seq.Parameters()
}

// SetTraining switches BatchNorm between batch statistics (true) and
// running estimates (false).
func (m *WasteClassifier) SetTraining(training bool) {
	m.seq.SetTraining(training)
}

// IsTraining reports whether the model is in training mode.
func (m *WasteClassifier) IsTraining() bool {
	return m.bn1.IsTraining()
}

// State returns the live parameter and buffer tensors keyed by
// "layer.name", e.g. "conv1.weight" or "bn2.running_var".
func (m *WasteClassifier) State() map[string]*tensor.Tensor {
	return m.seq.State()
}

// StateDict returns a deep copy of all parameters and buffers.
func (m *WasteClassifier) StateDict() map[string]*tensor.Tensor {
	return nn.StateDict(m)
}

// LoadStateDict overwrites parameters and buffers from sd.
func (m *WasteClassifier) LoadStateDict(sd map[string]*tensor.Tensor) error {
	if err := nn.LoadStateDict(m, sd); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return nil
}

// NumClasses returns the size of the output layer.
func (m *WasteClassifier) NumClasses() int {
	return m.numClasses
}

// NumParameters returns the number of trainable scalars.
func (m *WasteClassifier) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

// Conv1 returns the first convolution.
func (m *WasteClassifier) Conv1() *nn.Conv2D { return m.conv1 }

// BN1 returns the first batch normalization.
func (m *WasteClassifier) BN1() *nn.BatchNorm2D { return m.bn1 }

// Conv2 returns the second convolution.
func (m *WasteClassifier) Conv2() *nn.Conv2D { return m.conv2 }

// BN2 returns the second batch normalization.
func (m *WasteClassifier) BN2() *nn.BatchNorm2D { return m.bn2 }

// FC1 returns the hidden fully connected layer.
func (m *WasteClassifier) FC1() *nn.Linear { return m.fc1 }

// FC2 returns the output layer.
func (m *WasteClassifier) FC2() *nn.Linear { return m.fc2 }

// String returns a summary of the architecture.
func (m *WasteClassifier) String() string {
	return fmt.Sprintf("WasteClassifier(classes=%d, params=%d)\n%v", m.numClasses, m.NumParameters(), m.seq)
}
