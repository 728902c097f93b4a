package model

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/wastenet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestWasteClassifier_OutputShape(t *testing.T) {
	m := New(9, newRNG())
	for _, batch := range []int{1, 2} {
		out := m.Forward(tensor.Randn(tensor.Shape{batch, 3, 128, 128}, newRNG()))
		assert.Equal(t, tensor.Shape{batch, 9}, out.Shape())
	}

	m.SetTraining(false)
	out := m.Forward(tensor.Randn(tensor.Shape{1, 3, 128, 128}, newRNG()))
	assert.Equal(t, tensor.Shape{1, 9}, out.Shape())
}

func TestWasteClassifier_ResolutionIndependent(t *testing.T) {
	m := New(4, newRNG())
	out := m.Forward(tensor.Randn(tensor.Shape{3, 3, 16, 20}, newRNG()))
	assert.Equal(t, tensor.Shape{3, 4}, out.Shape())
}

func TestWasteClassifier_NumParameters(t *testing.T) {
	m := New(9, newRNG())
	want := (3*32*9 + 32) + (32 + 32) +
		(32*64*9 + 64) + (64 + 64) +
		(64*32 + 32) + (32*9 + 9)
	assert.Equal(t, want, m.NumParameters())
}

func TestWasteClassifier_StateDictKeys(t *testing.T) {
	sd := New(9, newRNG()).StateDict()
	for _, key := range []string{
		"conv1.weight", "conv1.bias",
		"bn1.weight", "bn1.bias", "bn1.running_mean", "bn1.running_var",
		"conv2.weight", "conv2.bias",
		"bn2.weight", "bn2.bias", "bn2.running_mean", "bn2.running_var",
		"fc1.weight", "fc1.bias", "fc2.weight", "fc2.bias",
	} {
		assert.Contains(t, sd, key)
	}
	assert.Len(t, sd, 16)
	assert.Equal(t, tensor.Shape{9, 32}, sd["fc2.weight"].Shape())
}

func TestWasteClassifier_RunningStatsFollowMode(t *testing.T) {
	m := New(9, newRNG())
	input := tensor.Randn(tensor.Shape{2, 3, 16, 16}, newRNG())

	before := m.StateDict()
	m.Forward(input)
	after := m.StateDict()
	assert.NotEqual(t, before["bn1.running_mean"].Data(), after["bn1.running_mean"].Data())
	assert.NotEqual(t, before["bn2.running_var"].Data(), after["bn2.running_var"].Data())

	m.SetTraining(false)
	assert.False(t, m.IsTraining())
	m.Forward(input)
	frozen := m.StateDict()
	for _, key := range []string{"bn1.running_mean", "bn1.running_var", "bn2.running_mean", "bn2.running_var"} {
		assert.Equal(t, after[key].Data(), frozen[key].Data(), key)
	}
}

func TestWasteClassifier_SnapshotIsIndependent(t *testing.T) {
	m := New(9, newRNG())
	snapshot := m.StateDict()
	saved := snapshot["fc1.weight"].Clone()

	for _, p := range m.Parameters() {
		p.Tensor().Fill(0.25)
	}
	assert.Equal(t, saved.Data(), snapshot["fc1.weight"].Data())

	require.NoError(t, m.LoadStateDict(snapshot))
	assert.Equal(t, saved.Data(), m.State()["fc1.weight"].Data())
}

func TestWasteClassifier_LoadStateDictRestoresOutputs(t *testing.T) {
	src := New(9, rand.New(rand.NewPCG(5, 5)))
	dst := New(9, rand.New(rand.NewPCG(6, 6)))
	src.SetTraining(false)
	dst.SetTraining(false)

	input := tensor.Randn(tensor.Shape{2, 3, 8, 8}, newRNG())
	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.InDeltaSlice(t, src.Forward(input).Data(), dst.Forward(input).Data(), 1e-6)
}

func TestWasteClassifier_LoadStateDictWrongClasses(t *testing.T) {
	err := New(9, newRNG()).LoadStateDict(New(4, newRNG()).StateDict())
	assert.Error(t, err)
}

func TestWasteClassifier_BackwardFillsGradients(t *testing.T) {
	m := New(3, newRNG())
	out := m.Forward(tensor.Randn(tensor.Shape{2, 3, 8, 8}, newRNG()))
	m.Backward(tensor.Randn(out.Shape(), rand.New(rand.NewPCG(9, 9))))

	for _, p := range m.Parameters() {
		if p.Name() == "conv2d.bias" {
			continue // a training-mode BatchNorm cancels the preceding bias
		}
		nonZero := false
		for _, g := range p.Grad().Data() {
			if g != 0 {
				nonZero = true
				break
			}
		}
		assert.True(t, nonZero, "gradient of %s is all zeros", p.Name())
	}
}
