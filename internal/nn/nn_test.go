package nn

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/wastenet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 7))
}

// dot returns sum(a*b) in float64.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// checkGradients compares m.Backward against central differences of
// L(x) = sum(m.Forward(x) * upstream) for the input and every parameter.
func checkGradients(t *testing.T, m Module, input *tensor.Tensor, tol float64) {
	t.Helper()
	rng := newRNG()

	out := m.Forward(input)
	upstream := tensor.Randn(out.Shape(), rng)

	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
	m.Forward(input)
	gradInput := m.Backward(upstream)

	loss := func() float64 {
		return dot(m.Forward(input).Data(), upstream.Data())
	}

	const eps = 1e-2
	check := func(name string, data []float32, analytic []float32) {
		step := max(1, len(data)/17)
		for i := 0; i < len(data); i += step {
			orig := data[i]
			data[i] = orig + eps
			plus := loss()
			data[i] = orig - eps
			minus := loss()
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			diff := math.Abs(numeric - float64(analytic[i]))
			scale := math.Max(1, math.Abs(numeric))
			assert.LessOrEqual(t, diff/scale, tol, "%s[%d]: numeric %g, analytic %g", name, i, numeric, analytic[i])
		}
	}

	check("input", input.Data(), gradInput.Data())
	for _, p := range m.Parameters() {
		check(p.Name(), p.Tensor().Data(), p.Grad().Data())
	}
}

func TestConv2D_OutputShape(t *testing.T) {
	conv := NewConv2D(3, 32, 3, 1, 1, newRNG())
	out := conv.Forward(tensor.Zeros(tensor.Shape{2, 3, 16, 12}))
	assert.Equal(t, tensor.Shape{2, 32, 16, 12}, out.Shape())

	conv = NewConv2D(1, 1, 3, 2, 0, newRNG())
	assert.Equal(t, [2]int{3, 3}, conv.ComputeOutputSize(7, 7))
}

func TestConv2D_KnownValues(t *testing.T) {
	conv := NewConv2D(1, 1, 3, 1, 1, newRNG())
	conv.Weight().Tensor().Fill(1)
	conv.Bias().Tensor().Fill(0.5)

	input, err := tensor.FromSlice([]float32{
		1, 2,
		3, 4,
	}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)

	// With a 3x3 ones kernel and padding 1, every output sees the whole 2x2 input.
	out := conv.Forward(input)
	for _, v := range out.Data() {
		assert.InDelta(t, 10.5, v, 1e-5)
	}
}

func TestConv2D_Gradients(t *testing.T) {
	conv := NewConv2D(2, 3, 3, 1, 1, newRNG())
	input := tensor.Randn(tensor.Shape{2, 2, 5, 4}, newRNG())
	checkGradients(t, conv, input, 2e-2)
}

func TestLinear_Forward(t *testing.T) {
	l := NewLinear(2, 2, newRNG())
	copy(l.Weight().Tensor().Data(), []float32{1, 2, 3, 4})
	copy(l.Bias().Tensor().Data(), []float32{0.5, -0.5})

	x, err := tensor.FromSlice([]float32{1, 1, 2, 0}, tensor.Shape{2, 2})
	require.NoError(t, err)

	out := l.Forward(x)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float32{3.5, 6.5, 2.5, 5.5}, out.Data(), 1e-6)
}

func TestFromWeights_SharesTensors(t *testing.T) {
	w := tensor.Full(tensor.Shape{4, 2, 3, 3}, 1)
	b := tensor.Zeros(tensor.Shape{4})
	conv, err := NewConv2DFromWeights(w, b, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, conv.KernelSize())
	assert.Same(t, w, conv.Weight().Tensor())

	lw := tensor.Zeros(tensor.Shape{5, 4})
	lb := tensor.Zeros(tensor.Shape{5})
	l, err := NewLinearFromWeights(lw, lb)
	require.NoError(t, err)
	assert.Equal(t, 4, l.InFeatures())
	assert.Equal(t, 5, l.OutFeatures())
	assert.Same(t, lb, l.Bias().Tensor())
}

func TestFromWeights_ShapeErrors(t *testing.T) {
	_, err := NewConv2DFromWeights(tensor.Zeros(tensor.Shape{4, 2, 3}), tensor.Zeros(tensor.Shape{4}), 1, 0)
	assert.Error(t, err)
	_, err = NewConv2DFromWeights(tensor.Zeros(tensor.Shape{4, 2, 3, 3}), tensor.Zeros(tensor.Shape{3}), 1, 0)
	assert.Error(t, err)
	_, err = NewConv2DFromWeights(tensor.Zeros(tensor.Shape{4, 2, 3, 3}), tensor.Zeros(tensor.Shape{4}), 0, 0)
	assert.Error(t, err)
	_, err = NewLinearFromWeights(tensor.Zeros(tensor.Shape{4}), tensor.Zeros(tensor.Shape{4}))
	assert.Error(t, err)
	_, err = NewLinearFromWeights(tensor.Zeros(tensor.Shape{4, 2}), tensor.Zeros(tensor.Shape{2}))
	assert.Error(t, err)
}

func TestLinear_Gradients(t *testing.T) {
	l := NewLinear(6, 4, newRNG())
	checkGradients(t, l, tensor.Randn(tensor.Shape{3, 6}, newRNG()), 1e-2)
}

func TestBatchNorm2D_TrainingNormalizesBatch(t *testing.T) {
	bn := NewBatchNorm2D(2, 1e-5, 0.1)
	input := tensor.Randn(tensor.Shape{4, 2, 3, 3}, newRNG())
	out := bn.Forward(input)

	data := out.Data()
	for ch := 0; ch < 2; ch++ {
		var sum, sq float64
		count := 0
		for n := 0; n < 4; n++ {
			for j := 0; j < 9; j++ {
				v := float64(data[(n*2+ch)*9+j])
				sum += v
				sq += v * v
				count++
			}
		}
		mean := sum / float64(count)
		assert.InDelta(t, 0, mean, 1e-4)
		assert.InDelta(t, 1, sq/float64(count)-mean*mean, 1e-3)
	}
}

func TestBatchNorm2D_RunningStatsOnlyChangeInTraining(t *testing.T) {
	bn := NewBatchNorm2D(3, 1e-5, 0.1)
	input := tensor.Randn(tensor.Shape{2, 3, 4, 4}, newRNG())

	before := bn.RunningMean().Clone()
	bn.Forward(input)
	assert.NotEqual(t, before.Data(), bn.RunningMean().Data())

	bn.SetTraining(false)
	frozenMean := bn.RunningMean().Clone()
	frozenVar := bn.RunningVar().Clone()
	bn.Forward(input)
	assert.Equal(t, frozenMean.Data(), bn.RunningMean().Data())
	assert.Equal(t, frozenVar.Data(), bn.RunningVar().Data())
}

func TestBatchNorm2D_RunningUpdateUsesUnbiasedVariance(t *testing.T) {
	bn := NewBatchNorm2D(1, 1e-5, 1) // momentum 1 copies the batch statistics
	input, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)

	bn.Forward(input)
	assert.InDelta(t, 2.5, bn.RunningMean().Data()[0], 1e-6)
	assert.InDelta(t, 5.0/3.0, bn.RunningVar().Data()[0], 1e-6)
}

func TestBatchNorm2D_Gradients(t *testing.T) {
	bn := NewBatchNorm2D(2, 1e-5, 0.1)
	copy(bn.Gamma().Tensor().Data(), []float32{1.5, 0.7})
	copy(bn.Beta().Tensor().Data(), []float32{0.2, -0.3})
	checkGradients(t, bn, tensor.Randn(tensor.Shape{3, 2, 2, 3}, newRNG()), 3e-2)

	bn.SetTraining(false)
	checkGradients(t, bn, tensor.Randn(tensor.Shape{2, 2, 2, 2}, newRNG()), 2e-2)
}

func TestReLU_ForwardBackward(t *testing.T) {
	r := NewReLU()
	x, err := tensor.FromSlice([]float32{-1, 0, 2, -3, 4}, tensor.Shape{1, 5})
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 2, 0, 4}, r.Forward(x).Data())
	assert.Equal(t, []float32{-1, 0, 2, -3, 4}, x.Data(), "input must not be modified")

	g := r.Backward(tensor.Full(tensor.Shape{1, 5}, 1))
	assert.Equal(t, []float32{0, 0, 1, 0, 1}, g.Data())
}

func TestGlobalAvgPool2D(t *testing.T) {
	pool := NewGlobalAvgPool2D()
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 10, 10, 10, 10}, tensor.Shape{1, 2, 2, 2})
	require.NoError(t, err)

	out := pool.Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, out.Shape())
	assert.InDeltaSlice(t, []float32{2.5, 10}, out.Data(), 1e-6)

	g := pool.Backward(tensor.Full(tensor.Shape{1, 2, 1, 1}, 4))
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1}, g.Data())
}

func TestFlatten(t *testing.T) {
	f := NewFlatten()
	out := f.Forward(tensor.Zeros(tensor.Shape{3, 64, 1, 1}))
	assert.Equal(t, tensor.Shape{3, 64}, out.Shape())
	assert.Equal(t, tensor.Shape{3, 64, 1, 1}, f.Backward(out).Shape())
}

func TestCrossEntropyLoss_Unweighted(t *testing.T) {
	logits, err := tensor.FromSlice([]float32{0, 0, 0, 0}, tensor.Shape{2, 2})
	require.NoError(t, err)

	loss := NewCrossEntropyLoss(nil).Forward(logits, []int32{0, 1})
	assert.InDelta(t, math.Log(2), loss, 1e-6)
}

func TestCrossEntropyLoss_WeightedMean(t *testing.T) {
	logits, err := tensor.FromSlice([]float32{2, 0, 0, 1}, tensor.Shape{2, 2})
	require.NoError(t, err)

	weights := []float32{1, 3}
	ce := NewCrossEntropyLoss(weights)
	loss := ce.Forward(logits, []int32{0, 1})

	l0 := -math.Log(math.Exp(2) / (math.Exp(2) + 1))
	l1 := -math.Log(math.E / (math.E + 1))
	want := (1*l0 + 3*l1) / 4
	assert.InDelta(t, want, loss, 1e-5)
}

func TestCrossEntropyLoss_Gradient(t *testing.T) {
	rng := newRNG()
	logits := tensor.Randn(tensor.Shape{3, 4}, rng)
	targets := []int32{0, 3, 1}
	ce := NewCrossEntropyLoss([]float32{0.5, 1, 2, 4})

	ce.Forward(logits, targets)
	grad := ce.Backward()

	const eps = 1e-2
	data := logits.Data()
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := ce.Forward(logits, targets)
		data[i] = orig - eps
		minus := ce.Forward(logits, targets)
		data[i] = orig

		numeric := float64(plus-minus) / (2 * eps)
		assert.InDelta(t, numeric, grad.Data()[i], 2e-3, "logit %d", i)
	}
}

func TestCorrectAndArgmax(t *testing.T) {
	logits, err := tensor.FromSlice([]float32{
		0.1, 0.9, 0.0,
		2.0, 1.0, 2.0, // tie resolves to the lowest index
		0.0, 0.0, 5.0,
	}, tensor.Shape{3, 3})
	require.NoError(t, err)

	assert.Equal(t, []int32{1, 0, 2}, Argmax(logits))
	assert.Equal(t, 2, Correct(logits, []int32{1, 0, 0}))
}

func TestSoftmax_RowsSumToOne(t *testing.T) {
	probs := Softmax(tensor.Randn(tensor.Shape{4, 9}, newRNG()))
	for b := 0; b < 4; b++ {
		var sum float32
		for _, p := range probs.Data()[b*9 : (b+1)*9] {
			assert.Greater(t, p, float32(0))
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}
}

func TestSequential_StateDictRoundTrip(t *testing.T) {
	build := func(seed uint64) *Sequential {
		rng := rand.New(rand.NewPCG(seed, seed))
		return NewSequential().
			Add("conv", NewConv2D(1, 2, 3, 1, 1, rng)).
			Add("bn", NewBatchNorm2D(2, 1e-5, 0.1)).
			Add("", NewReLU())
	}

	src := build(1)
	dst := build(2)

	sd := StateDict(src)
	assert.ElementsMatch(t,
		[]string{"conv.weight", "conv.bias", "bn.weight", "bn.bias", "bn.running_mean", "bn.running_var"},
		keys(sd))

	// The state dict is a snapshot: later mutation of src must not leak into it.
	saved := sd["conv.weight"].Clone()
	src.State()["conv.weight"].Fill(9)
	assert.Equal(t, saved.Data(), sd["conv.weight"].Data())

	require.NoError(t, LoadStateDict(dst, sd))
	assert.Equal(t, sd["conv.weight"].Data(), dst.State()["conv.weight"].Data())
}

func TestLoadStateDict_Mismatch(t *testing.T) {
	seq := NewSequential().Add("fc", NewLinear(2, 2, newRNG()))

	err := LoadStateDict(seq, map[string]*tensor.Tensor{"fc.weight": tensor.Zeros(tensor.Shape{2, 2})})
	assert.ErrorContains(t, err, "fc.bias")

	err = LoadStateDict(seq, map[string]*tensor.Tensor{
		"fc.weight": tensor.Zeros(tensor.Shape{3, 2}),
		"fc.bias":   tensor.Zeros(tensor.Shape{2}),
	})
	assert.ErrorContains(t, err, "fc.weight")
}

func keys(m map[string]*tensor.Tensor) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
