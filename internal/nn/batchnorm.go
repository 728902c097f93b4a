package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/wastenet/internal/tensor"
)

// BatchNorm2D normalizes each channel of a [N, C, H, W] input.
//
//	y = gamma * (x - mean) / sqrt(var + eps) + beta
//
// In training mode mean and var are the statistics of the current batch
// (biased variance) and the running estimates are updated with
//
//	running = (1 - momentum) * running + momentum * batch_stat
//
// where the variance fed to the running estimate is unbiased. In evaluation
// mode the running estimates are used and never modified.
type BatchNorm2D struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter // [C]
	beta  *Parameter // [C]

	runningMean *tensor.Tensor // [C]
	runningVar  *tensor.Tensor // [C]

	// Cached for Backward.
	xhat       []float32
	invStd     []float32
	shape      tensor.Shape
	batchStats bool
}

// NewBatchNorm2D creates a BatchNorm2D layer with gamma=1, beta=0,
// running_mean=0 and running_var=1, in training mode.
func NewBatchNorm2D(numFeatures int, eps, momentum float32) *BatchNorm2D {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}
	return &BatchNorm2D{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		training:    true,
		gamma:       NewParameter("batchnorm2d.weight", tensor.Full(tensor.Shape{numFeatures}, 1)),
		beta:        NewParameter("batchnorm2d.bias", tensor.Zeros(tensor.Shape{numFeatures})),
		runningMean: tensor.Zeros(tensor.Shape{numFeatures}),
		runningVar:  tensor.Full(tensor.Shape{numFeatures}, 1),
	}
}

// SetTraining switches between batch statistics (true) and running
// estimates (false).
func (b *BatchNorm2D) SetTraining(training bool) {
	b.training = training
}

// IsTraining reports the current mode.
func (b *BatchNorm2D) IsTraining() bool {
	return b.training
}

// Forward normalizes input per channel.
func (b *BatchNorm2D) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != b.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", shape[1], b.numFeatures))
	}

	n, c := shape[0], shape[1]
	spatial := shape[2] * shape[3]
	count := n * spatial

	x := input.Data()
	output := tensor.Zeros(shape)
	y := output.Data()

	xhat := make([]float32, len(x))
	invStd := make([]float32, c)
	gamma := b.gamma.Tensor().Data()
	beta := b.beta.Tensor().Data()
	rm := b.runningMean.Data()
	rv := b.runningVar.Data()

	for ch := 0; ch < c; ch++ {
		var mean, variance float64
		if b.training {
			for i := 0; i < n; i++ {
				base := (i*c + ch) * spatial
				for _, v := range x[base : base+spatial] {
					mean += float64(v)
				}
			}
			mean /= float64(count)
			for i := 0; i < n; i++ {
				base := (i*c + ch) * spatial
				for _, v := range x[base : base+spatial] {
					d := float64(v) - mean
					variance += d * d
				}
			}
			unbiased := variance
			if count > 1 {
				unbiased /= float64(count - 1)
			}
			variance /= float64(count)

			m := float64(b.momentum)
			rm[ch] = float32((1-m)*float64(rm[ch]) + m*mean)
			rv[ch] = float32((1-m)*float64(rv[ch]) + m*unbiased)
		} else {
			mean = float64(rm[ch])
			variance = float64(rv[ch])
		}

		is := float32(1.0 / math.Sqrt(variance+float64(b.eps)))
		invStd[ch] = is
		mu := float32(mean)
		for i := 0; i < n; i++ {
			base := (i*c + ch) * spatial
			for j := base; j < base+spatial; j++ {
				xh := (x[j] - mu) * is
				xhat[j] = xh
				y[j] = gamma[ch]*xh + beta[ch]
			}
		}
	}

	b.xhat = xhat
	b.invStd = invStd
	b.shape = shape.Clone()
	b.batchStats = b.training
	return output
}

// Backward computes gamma, beta and input gradients for the last Forward.
func (b *BatchNorm2D) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if b.xhat == nil {
		panic("batchnorm2d: Backward called before Forward")
	}

	n, c := b.shape[0], b.shape[1]
	spatial := b.shape[2] * b.shape[3]
	count := float32(n * spatial)

	dy := gradOutput.Data()
	gradInput := tensor.Zeros(b.shape)
	dx := gradInput.Data()
	gamma := b.gamma.Tensor().Data()
	dgamma := b.gamma.Grad().Data()
	dbeta := b.beta.Grad().Data()

	for ch := 0; ch < c; ch++ {
		var sumDy, sumDyXhat float32
		for i := 0; i < n; i++ {
			base := (i*c + ch) * spatial
			for j := base; j < base+spatial; j++ {
				sumDy += dy[j]
				sumDyXhat += dy[j] * b.xhat[j]
			}
		}
		dgamma[ch] += sumDyXhat
		dbeta[ch] += sumDy

		scale := gamma[ch] * b.invStd[ch]
		for i := 0; i < n; i++ {
			base := (i*c + ch) * spatial
			for j := base; j < base+spatial; j++ {
				if b.batchStats {
					dx[j] = scale * (dy[j] - sumDy/count - b.xhat[j]*sumDyXhat/count)
				} else {
					dx[j] = scale * dy[j]
				}
			}
		}
	}

	return gradInput
}

// Parameters returns gamma and beta.
func (b *BatchNorm2D) Parameters() []*Parameter {
	return []*Parameter{b.gamma, b.beta}
}

// State returns gamma, beta and the running estimates under PyTorch's names.
func (b *BatchNorm2D) State() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight":       b.gamma.Tensor(),
		"bias":         b.beta.Tensor(),
		"running_mean": b.runningMean,
		"running_var":  b.runningVar,
	}
}

// RunningMean returns the running mean buffer.
func (b *BatchNorm2D) RunningMean() *tensor.Tensor {
	return b.runningMean
}

// RunningVar returns the running variance buffer.
func (b *BatchNorm2D) RunningVar() *tensor.Tensor {
	return b.runningVar
}

// Gamma returns the scale parameter.
func (b *BatchNorm2D) Gamma() *Parameter {
	return b.gamma
}

// Beta returns the shift parameter.
func (b *BatchNorm2D) Beta() *Parameter {
	return b.beta
}

// Eps returns the variance epsilon.
func (b *BatchNorm2D) Eps() float32 {
	return b.eps
}

// Momentum returns the running estimate momentum.
func (b *BatchNorm2D) Momentum() float32 {
	return b.momentum
}

// String returns a string representation of the layer.
func (b *BatchNorm2D) String() string {
	return fmt.Sprintf("BatchNorm2D(%d, eps=%g, momentum=%g)", b.numFeatures, b.eps, b.momentum)
}
