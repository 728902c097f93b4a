package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/wastenet/internal/tensor"
)

// CrossEntropyLoss computes (optionally class-weighted) cross-entropy loss
// for multi-class classification from raw logits.
//
// Mathematical Formulation:
//
//	loss_i = -w[y_i] * log_softmax(logits_i)[y_i]
//	Loss   = sum_i loss_i / sum_i w[y_i]
//
// Gradient (Backward):
//
//	∂L/∂logits_i = w[y_i] * (softmax(logits_i) - one_hot(y_i)) / sum_i w[y_i]
//
// With nil weights every class weighs 1 and Loss is the batch mean. The
// weighted mean matches PyTorch's CrossEntropyLoss(weight=...).
//
// Usage:
//
//	criterion := nn.NewCrossEntropyLoss(classWeights)
//	loss := criterion.Forward(logits, targets)  // logits [B, C], targets [B]
//	grad := criterion.Backward()                // [B, C]
type CrossEntropyLoss struct {
	weights []float32

	probs     []float32
	targets   []int32
	shape     tensor.Shape
	weightSum float32
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
// weights may be nil; otherwise it needs one entry per class.
func NewCrossEntropyLoss(weights []float32) *CrossEntropyLoss {
	var w []float32
	if weights != nil {
		w = make([]float32, len(weights))
		copy(w, weights)
	}
	return &CrossEntropyLoss{weights: w}
}

// Weights returns the class weights (nil when unweighted).
func (c *CrossEntropyLoss) Weights() []float32 {
	return c.weights
}

// Forward computes the loss and caches softmax probabilities for Backward.
func (c *CrossEntropyLoss) Forward(logits *tensor.Tensor, targets []int32) float32 {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D [batch_size, num_classes], got %v", shape))
	}
	batchSize, numClasses := shape[0], shape[1]
	if len(targets) != batchSize {
		panic(fmt.Sprintf("cross_entropy: %d targets for batch of %d", len(targets), batchSize))
	}
	if c.weights != nil && len(c.weights) != numClasses {
		panic(fmt.Sprintf("cross_entropy: %d class weights for %d classes", len(c.weights), numClasses))
	}

	data := logits.Data()
	probs := make([]float32, len(data))

	var total, weightSum float64
	for b := 0; b < batchSize; b++ {
		target := int(targets[b])
		if target < 0 || target >= numClasses {
			panic(fmt.Sprintf("cross_entropy: target %d out of range [0, %d)", target, numClasses))
		}

		row := data[b*numClasses : (b+1)*numClasses]
		logProbs := logSoftmax(row)
		for j, lp := range logProbs {
			probs[b*numClasses+j] = float32(math.Exp(lp))
		}

		w := c.classWeight(target)
		total += float64(w) * -logProbs[target]
		weightSum += float64(w)
	}

	c.probs = probs
	c.targets = append(c.targets[:0], targets...)
	c.shape = shape.Clone()
	c.weightSum = float32(weightSum)

	if weightSum == 0 {
		return 0
	}
	return float32(total / weightSum)
}

// Backward returns ∂L/∂logits for the last Forward.
func (c *CrossEntropyLoss) Backward() *tensor.Tensor {
	if c.probs == nil {
		panic("cross_entropy: Backward called before Forward")
	}
	batchSize, numClasses := c.shape[0], c.shape[1]

	grad := tensor.Zeros(c.shape)
	if c.weightSum == 0 {
		return grad
	}
	g := grad.Data()
	for b := 0; b < batchSize; b++ {
		target := int(c.targets[b])
		scale := c.classWeight(target) / c.weightSum
		for j := 0; j < numClasses; j++ {
			v := c.probs[b*numClasses+j]
			if j == target {
				v--
			}
			g[b*numClasses+j] = scale * v
		}
	}
	return grad
}

func (c *CrossEntropyLoss) classWeight(class int) float32 {
	if c.weights == nil {
		return 1
	}
	return c.weights[class]
}

// logSoftmax computes log(softmax(x)) using the log-sum-exp trick.
func logSoftmax(logits []float32) []float64 {
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	var sumExp float64
	for _, v := range logits {
		sumExp += math.Exp(float64(v) - maxLogit)
	}
	logSumExp := maxLogit + math.Log(sumExp)

	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = float64(v) - logSumExp
	}
	return out
}

// Softmax converts a [batch, classes] logit tensor into probabilities.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("softmax: expected 2D logits, got %v", shape))
	}
	numClasses := shape[1]
	out := tensor.Zeros(shape)
	data := logits.Data()
	probs := out.Data()
	for b := 0; b < shape[0]; b++ {
		for j, lp := range logSoftmax(data[b*numClasses : (b+1)*numClasses]) {
			probs[b*numClasses+j] = float32(math.Exp(lp))
		}
	}
	return out
}

// Argmax returns the index of the largest logit in each row of a
// [batch, classes] tensor. Ties resolve to the lowest index.
func Argmax(logits *tensor.Tensor) []int32 {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("argmax: expected 2D logits, got %v", shape))
	}
	numClasses := shape[1]
	data := logits.Data()
	preds := make([]int32, shape[0])
	for b := range preds {
		row := data[b*numClasses : (b+1)*numClasses]
		best := 0
		for j := 1; j < numClasses; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		preds[b] = int32(best) //nolint:gosec // G115: class count fits in int32.
	}
	return preds
}

// Correct counts predictions in logits whose argmax equals the target.
func Correct(logits *tensor.Tensor, targets []int32) int {
	correct := 0
	for i, p := range Argmax(logits) {
		if p == targets[i] {
			correct++
		}
	}
	return correct
}
