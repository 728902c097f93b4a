package trainer

import (
	"github.com/born-ml/wastenet/internal/dataset"
	"github.com/born-ml/wastenet/internal/model"
	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/optim"
	"github.com/born-ml/wastenet/internal/tensor"
)

// trainEpoch runs one pass over loader in training mode and returns the
// sample-weighted mean loss and the accuracy percentage.
func trainEpoch(m *model.WasteClassifier, loader *dataset.Loader, criterion *nn.CrossEntropyLoss, opt optim.Optimizer) (loss, acc float64, err error) {
	m.SetTraining(true)
	loader.Reset()

	var total float64
	correct, seen := 0, 0
	for loader.Next() {
		batch := loader.Batch()

		opt.ZeroGrad()
		logits := m.Forward(batch.Images)
		l := criterion.Forward(logits, batch.Labels)
		m.Backward(criterion.Backward())
		opt.Step()

		total += float64(l) * float64(batch.Size())
		correct += nn.Correct(logits, batch.Labels)
		seen += batch.Size()
	}
	if err := loader.Err(); err != nil {
		return 0, 0, err
	}
	return average(total, correct, seen)
}

// validate runs loader through the model in evaluation mode. No backward
// pass happens, so parameter gradients are untouched.
func validate(m *model.WasteClassifier, loader *dataset.Loader, criterion *nn.CrossEntropyLoss) (loss, acc float64, err error) {
	m.SetTraining(false)
	loader.Reset()

	var total float64
	correct, seen := 0, 0
	for loader.Next() {
		batch := loader.Batch()
		logits := m.Forward(batch.Images)
		total += float64(criterion.Forward(logits, batch.Labels)) * float64(batch.Size())
		correct += nn.Correct(logits, batch.Labels)
		seen += batch.Size()
	}
	if err := loader.Err(); err != nil {
		return 0, 0, err
	}
	return average(total, correct, seen)
}

func average(total float64, correct, seen int) (loss, acc float64, err error) {
	if seen == 0 {
		return 0, 0, ErrEmptySplit
	}
	return total / float64(seen), 100 * float64(correct) / float64(seen), nil
}

// bestTracker keeps a deep copy of the weights from the epoch with the
// highest validation accuracy. Only a strict improvement over the current
// best (initially 0) replaces the snapshot.
type bestTracker struct {
	acc      float64
	metrics  EpochMetrics
	snapshot map[string]*tensor.Tensor
}

// Observe records metrics and reports whether they became the new best.
func (b *bestTracker) Observe(metrics EpochMetrics, m *model.WasteClassifier) bool {
	if metrics.ValAcc <= b.acc {
		return false
	}
	b.acc = metrics.ValAcc
	b.metrics = metrics
	b.snapshot = m.StateDict()
	return true
}

// Found reports whether any snapshot was taken.
func (b *bestTracker) Found() bool {
	return b.snapshot != nil
}
