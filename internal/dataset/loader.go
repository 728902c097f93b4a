package dataset

import (
	"math/rand/v2"

	"github.com/born-ml/wastenet/internal/parallel"
	"github.com/born-ml/wastenet/internal/tensor"
)

// Batch is one mini-batch of decoded, transformed images.
type Batch struct {
	Images *tensor.Tensor // [B, 3, Size, Size]
	Labels []int32        // [B]
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Loader iterates a sample list in fixed-size batches. The last batch may
// be smaller.
//
// Usage:
//
//	loader := dataset.NewLoader(train, 8, dataset.TrainTransform(128, 0.2), rng)
//	for loader.Next() {
//	    batch := loader.Batch()
//	    ...
//	}
//	if err := loader.Err(); err != nil {
//	    return err
//	}
//
// A non-nil rng shuffles the order on every Reset and drives random flips;
// a nil rng iterates sequentially.
type Loader struct {
	samples   []Sample
	batchSize int
	transform Transform
	rng       *rand.Rand
	parallel  parallel.Config

	order []int
	pos   int
	batch Batch
	err   error
}

// NewLoader creates a loader positioned at the start of the first epoch.
func NewLoader(samples []Sample, batchSize int, transform Transform, rng *rand.Rand) *Loader {
	if batchSize <= 0 {
		panic("dataset: batch size must be positive")
	}
	l := &Loader{
		samples:   samples,
		batchSize: batchSize,
		transform: transform,
		rng:       rng,
		parallel:  parallel.CoarseConfig(),
		order:     make([]int, len(samples)),
	}
	l.Reset()
	return l
}

// Reset rewinds to the first batch, reshuffling when the loader is random.
func (l *Loader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.rng != nil {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
	l.batch = Batch{}
	l.err = nil
}

// Next decodes the next batch. It returns false at the end of the epoch or
// on the first decode error.
func (l *Loader) Next() bool {
	if l.err != nil || l.pos >= len(l.order) {
		return false
	}
	end := min(l.pos+l.batchSize, len(l.order))
	idx := l.order[l.pos:end]
	l.pos = end

	n := len(idx)
	per := l.transform.Len()
	images := tensor.Zeros(tensor.Shape{n, 3, l.transform.Size, l.transform.Size})
	labels := make([]int32, n)

	// Random draws happen in order so a seed reproduces the same flips
	// regardless of how decoding is scheduled.
	flips := make([]bool, n)
	for i, s := range idx {
		labels[i] = l.samples[s].Label
		flips[i] = l.transform.DrawFlip(l.rng)
	}

	data := images.Data()
	err := parallel.ForErr(n, func(i int) error {
		img, err := LoadImage(l.samples[idx[i]].Path)
		if err != nil {
			return err
		}
		l.transform.Apply(img, flips[i], data[i*per:(i+1)*per])
		return nil
	}, l.parallel)
	if err != nil {
		l.err = err
		return false
	}

	l.batch = Batch{Images: images, Labels: labels}
	return true
}

// Batch returns the batch decoded by the last successful Next.
func (l *Loader) Batch() Batch {
	return l.batch
}

// Err returns the error that stopped iteration, if any.
func (l *Loader) Err() error {
	return l.err
}

// Len returns the number of samples per epoch.
func (l *Loader) Len() int {
	return len(l.samples)
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}
