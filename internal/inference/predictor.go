// Package inference classifies single images with a trained checkpoint or
// an exported ONNX graph.
package inference

import (
	"fmt"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/dataset"
	"github.com/born-ml/wastenet/internal/model"
	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/onnx"
	"github.com/born-ml/wastenet/internal/serialization"
	"github.com/born-ml/wastenet/internal/tensor"
)

// Backend names reported by Info.
const (
	BackendCheckpoint = "born"
	BackendONNX       = "onnx"
)

// Prediction is the result of classifying one image.
type Prediction struct {
	ClassIndex  int           `json:"class_index"`
	Label       string        `json:"label"`
	Probability float32       `json:"probability"`
	TimeMs      int64         `json:"time_ms"`
	Latency     time.Duration `json:"-"`
}

// Info describes the loaded model.
type Info struct {
	Backend    string                        `json:"backend"`
	Path       string                        `json:"path"`
	NumClasses int                           `json:"num_classes"`
	ImageSize  int                           `json:"image_size"`
	Labels     []string                      `json:"labels"`
	Checkpoint *serialization.CheckpointMeta `json:"checkpoint,omitempty"`
}

// forwardFunc maps a normalized [1, 3, S, S] batch to [1, numClasses] logits.
type forwardFunc func(*tensor.Tensor) (*tensor.Tensor, error)

// Predictor runs the evaluation transform and a forward pass per image.
// Predict is safe for concurrent use; forward passes are serialized because
// layers cache activations.
type Predictor struct {
	mu        sync.Mutex
	forward   forwardFunc
	transform dataset.Transform
	info      Info
}

// Load restores a .born checkpoint in evaluation mode. Labels and image
// size come from the checkpoint header.
func Load(path string) (*Predictor, error) {
	header, stateDict, err := serialization.Read(path)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if header.NumClasses <= 0 {
		return nil, fmt.Errorf("inference: %s: invalid class count %d", path, header.NumClasses)
	}

	m := model.New(header.NumClasses, rand.New(rand.NewPCG(0, 0))) //nolint:gosec // G404: weights are overwritten below.
	if err := m.LoadStateDict(stateDict); err != nil {
		return nil, fmt.Errorf("inference: %s: %w", path, err)
	}
	m.SetTraining(false)

	size := header.ImageSize
	if size <= 0 {
		size = config.ImageSize
	}
	return newPredictor(func(x *tensor.Tensor) (*tensor.Tensor, error) {
		return m.Forward(x), nil
	}, Info{
		Backend:    BackendCheckpoint,
		Path:       path,
		NumClasses: header.NumClasses,
		ImageSize:  size,
		Labels:     resolveLabels(header.Labels, header.NumClasses),
		Checkpoint: header.Checkpoint,
	}), nil
}

// LoadONNX loads an exported graph. The graph carries no class names, so
// labels are supplied by the caller; nil falls back to generic names.
func LoadONNX(path string, labels []string, imageSize int) (*Predictor, error) {
	g, err := onnx.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	_, out := g.Signature()
	if len(out.Dims) != 2 || out.Dims[1] <= 0 {
		return nil, fmt.Errorf("inference: %s: unexpected output shape %v", path, out.Dims)
	}
	numClasses := int(out.Dims[1])
	if imageSize <= 0 {
		imageSize = config.ImageSize
	}
	return newPredictor(g.Forward, Info{
		Backend:    BackendONNX,
		Path:       path,
		NumClasses: numClasses,
		ImageSize:  imageSize,
		Labels:     resolveLabels(labels, numClasses),
	}), nil
}

// Open builds the predictor selected by cfg.Backend. The onnx backend takes
// its labels from the checkpoint header when cfg.ModelPath is set and from
// config.Labels otherwise.
func Open(cfg config.ServeConfig) (*Predictor, error) {
	switch cfg.Backend {
	case "", config.BackendBorn:
		return Load(cfg.ModelPath)
	case config.BackendONNX:
		labels := config.Labels
		if cfg.ModelPath != "" {
			header, err := serialization.ReadHeader(cfg.ModelPath)
			if err != nil {
				return nil, fmt.Errorf("inference: labels: %w", err)
			}
			labels = header.Labels
		}
		return LoadONNX(cfg.ONNXPath, labels, cfg.ImageSize)
	default:
		return nil, fmt.Errorf("inference: unknown backend %q", cfg.Backend)
	}
}

func newPredictor(forward forwardFunc, info Info) *Predictor {
	return &Predictor{
		forward:   forward,
		transform: dataset.EvalTransform(info.ImageSize),
		info:      info,
	}
}

// resolveLabels returns labels when it matches numClasses, the default
// class names when they do, and generic names otherwise.
func resolveLabels(labels []string, numClasses int) []string {
	switch {
	case len(labels) == numClasses:
		return labels
	case len(config.Labels) == numClasses:
		return config.Labels
	}
	out := make([]string, numClasses)
	for i := range out {
		out[i] = fmt.Sprintf("class_%d", i)
	}
	return out
}

// Info returns a description of the loaded model.
func (p *Predictor) Info() Info {
	return p.info
}

// Predict classifies img.
func (p *Predictor) Predict(img image.Image) (Prediction, error) {
	start := time.Now()

	size := p.info.ImageSize
	input := tensor.Zeros(tensor.Shape{1, 3, size, size})
	p.transform.Apply(img, false, input.Data())

	p.mu.Lock()
	logits, err := p.forward(input)
	p.mu.Unlock()
	if err != nil {
		return Prediction{}, fmt.Errorf("inference: forward: %w", err)
	}
	if !logits.Shape().Equal(tensor.Shape{1, p.info.NumClasses}) {
		return Prediction{}, fmt.Errorf("inference: logits shape %v, expected [1 %d]", logits.Shape(), p.info.NumClasses)
	}

	class := int(nn.Argmax(logits)[0])
	probs := nn.Softmax(logits).Data()
	latency := time.Since(start)
	return Prediction{
		ClassIndex:  class,
		Label:       p.info.Labels[class],
		Probability: probs[class],
		TimeMs:      latency.Milliseconds(),
		Latency:     latency,
	}, nil
}
