// Package trainer runs the train, validate and export sequence for the
// waste classifier.
package trainer

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/dataset"
	"github.com/born-ml/wastenet/internal/model"
	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/onnx"
	"github.com/born-ml/wastenet/internal/optim"
	"github.com/born-ml/wastenet/internal/serialization"
)

// ErrEmptySplit is returned when the train or validation subset has no
// samples.
var ErrEmptySplit = errors.New("trainer: empty train or validation subset")

// EpochMetrics are the averages reported after one epoch. Accuracies are
// percentages in [0, 100].
type EpochMetrics struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
	LR        float32 // learning rate used during the epoch
}

// Result summarizes a finished run.
type Result struct {
	RunID   string
	History []EpochMetrics

	// Best is the epoch whose snapshot was kept; nil when no validation
	// accuracy ever exceeded zero.
	Best *EpochMetrics

	// ModelPath and ONNXPath are set only when artifacts were written.
	ModelPath string
	ONNXPath  string
}

// Saved reports whether the run wrote its artifacts.
func (r *Result) Saved() bool {
	return r.Best != nil
}

// Trainer owns one training run.
type Trainer struct {
	cfg    config.Config
	out    io.Writer
	device config.DeviceInfo
	runID  string

	// initModel, when set, adjusts the freshly initialized model.
	initModel func(*model.WasteClassifier)
}

// New creates a trainer that prints progress to out.
func New(cfg config.Config, out io.Writer) *Trainer {
	return &Trainer{
		cfg:    cfg,
		out:    out,
		runID:  uuid.NewString(),
	}
}

// RunID returns the identifier recorded in the checkpoint.
func (t *Trainer) RunID() string {
	return t.runID
}

// Run trains for cfg.Epochs epochs and, if any epoch reached a validation
// accuracy above zero, saves and exports the best one.
//
//nolint:gocyclo,cyclop,funlen // Sequential training driver.
func (t *Trainer) Run() (*Result, error) {
	cfg := t.cfg
	device, err := config.DetectDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	t.device = device
	fmt.Fprintf(t.out, "Using device: %s\n", t.device)
	klog.V(1).Infof("device details: %s", t.device.Details())

	folder, err := dataset.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if n := len(folder.Classes()); n != cfg.NumClasses {
		return nil, fmt.Errorf("trainer: dataset %s has %d classes, model expects %d", cfg.DataDir, n, cfg.NumClasses)
	}

	fmt.Fprintln(t.out, "Starting training")

	trainSamples, valSamples := folder.Split(cfg.ValRatio, cfg.Seed)
	if len(trainSamples) == 0 || len(valSamples) == 0 {
		return nil, fmt.Errorf("%w: %d train, %d validation", ErrEmptySplit, len(trainSamples), len(valSamples))
	}
	klog.V(1).Infof("run %s: %d classes, %d train and %d validation samples",
		t.runID, len(folder.Classes()), len(trainSamples), len(valSamples))

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)) //nolint:gosec // G404: training randomness, not security.
	trainLoader := dataset.NewLoader(trainSamples, cfg.BatchSize, dataset.TrainTransform(cfg.ImageSize, cfg.FlipProb), rng)
	valLoader := dataset.NewLoader(valSamples, cfg.BatchSize, dataset.EvalTransform(cfg.ImageSize), nil)

	m := model.New(cfg.NumClasses, rng)
	if t.initModel != nil {
		t.initModel(m)
	}
	criterion := nn.NewCrossEntropyLoss(folder.ClassWeights())
	optimizer := optim.NewAdamW(m.Parameters(), optim.AdamWConfig{
		LR:          cfg.LearningRate,
		WeightDecay: cfg.WeightDecay,
	})
	scheduler := optim.NewReduceLROnPlateau(optimizer, optim.PlateauConfig{
		Factor:   cfg.LRFactor,
		Patience: cfg.LRPatience,
	})

	result := &Result{RunID: t.runID}
	var best bestTracker

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		lr := optimizer.GetLR()

		trainLoss, trainAcc, err := trainEpoch(m, trainLoader, criterion, optimizer)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: training: %w", epoch, err)
		}
		valLoss, valAcc, err := validate(m, valLoader, criterion)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}
		if scheduler.Step(valLoss) {
			klog.V(1).Infof("epoch %d: learning rate reduced to %g", epoch, optimizer.GetLR())
		}

		metrics := EpochMetrics{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			TrainAcc:  trainAcc,
			ValLoss:   valLoss,
			ValAcc:    valAcc,
			LR:        lr,
		}
		result.History = append(result.History, metrics)

		fmt.Fprintf(t.out, "Epoch %d/%d:\n", epoch, cfg.Epochs)
		fmt.Fprintf(t.out, "Train Loss: %.4f, Train Acc: %.2f%%\n", trainLoss, trainAcc)
		fmt.Fprintf(t.out, "Val Loss: %.4f, Val Acc: %.2f%%\n", valLoss, valAcc)

		best.Observe(metrics, m)
	}

	if !best.Found() {
		return result, nil
	}

	if err := m.LoadStateDict(best.snapshot); err != nil {
		return nil, fmt.Errorf("trainer: restore best snapshot: %w", err)
	}
	m.SetTraining(false)
	bestMetrics := best.metrics
	result.Best = &bestMetrics

	if err := serialization.Write(cfg.ModelSavePath, best.snapshot, t.header(folder.Classes(), bestMetrics)); err != nil {
		return nil, fmt.Errorf("trainer: save checkpoint: %w", err)
	}
	result.ModelPath = cfg.ModelSavePath
	fmt.Fprintf(t.out, "\nBest model saved with validation accuracy: %.2f%%\n", bestMetrics.ValAcc)

	if err := onnx.Export(m, cfg.Export, cfg.ONNXSavePath); err != nil {
		return nil, fmt.Errorf("trainer: export: %w", err)
	}
	result.ONNXPath = cfg.ONNXSavePath
	fmt.Fprintf(t.out, "Model exported to %s\n", cfg.ONNXSavePath)

	return result, nil
}

func (t *Trainer) header(labels []string, best EpochMetrics) serialization.Header {
	return serialization.Header{
		ModelType:  "WasteClassifier",
		NumClasses: t.cfg.NumClasses,
		ImageSize:  t.cfg.ImageSize,
		Labels:     labels,
		Metadata: map[string]string{
			"device": t.device.String(),
			"cpu":    t.device.Brand,
		},
		Checkpoint: &serialization.CheckpointMeta{
			RunID:         t.runID,
			Epoch:         best.Epoch,
			Epochs:        t.cfg.Epochs,
			TrainLoss:     best.TrainLoss,
			TrainAcc:      best.TrainAcc,
			ValLoss:       best.ValLoss,
			ValAcc:        best.ValAcc,
			LR:            float64(best.LR),
			OptimizerType: "AdamW",
			OptimizerConfig: map[string]any{
				"lr":           t.cfg.LearningRate,
				"weight_decay": t.cfg.WeightDecay,
				"betas":        []float32{0.9, 0.999},
				"eps":          1e-8,
			},
		},
	}
}
