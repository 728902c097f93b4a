package trainer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/dataset"
	"github.com/born-ml/wastenet/internal/model"
	"github.com/born-ml/wastenet/internal/onnx"
	"github.com/born-ml/wastenet/internal/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeDataset writes perClass noisy images for each class, tinted by class.
func makeDataset(t *testing.T, classes []string, perClass int) string {
	t.Helper()
	root := t.TempDir()
	rng := rand.New(rand.NewPCG(5, 6))
	for ci, class := range classes {
		dir := filepath.Join(root, class)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for j := range perClass {
			img := image.NewRGBA(image.Rect(0, 0, 8, 8))
			for y := range 8 {
				for x := range 8 {
					noise := uint8(rng.IntN(40)) //nolint:gosec // small test values
					if ci == 0 {
						img.SetRGBA(x, y, color.RGBA{R: 200 + noise/2, G: noise, B: noise, A: 255})
					} else {
						img.SetRGBA(x, y, color.RGBA{R: noise, G: noise, B: 200 + noise/2, A: 255})
					}
				}
			}
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%02d.png", j)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
	return root
}

func testConfig(t *testing.T, dataDir string, numClasses int) config.Config {
	t.Helper()
	out := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.BatchSize = 2
	cfg.Epochs = 1
	cfg.ImageSize = 16
	cfg.NumClasses = numClasses
	cfg.ModelSavePath = filepath.Join(out, "model.born")
	cfg.ONNXSavePath = filepath.Join(out, "model.onnx")
	cfg.Export = config.NewExportSpec(cfg.ImageSize)
	return cfg
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRun_EndToEnd(t *testing.T) {
	root := makeDataset(t, []string{"class_a", "class_b"}, 10)
	cfg := testConfig(t, root, 2)

	var out bytes.Buffer
	tr := New(cfg, &out)
	result, err := tr.Run()
	require.NoError(t, err)

	require.Len(t, result.History, 1)
	m := result.History[0]
	assert.Equal(t, 1, m.Epoch)
	assert.GreaterOrEqual(t, m.TrainAcc, 0.0)
	assert.LessOrEqual(t, m.TrainAcc, 100.0)
	assert.GreaterOrEqual(t, m.ValAcc, 0.0)
	assert.LessOrEqual(t, m.ValAcc, 100.0)
	assert.InDelta(t, float64(config.LearningRate), float64(m.LR), 1e-9)

	text := out.String()
	assert.Regexp(t, regexp.MustCompile(`(?s)^Using device: cpu\nStarting training\nEpoch 1/1:\n`+
		`Train Loss: \d+\.\d{4}, Train Acc: \d+\.\d{2}%\nVal Loss: \d+\.\d{4}, Val Acc: \d+\.\d{2}%\n`), text)

	// The first epoch is kept exactly when its validation accuracy is
	// above zero.
	saved := m.ValAcc > 0
	assert.Equal(t, saved, result.Saved())
	assert.Equal(t, saved, fileExists(cfg.ModelSavePath))
	assert.Equal(t, saved, fileExists(cfg.ONNXSavePath))
	if !saved {
		assert.NotContains(t, text, "Best model saved")
		return
	}

	assert.Contains(t, text, "\nBest model saved with validation accuracy: "+strconv.FormatFloat(m.ValAcc, 'f', 2, 64)+"%\n")
	assert.Contains(t, text, "Model exported to "+cfg.ONNXSavePath+"\n")

	header, sd, err := serialization.Read(cfg.ModelSavePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"class_a", "class_b"}, header.Labels)
	assert.Equal(t, 16, header.ImageSize)
	require.NotNil(t, header.Checkpoint)
	assert.Equal(t, tr.RunID(), header.Checkpoint.RunID)
	assert.Equal(t, 1, header.Checkpoint.Epoch)
	assert.Len(t, sd, 16)

	proto, err := onnx.ParseFile(cfg.ONNXSavePath)
	require.NoError(t, err)
	assert.Equal(t, int64(config.ExportOpset), proto.OpsetImport[0].Version)
	dims, params := proto.Graph.Inputs[0].Shape()
	assert.Equal(t, []int64{-1, 3, 16, 16}, dims)
	assert.Equal(t, config.BatchAxisName, params[0])
}

func TestRun_ZeroEpochsWritesNothing(t *testing.T) {
	root := makeDataset(t, []string{"class_a", "class_b"}, 5)
	cfg := testConfig(t, root, 2)
	cfg.Epochs = 0

	var out bytes.Buffer
	result, err := New(cfg, &out).Run()
	require.NoError(t, err)

	assert.Empty(t, result.History)
	assert.False(t, result.Saved())
	assert.Empty(t, result.ModelPath)
	assert.False(t, fileExists(cfg.ModelSavePath))
	assert.False(t, fileExists(cfg.ONNXSavePath))
	assert.Equal(t, "Using device: cpu\nStarting training\n", out.String())
}

func TestRun_ZeroValidationAccuracyWritesNothing(t *testing.T) {
	classes := []string{"class_a", "class_b", "class_c", "class_d"}
	root := makeDataset(t, classes, 3)
	cfg := testConfig(t, root, len(classes))
	cfg.Epochs = 2
	cfg.LearningRate = 1e-30

	folder, err := dataset.Open(root)
	require.NoError(t, err)
	_, val := folder.Split(cfg.ValRatio, cfg.Seed)
	inVal := make(map[int32]bool)
	for _, s := range val {
		inVal[s.Label] = true
	}
	absent := -1
	for c := range classes {
		if !inVal[int32(c)] { //nolint:gosec // G115: small class index.
			absent = c
			break
		}
	}
	require.NotEqual(t, -1, absent, "some class must be missing from validation")

	// Logits are the fc2 bias alone, so every sample is predicted as a class
	// that no validation sample has.
	tr := New(cfg, &bytes.Buffer{})
	tr.initModel = func(m *model.WasteClassifier) {
		m.FC2().Weight().Tensor().Fill(0)
		bias := m.FC2().Bias().Tensor()
		bias.Fill(0)
		bias.Data()[absent] = 20
	}

	var out bytes.Buffer
	tr.out = &out
	result, err := tr.Run()
	require.NoError(t, err)

	require.Len(t, result.History, 2)
	for _, m := range result.History {
		assert.Zero(t, m.ValAcc)
	}
	assert.Nil(t, result.Best)
	assert.False(t, result.Saved())
	assert.False(t, fileExists(cfg.ModelSavePath))
	assert.False(t, fileExists(cfg.ONNXSavePath))
	assert.NotContains(t, out.String(), "Best model saved")
	assert.NotContains(t, out.String(), "Model exported")
	assert.Equal(t, 2, strings.Count(out.String(), "Val Acc: 0.00%"))
}

func TestRun_ClassCountMismatch(t *testing.T) {
	root := makeDataset(t, []string{"class_a", "class_b"}, 5)
	cfg := testConfig(t, root, 9)

	_, err := New(cfg, &bytes.Buffer{}).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 classes")
}

func TestRun_EmptyValidationSplit(t *testing.T) {
	root := makeDataset(t, []string{"class_a", "class_b"}, 1)
	cfg := testConfig(t, root, 2)

	_, err := New(cfg, &bytes.Buffer{}).Run()
	assert.ErrorIs(t, err, ErrEmptySplit)
}

func TestRun_UnsupportedDevice(t *testing.T) {
	root := makeDataset(t, []string{"class_a", "class_b"}, 5)
	cfg := testConfig(t, root, 2)
	cfg.Device = "cuda"

	var out bytes.Buffer
	_, err := New(cfg, &out).Run()
	assert.ErrorIs(t, err, config.ErrUnsupportedDevice)
	assert.Empty(t, out.String())
}

func TestRun_MissingDataDir(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "absent"), 2)
	_, err := New(cfg, &bytes.Buffer{}).Run()
	assert.Error(t, err)
}

func TestBestTracker_StrictImprovement(t *testing.T) {
	m := model.New(2, rand.New(rand.NewPCG(1, 1)))
	var b bestTracker

	// Zero accuracy never counts as an improvement over the initial best.
	assert.False(t, b.Observe(EpochMetrics{Epoch: 1, ValAcc: 0}, m))
	assert.False(t, b.Found())

	assert.True(t, b.Observe(EpochMetrics{Epoch: 2, ValAcc: 50}, m))
	assert.True(t, b.Found())

	assert.False(t, b.Observe(EpochMetrics{Epoch: 3, ValAcc: 50}, m))
	assert.Equal(t, 2, b.metrics.Epoch)

	assert.True(t, b.Observe(EpochMetrics{Epoch: 4, ValAcc: 75}, m))
	assert.Equal(t, 4, b.metrics.Epoch)
}

func TestBestTracker_SnapshotIsDeepCopy(t *testing.T) {
	m := model.New(2, rand.New(rand.NewPCG(1, 1)))
	var b bestTracker
	require.True(t, b.Observe(EpochMetrics{ValAcc: 10}, m))

	before := b.snapshot["fc2.bias"].Clone()
	m.FC2().Bias().Tensor().Fill(42)
	assert.Equal(t, before.Data(), b.snapshot["fc2.bias"].Data())
}
