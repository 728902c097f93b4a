package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./dataset/raw", cfg.DataDir)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 50, cfg.Epochs)
	assert.InDelta(t, 0.001, cfg.LearningRate, 1e-9)
	assert.InDelta(t, 0.01, cfg.WeightDecay, 1e-9)
	assert.Equal(t, 128, cfg.ImageSize)
	assert.Equal(t, 9, cfg.NumClasses)
	assert.Equal(t, 3, cfg.EarlyStoppingPatience)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Len(t, Labels, cfg.NumClasses)
}

func TestExportSpec_FollowsImageSize(t *testing.T) {
	spec := NewExportSpec(64)

	assert.Equal(t, []int{1, 3, 64, 64}, spec.DummyShape)
	assert.Equal(t, "input", spec.InputName)
	assert.Equal(t, "output", spec.OutputName)
	assert.Equal(t, int64(11), spec.Opset)
	assert.True(t, spec.ConstantFolding)

	assert.Equal(t, "batch_size", spec.DimParam("input", 0))
	assert.Equal(t, "batch_size", spec.DimParam("output", 0))
	assert.Empty(t, spec.DimParam("input", 2))

	assert.Equal(t, []int{1, 3, ImageSize, ImageSize}, Default().Export.DummyShape)
}

func TestDetectDevice(t *testing.T) {
	d, err := DetectDevice(Default().Device)
	require.NoError(t, err)
	assert.Equal(t, "cpu", d.String())
	assert.Positive(t, d.MaxProcs)
	assert.NotEmpty(t, d.Details())

	d, err = DetectDevice("")
	require.NoError(t, err)
	assert.Equal(t, "cpu", d.Name)

	_, err = DetectDevice("cuda")
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg, err := LoadServeConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServe(), cfg)
}

func TestLoadServeConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
model_path: /models/best.born
onnx_path: /models/best.onnx
release: true
history:
  dsn: "user:pass@tcp(localhost:3306)/waste"
`), 0o600))

	cfg, err := LoadServeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, BackendBorn, cfg.Backend)
	assert.Equal(t, "/models/best.born", cfg.ModelPath)
	assert.Equal(t, "/models/best.onnx", cfg.ONNXPath)
	assert.True(t, cfg.Release)
	assert.Equal(t, ImageSize, cfg.ImageSize, "unset keys keep their defaults")
	assert.Equal(t, DefaultHistoryTable, cfg.History.Table)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/waste", cfg.History.DSN)
}

func TestLoadServeConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadServeConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("addr: [unterminated"), 0o600))
	_, err = LoadServeConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("image_size: -1\n"), 0o600))
	_, err = LoadServeConfig(invalid)
	assert.ErrorContains(t, err, "image_size")
}

func TestLoadServeConfig_Backend(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	cfg, err := LoadServeConfig(write("onnx.yaml", `
backend: onnx
model_path: ""
onnx_path: /models/best.onnx
image_size: 64
`))
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, cfg.Backend)
	assert.Empty(t, cfg.ModelPath)
	assert.Equal(t, 64, cfg.ImageSize)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"onnx without graph", "backend: onnx\n", "onnx_path"},
		{"born without checkpoint", "model_path: \"\"\n", "model_path"},
		{"unknown backend", "backend: tflite\n", "unknown backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServeConfig(write(tt.name+".yaml", tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
