package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Serve defaults.
const (
	DefaultListenAddr   = ":8080"
	DefaultHistoryTable = "predictions"
	DefaultMaxUploadMB  = 10
)

// Serving backends.
const (
	BackendBorn = "born"
	BackendONNX = "onnx"
)

// ServeConfig configures the inference server.
type ServeConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// Backend selects what /predict runs: "born" serves the checkpoint at
	// ModelPath, "onnx" serves the graph at ONNXPath.
	Backend string `yaml:"backend"`

	// ModelPath is the checkpoint to serve. With the onnx backend it is
	// optional and only supplies class labels.
	ModelPath string `yaml:"model_path"`

	// ONNXPath points at the exported graph. Its signature is reported by
	// GET /model.
	ONNXPath string `yaml:"onnx_path"`

	// ImageSize is the input resolution of the onnx backend. Checkpoints
	// carry their own.
	ImageSize   int   `yaml:"image_size"`
	MaxUploadMB int64 `yaml:"max_upload_mb"`

	// Release switches gin into release mode.
	Release bool `yaml:"release"`

	History HistoryConfig `yaml:"history"`
}

// HistoryConfig configures the prediction history store. An empty DSN
// disables recording.
type HistoryConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// DefaultServe returns the server configuration used when no file is given.
func DefaultServe() ServeConfig {
	return ServeConfig{
		Addr:        DefaultListenAddr,
		Backend:     BackendBorn,
		ModelPath:   ModelSavePath,
		ImageSize:   ImageSize,
		MaxUploadMB: DefaultMaxUploadMB,
		History: HistoryConfig{
			Table: DefaultHistoryTable,
		},
	}
}

// LoadServeConfig reads a YAML file over the defaults. An empty path
// returns the defaults.
func LoadServeConfig(path string) (ServeConfig, error) {
	cfg := DefaultServe()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ServeConfig{}, fmt.Errorf("failed to read serve config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServeConfig{}, fmt.Errorf("failed to parse serve config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ServeConfig{}, err
	}
	return cfg, nil
}

// Validate checks that required fields are set.
func (c ServeConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("serve config: addr is empty")
	}
	switch c.Backend {
	case BackendBorn:
		if c.ModelPath == "" {
			return fmt.Errorf("serve config: model_path is empty")
		}
	case BackendONNX:
		if c.ONNXPath == "" {
			return fmt.Errorf("serve config: onnx_path is required by the onnx backend")
		}
	default:
		return fmt.Errorf("serve config: unknown backend %q", c.Backend)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("serve config: invalid image_size %d", c.ImageSize)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("serve config: invalid max_upload_mb %d", c.MaxUploadMB)
	}
	if c.History.DSN != "" && c.History.Table == "" {
		return fmt.Errorf("serve config: history.table is empty")
	}
	return nil
}
