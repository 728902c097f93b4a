// Package config holds the training constants and the structures derived
// from them.
//
// Every tunable of a training run is a compile-time constant; Default
// collects them into a Config value that the trainer consumes. Tests build
// their own Config with smaller sizes.
package config

// Training constants.
const (
	DataDir       = "./dataset/raw"
	BatchSize     = 8
	NumEpochs     = 50
	LearningRate  = 0.001
	ModelSavePath = "model.born"
	ONNXSavePath  = "model.onnx"
	ImageSize     = 128
	NumClasses    = 9

	// EarlyStoppingPatience is declared but no training loop consults it.
	EarlyStoppingPatience = 3

	// Device names the compute target. Only the CPU is supported.
	Device = "cpu"

	WeightDecay = 0.01
	LRFactor    = 0.1
	LRPatience  = 2
	ValRatio    = 0.2
	FlipProb    = 0.2

	// Seed drives the train/validation split, shuffling, augmentation and
	// weight initialization.
	Seed = 42
)

// Labels are the class names in directory enumeration order.
var Labels = []string{
	"Cardboard",
	"Food Organics",
	"Glass",
	"Metal",
	"Miscellaneous Trash",
	"Paper",
	"Plastic",
	"Textile Trash",
	"Vegetation",
}

// Config is the full set of values a training run needs.
type Config struct {
	DataDir       string
	BatchSize     int
	Epochs        int
	LearningRate  float32
	WeightDecay   float32
	LRFactor      float32
	LRPatience    int
	ValRatio      float64
	FlipProb      float64
	ImageSize     int
	NumClasses    int
	Seed          uint64
	ModelSavePath string
	ONNXSavePath  string
	Device        string

	// EarlyStoppingPatience is carried but unused.
	EarlyStoppingPatience int

	Export ExportSpec
}

// Default returns the configuration built from the package constants.
func Default() Config {
	return Config{
		DataDir:               DataDir,
		BatchSize:             BatchSize,
		Epochs:                NumEpochs,
		LearningRate:          LearningRate,
		WeightDecay:           WeightDecay,
		LRFactor:              LRFactor,
		LRPatience:            LRPatience,
		ValRatio:              ValRatio,
		FlipProb:              FlipProb,
		ImageSize:             ImageSize,
		NumClasses:            NumClasses,
		Seed:                  Seed,
		ModelSavePath:         ModelSavePath,
		ONNXSavePath:          ONNXSavePath,
		Device:                Device,
		EarlyStoppingPatience: EarlyStoppingPatience,
		Export:                NewExportSpec(ImageSize),
	}
}
