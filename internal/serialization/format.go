package serialization

import "time"

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2    // With SHA-256 checksum
	HeaderAlignment = 64   // Align tensor data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header

	// DTypeFloat32 is the only element type a checkpoint carries.
	DTypeFloat32 = "float32"
)

// Flags for the .born format.
const (
	FlagHasMetadata   uint32 = 1 << 2 // bit 2: custom metadata included
	FlagHasCheckpoint uint32 = 1 << 3 // bit 3: training checkpoint metadata included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`       // Version of the .born format
	Version       string            `json:"version"`              // Version of the program that wrote the file
	ModelType     string            `json:"model_type"`           // Type of model (e.g., "WasteClassifier")
	CreatedAt     time.Time         `json:"created_at"`           // When the file was created
	NumClasses    int               `json:"num_classes"`          // Size of the output layer
	ImageSize     int               `json:"image_size"`           // Training resolution (square)
	Labels        []string          `json:"labels"`               // Class names in index order
	Tensors       []TensorMeta      `json:"tensors"`              // Tensor metadata
	Metadata      map[string]string `json:"metadata"`             // Custom metadata
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"` // Training metadata (optional)
}

// CheckpointMeta records the training state the snapshot was taken at.
type CheckpointMeta struct {
	RunID           string         `json:"run_id"`           // Identifier of the training run
	Epoch           int            `json:"epoch"`            // 1-based epoch of the snapshot
	Epochs          int            `json:"epochs"`           // Configured epoch count
	TrainLoss       float64        `json:"train_loss"`       // Training loss at that epoch
	TrainAcc        float64        `json:"train_acc"`        // Training accuracy (%)
	ValLoss         float64        `json:"val_loss"`         // Validation loss at that epoch
	ValAcc          float64        `json:"val_acc"`          // Validation accuracy (%)
	LR              float64        `json:"lr"`               // Learning rate during that epoch
	OptimizerType   string         `json:"optimizer_type"`   // Optimizer type ("AdamW")
	OptimizerConfig map[string]any `json:"optimizer_config"` // Optimizer hyperparameters
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "conv1.weight")
	DType  string `json:"dtype"`  // Data type, always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section (bytes from start of tensor data)
	Size   int64  `json:"size"`   // Size in bytes
}
