// Package onnx provides ONNX export and import for the waste classifier.
//
// Exported graphs use opset 11 with a symbolic batch_size dimension on the
// input and output. With constant folding enabled, each BatchNormalization
// is merged into the Conv before it.
//
// # Example Usage
//
//	import (
//	    "github.com/born-ml/wastenet/onnx"
//	)
//
//	// Inspect an exported model without compiling it
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Opset:", info.OpsetVersion, "Operators:", info.Operators)
//
//	// Load and run
//	model, err := onnx.Load("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logits, err := model.Forward(batch)
//
// # Supported Operators
//
//   - Convolution: Conv (2D, group 1, symmetric padding)
//   - Normalization: BatchNormalization (inference)
//   - Activation: Relu
//   - Pooling: GlobalAveragePool
//   - Matrix: Gemm, Flatten
//
// Use [ListSupportedOps] to get the complete list of supported operators.
package onnx

import (
	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/model"
	internalonnx "github.com/born-ml/wastenet/internal/onnx"
)

// ExportSpec configures Export.
type ExportSpec = config.ExportSpec

// Signature describes a graph input or output.
type Signature = internalonnx.Signature

// NewExportSpec returns the export configuration for a square image size:
// dummy input [1, 3, size, size], opset 11, batch axis dynamic, constant
// folding on.
func NewExportSpec(imageSize int) ExportSpec {
	return config.NewExportSpec(imageSize)
}

// Export writes m to path.
//
// Example:
//
//	spec := onnx.NewExportSpec(128)
//	if err := onnx.Export(m, spec, "model.onnx"); err != nil {
//	    log.Fatal(err)
//	}
func Export(m *model.WasteClassifier, spec ExportSpec, path string) error {
	return internalonnx.Export(m, spec, path)
}

// Load loads an ONNX model from a file path.
//
// The function parses the ONNX protobuf format, validates operators,
// and compiles the graph onto the CPU layers.
func Load(path string) (Model, error) {
	m, err := internalonnx.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromBytes loads an ONNX model from raw bytes.
//
// Example:
//
//	modelBytes, _ := os.ReadFile("model.onnx")
//	model, err := onnx.LoadFromBytes(modelBytes)
func LoadFromBytes(data []byte) (Model, error) {
	proto, err := internalonnx.Parse(data)
	if err != nil {
		return nil, err
	}
	m, err := internalonnx.Load(proto)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ModelInfo contains metadata about an ONNX model without loading weights.
//
// Use [GetModelInfo] to quickly inspect a model file before loading.
type ModelInfo struct {
	ProducerName    string
	ProducerVersion string
	IRVersion       int64
	OpsetVersion    int64
	Inputs          []Signature
	Outputs         []Signature
	Operators       []string // in graph order
	Metadata        map[string]string
}

// GetModelInfo extracts metadata from an ONNX file without compiling the
// graph, so models with unsupported operators can still be inspected.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := internalonnx.ParseFile(path)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		IRVersion:       proto.IRVersion,
		Metadata:        make(map[string]string, len(proto.MetadataProps)),
	}
	for _, op := range proto.OpsetImport {
		if op.Domain == "" || op.Domain == "ai.onnx" {
			info.OpsetVersion = op.Version
		}
	}
	for _, prop := range proto.MetadataProps {
		info.Metadata[prop.Key] = prop.Value
	}
	if g := proto.Graph; g != nil {
		for i := range g.Inputs {
			info.Inputs = append(info.Inputs, signature(&g.Inputs[i]))
		}
		for i := range g.Outputs {
			info.Outputs = append(info.Outputs, signature(&g.Outputs[i]))
		}
		for _, n := range g.Nodes {
			info.Operators = append(info.Operators, n.OpType)
		}
	}
	return info, nil
}

func signature(v *internalonnx.ValueInfoProto) Signature {
	dims, params := v.Shape()
	return Signature{Name: v.Name, Dims: dims, Params: params}
}

// ListSupportedOps returns the ONNX operators Load can execute.
func ListSupportedOps() []string {
	return internalonnx.SupportedOps()
}
