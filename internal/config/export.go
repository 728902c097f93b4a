package config

// ONNX export defaults.
const (
	ExportOpset     = 11
	InputName       = "input"
	OutputName      = "output"
	BatchAxisName   = "batch_size"
	dummyBatch      = 1
	imageChannelsIn = 3
)

// ExportSpec describes how a trained model is written to ONNX: the shape of
// the representative input traced through the network, the graph I/O names,
// and which axes are symbolic.
type ExportSpec struct {
	InputName  string
	OutputName string

	// DummyShape is the [batch, channels, height, width] shape of the
	// input run through the model before export.
	DummyShape []int

	// DynamicAxes maps a graph I/O name to its symbolic axes, e.g.
	// {"input": {0: "batch_size"}}.
	DynamicAxes map[string]map[int]string

	Opset           int64
	ConstantFolding bool
}

// NewExportSpec derives the export configuration from the image size so the
// dummy input always matches the training resolution.
func NewExportSpec(imageSize int) ExportSpec {
	return ExportSpec{
		InputName:  InputName,
		OutputName: OutputName,
		DummyShape: []int{dummyBatch, imageChannelsIn, imageSize, imageSize},
		DynamicAxes: map[string]map[int]string{
			InputName:  {0: BatchAxisName},
			OutputName: {0: BatchAxisName},
		},
		Opset:           ExportOpset,
		ConstantFolding: true,
	}
}

// DimParam returns the symbolic name of axis on the named graph value, or ""
// when the axis is static.
func (s ExportSpec) DimParam(name string, axis int) string {
	return s.DynamicAxes[name][axis]
}
