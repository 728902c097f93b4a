// Package onnx exports the waste classifier to ONNX and runs exported graphs.
//
// The protobuf wire format is written and read with
// google.golang.org/protobuf/encoding/protowire against hand-written message
// structs that model only the fields this package uses.
//
// Key components:
//   - Export/Build: WasteClassifier -> ModelProto (opset 11, IR version 6),
//     BatchNorm folded into the preceding Conv when constant folding is on
//   - Encode: deterministic serialization, equal models give equal bytes
//   - Parse/ParseFile: decode .onnx files, packed or unpacked repeated fields
//   - Load/LoadFile: compile a graph of Conv, BatchNormalization, Relu,
//     GlobalAveragePool, Flatten and Gemm nodes onto package nn layers
//
// Example usage:
//
//	spec := config.NewExportSpec(config.ImageSize)
//	if err := onnx.Export(m, spec, "model.onnx"); err != nil {
//	    return err
//	}
//
//	g, err := onnx.LoadFile("model.onnx")
//	if err != nil {
//	    return err
//	}
//	logits, err := g.Forward(batch)
package onnx
