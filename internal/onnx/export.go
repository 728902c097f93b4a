package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/born-ml/wastenet/internal/model"
	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/tensor"
)

// Producer identification written into exported models.
const (
	ProducerName    = "wastenet"
	ProducerVersion = "0.3.0"

	// IRVersion is the ONNX IR version paired with opset 11.
	IRVersion = 6
)

// Export writes m to path as an ONNX model described by spec.
//
// The dummy input of spec.DummyShape is run through the model in evaluation
// mode first to confirm the output shape; the model's previous mode is
// restored afterwards. Identical weights always produce identical files.
func Export(m *model.WasteClassifier, spec config.ExportSpec, path string) error {
	proto, err := Build(m, spec)
	if err != nil {
		return err
	}
	//nolint:gosec // G306: exported models are meant to be shared.
	if err := os.WriteFile(path, Encode(proto), 0o644); err != nil {
		return fmt.Errorf("failed to write onnx model: %w", err)
	}
	return nil
}

// Build converts m into a ModelProto without writing it.
func Build(m *model.WasteClassifier, spec config.ExportSpec) (*ModelProto, error) {
	if len(spec.DummyShape) != 4 || spec.DummyShape[1] != 3 {
		return nil, fmt.Errorf("onnx: dummy input must be [batch, 3, H, W], got %v", spec.DummyShape)
	}
	if err := tensor.Shape(spec.DummyShape).Validate(); err != nil {
		return nil, fmt.Errorf("onnx: dummy input: %w", err)
	}

	wasTraining := m.IsTraining()
	m.SetTraining(false)
	out := m.Forward(tensor.Zeros(tensor.Shape(spec.DummyShape)))
	m.SetTraining(wasTraining)

	want := tensor.Shape{spec.DummyShape[0], m.NumClasses()}
	if !out.Shape().Equal(want) {
		return nil, fmt.Errorf("onnx: dummy output shape %v, expected %v", out.Shape(), want)
	}

	b := &graphBuilder{graph: &GraphProto{Name: "main_graph"}, fold: spec.ConstantFolding}
	x := spec.InputName
	x = b.convBN("conv1", m.Conv1(), "bn1", m.BN1(), x)
	x = b.op("Relu", "/relu1/Relu", x)
	x = b.convBN("conv2", m.Conv2(), "bn2", m.BN2(), x)
	x = b.op("Relu", "/relu2/Relu", x)
	x = b.op("GlobalAveragePool", "/global_pool/GlobalAveragePool", x)
	x = b.op("Flatten", "/Flatten", x, IntAttr("axis", 1))
	x = b.gemm("fc1", m.FC1(), x, "")
	x = b.op("Relu", "/relu3/Relu", x)
	b.gemm("fc2", m.FC2(), x, spec.OutputName)

	b.graph.Inputs = []ValueInfoProto{
		valueInfo(spec, spec.InputName, int64Dims(spec.DummyShape)),
	}
	b.graph.Outputs = []ValueInfoProto{
		valueInfo(spec, spec.OutputName, []int64{int64(spec.DummyShape[0]), int64(m.NumClasses())}),
	}

	return &ModelProto{
		IRVersion:       IRVersion,
		OpsetImport:     []OperatorSetID{{Version: spec.Opset}},
		ProducerName:    ProducerName,
		ProducerVersion: ProducerVersion,
		Graph:           b.graph,
		MetadataProps: []StringStringEntry{
			{Key: "num_classes", Value: strconv.Itoa(m.NumClasses())},
			{Key: "constant_folding", Value: strconv.FormatBool(spec.ConstantFolding)},
		},
	}, nil
}

type graphBuilder struct {
	graph *GraphProto
	fold  bool
}

func (b *graphBuilder) initializer(name string, t *tensor.Tensor) string {
	b.graph.Initializers = append(b.graph.Initializers, tensorProto(name, t))
	return name
}

// op appends a node whose output is named after the node.
func (b *graphBuilder) op(opType, name, input string, attrs ...AttributeProto) string {
	out := name + "_output_0"
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     []string{input},
		Outputs:    []string{out},
		Attributes: attrs,
	})
	return out
}

// convBN emits a Conv followed by its BatchNorm. With folding enabled the
// BatchNorm is merged into the Conv weights:
//
//	scale = gamma / sqrt(running_var + eps)
//	W' = W * scale, b' = (b - running_mean) * scale + beta
func (b *graphBuilder) convBN(convName string, conv *nn.Conv2D, bnName string, bn *nn.BatchNorm2D, input string) string {
	weight := conv.Weight().Tensor().Clone()
	bias := conv.Bias().Tensor().Clone()
	if b.fold {
		foldBatchNorm(weight, bias, bn)
	}

	k := int64(conv.KernelSize())
	p := int64(conv.Padding())
	s := int64(conv.Stride())
	nodeName := "/" + convName + "/Conv"
	out := nodeName + "_output_0"
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:   nodeName,
		OpType: "Conv",
		Inputs: []string{
			input,
			b.initializer(convName+".weight", weight),
			b.initializer(convName+".bias", bias),
		},
		Outputs: []string{out},
		Attributes: []AttributeProto{
			IntsAttr("dilations", 1, 1),
			IntAttr("group", 1),
			IntsAttr("kernel_shape", k, k),
			IntsAttr("pads", p, p, p, p),
			IntsAttr("strides", s, s),
		},
	})
	if b.fold {
		return out
	}

	bnNode := "/" + bnName + "/BatchNormalization"
	bnOut := bnNode + "_output_0"
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:   bnNode,
		OpType: "BatchNormalization",
		Inputs: []string{
			out,
			b.initializer(bnName+".weight", bn.Gamma().Tensor().Clone()),
			b.initializer(bnName+".bias", bn.Beta().Tensor().Clone()),
			b.initializer(bnName+".running_mean", bn.RunningMean().Clone()),
			b.initializer(bnName+".running_var", bn.RunningVar().Clone()),
		},
		Outputs: []string{bnOut},
		Attributes: []AttributeProto{
			FloatAttr("epsilon", bn.Eps()),
			FloatAttr("momentum", 1-bn.Momentum()),
		},
	})
	return bnOut
}

// gemm emits y = x @ W.T + b. An empty output name derives one from the
// node name.
func (b *graphBuilder) gemm(name string, l *nn.Linear, input, output string) string {
	nodeName := "/" + name + "/Gemm"
	if output == "" {
		output = nodeName + "_output_0"
	}
	b.graph.Nodes = append(b.graph.Nodes, NodeProto{
		Name:   nodeName,
		OpType: "Gemm",
		Inputs: []string{
			input,
			b.initializer(name+".weight", l.Weight().Tensor().Clone()),
			b.initializer(name+".bias", l.Bias().Tensor().Clone()),
		},
		Outputs: []string{output},
		Attributes: []AttributeProto{
			FloatAttr("alpha", 1),
			FloatAttr("beta", 1),
			IntAttr("transB", 1),
		},
	})
	return output
}

func foldBatchNorm(weight, bias *tensor.Tensor, bn *nn.BatchNorm2D) {
	w := weight.Data()
	bs := bias.Data()
	gamma := bn.Gamma().Tensor().Data()
	beta := bn.Beta().Tensor().Data()
	mean := bn.RunningMean().Data()
	variance := bn.RunningVar().Data()

	perOut := len(w) / len(bs)
	for c := range bs {
		scale := gamma[c] / float32(math.Sqrt(float64(variance[c]+bn.Eps())))
		row := w[c*perOut : (c+1)*perOut]
		for i := range row {
			row[i] *= scale
		}
		bs[c] = (bs[c]-mean[c])*scale + beta[c]
	}
}

func tensorProto(name string, t *tensor.Tensor) TensorProto {
	data := t.Data()
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return TensorProto{
		Name:     name,
		DataType: TensorProtoFloat,
		Dims:     t.Shape().Int64(),
		RawData:  raw,
	}
}

func valueInfo(spec config.ExportSpec, name string, dims []int64) ValueInfoProto {
	shape := &TensorShapeProto{Dims: make([]DimensionProto, len(dims))}
	for axis, d := range dims {
		if param := spec.DimParam(name, axis); param != "" {
			shape.Dims[axis] = DimensionProto{DimParam: param}
		} else {
			shape.Dims[axis] = DimensionProto{DimValue: d}
		}
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: TensorProtoFloat, Shape: shape}},
	}
}

func int64Dims(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}
