package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/wastenet/internal/nn"
	"github.com/born-ml/wastenet/internal/tensor"
)

// ErrUnsupportedOp is returned by Load for operators the runtime cannot
// execute.
var ErrUnsupportedOp = errors.New("unsupported operator")

// opBuilder turns a node and the graph's initializers into a layer.
type opBuilder func(node *NodeProto, weights map[string]*tensor.Tensor) (nn.Module, error)

// registry maps ONNX operator types to layer builders. It covers the
// operators the classifier exports, folded or not.
var registry = map[string]opBuilder{
	"Conv":               buildConv,
	"BatchNormalization": buildBatchNorm,
	"Gemm":               buildGemm,
	"Relu":               func(*NodeProto, map[string]*tensor.Tensor) (nn.Module, error) { return nn.NewReLU(), nil },
	"GlobalAveragePool":  func(*NodeProto, map[string]*tensor.Tensor) (nn.Module, error) { return nn.NewGlobalAvgPool2D(), nil },
	"Flatten":            buildFlatten,
}

// SupportedOps returns the operator types Load accepts, sorted.
func SupportedOps() []string {
	ops := make([]string, 0, len(registry))
	for op := range registry {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

type step struct {
	opType string
	layer  nn.Module
	input  string
	output string
}

// Model is a loaded ONNX graph ready for inference on the CPU layers of
// package nn. Nodes must be listed in execution order and take one
// activation input each.
//
// Forward is not safe for concurrent use: layers cache activations.
type Model struct {
	proto        *ModelProto
	steps        []step
	input        ValueInfoProto
	output       ValueInfoProto
	opsetVersion int64
}

// LoadFile parses and loads an ONNX model from path.
func LoadFile(path string) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Load(proto)
}

// Load compiles a parsed graph into executable steps.
func Load(proto *ModelProto) (*Model, error) {
	g := proto.Graph
	if g == nil {
		return nil, errors.New("onnx: model has no graph")
	}
	if len(g.Outputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 graph output, got %d", len(g.Outputs))
	}

	weights := make(map[string]*tensor.Tensor, len(g.Initializers))
	for i := range g.Initializers {
		t, err := decodeTensor(&g.Initializers[i])
		if err != nil {
			return nil, err
		}
		weights[g.Initializers[i].Name] = t
	}

	// The activation input is the one graph input that is not a weight.
	m := &Model{proto: proto}
	found := false
	for _, in := range g.Inputs {
		if _, ok := weights[in.Name]; ok {
			continue
		}
		if found {
			return nil, fmt.Errorf("onnx: more than one activation input (%s)", in.Name)
		}
		m.input = in
		found = true
	}
	if !found {
		return nil, errors.New("onnx: graph has no activation input")
	}
	m.output = g.Outputs[0]

	for _, op := range proto.OpsetImport {
		if op.Domain == "" || op.Domain == "ai.onnx" {
			m.opsetVersion = op.Version
		}
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		build, ok := registry[node.OpType]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, node.OpType)
		}
		if len(node.Inputs) == 0 || len(node.Outputs) != 1 {
			return nil, fmt.Errorf("onnx: node %s: expected 1 output and at least 1 input", node.Name)
		}
		layer, err := build(node, weights)
		if err != nil {
			return nil, fmt.Errorf("onnx: node %s (%s): %w", node.Name, node.OpType, err)
		}
		m.steps = append(m.steps, step{
			opType: node.OpType,
			layer:  layer,
			input:  node.Inputs[0],
			output: node.Outputs[0],
		})
	}
	return m, nil
}

// Forward runs the graph on input and returns the graph output.
func (m *Model) Forward(input *tensor.Tensor) (out *tensor.Tensor, err error) {
	dims, _ := m.input.Shape()
	shape := input.Shape()
	if dims != nil {
		if len(dims) != len(shape) {
			return nil, fmt.Errorf("onnx: input rank %d, expected %d", len(shape), len(dims))
		}
		for i, d := range dims {
			if d >= 0 && int64(shape[i]) != d {
				return nil, fmt.Errorf("onnx: input shape %v does not match %v", shape, dims)
			}
		}
	}

	// Layers panic on shape mismatches deeper in the graph.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("onnx: forward: %v", r)
		}
	}()

	values := map[string]*tensor.Tensor{m.input.Name: input}
	for _, s := range m.steps {
		x, ok := values[s.input]
		if !ok {
			return nil, fmt.Errorf("onnx: value %q used before it is produced", s.input)
		}
		values[s.output] = s.layer.Forward(x)
	}
	out, ok := values[m.output.Name]
	if !ok {
		return nil, fmt.Errorf("onnx: graph output %q is never produced", m.output.Name)
	}
	return out, nil
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return []string{m.input.Name}
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return []string{m.output.Name}
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	return meta
}

// Signature describes one graph input or output. Symbolic dimensions are
// reported as -1 with their name in Params.
type Signature struct {
	Name   string   `json:"name"`
	Dims   []int64  `json:"dims"`
	Params []string `json:"params,omitempty"`
}

// Signature returns the input and output descriptions.
func (m *Model) Signature() (input, output Signature) {
	return signature(&m.input), signature(&m.output)
}

// OpTypes returns the operator type of every step in execution order.
func (m *Model) OpTypes() []string {
	ops := make([]string, len(m.steps))
	for i, s := range m.steps {
		ops[i] = s.opType
	}
	return ops
}

func signature(v *ValueInfoProto) Signature {
	dims, params := v.Shape()
	hasParam := false
	for _, p := range params {
		hasParam = hasParam || p != ""
	}
	if !hasParam {
		params = nil
	}
	return Signature{Name: v.Name, Dims: dims, Params: params}
}

func decodeTensor(tp *TensorProto) (*tensor.Tensor, error) {
	if tp.DataType != TensorProtoFloat {
		return nil, fmt.Errorf("onnx: initializer %s: unsupported data type %d", tp.Name, tp.DataType)
	}
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		shape[i] = int(d)
	}
	n := shape.NumElements()

	var data []float32
	switch {
	case len(tp.RawData) > 0:
		if len(tp.RawData) != 4*n {
			return nil, fmt.Errorf("onnx: initializer %s: %d raw bytes for %d elements", tp.Name, len(tp.RawData), n)
		}
		data = make([]float32, n)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(tp.RawData[i*4:]))
		}
	default:
		data = tp.FloatData
	}

	t, err := tensor.FromSlice(data, shape)
	if err != nil {
		return nil, fmt.Errorf("onnx: initializer %s: %w", tp.Name, err)
	}
	return t, nil
}

// weightInputs resolves node inputs 1..n to initializers.
func weightInputs(node *NodeProto, weights map[string]*tensor.Tensor, n int) ([]*tensor.Tensor, error) {
	if len(node.Inputs) != n+1 {
		return nil, fmt.Errorf("expected %d inputs, got %d", n+1, len(node.Inputs))
	}
	out := make([]*tensor.Tensor, n)
	for i, name := range node.Inputs[1:] {
		t, ok := weights[name]
		if !ok {
			return nil, fmt.Errorf("input %q is not an initializer", name)
		}
		out[i] = t
	}
	return out, nil
}

func allEqual(vals []int64, want int64) bool {
	for _, v := range vals {
		if v != want {
			return false
		}
	}
	return true
}

func buildConv(node *NodeProto, weights map[string]*tensor.Tensor) (nn.Module, error) {
	if node.AttrInt("group", 1) != 1 {
		return nil, errors.New("grouped convolution")
	}
	if !allEqual(node.AttrInts("dilations"), 1) {
		return nil, fmt.Errorf("dilations %v", node.AttrInts("dilations"))
	}

	stride := int64(1)
	if s := node.AttrInts("strides"); len(s) > 0 {
		if !allEqual(s, s[0]) {
			return nil, fmt.Errorf("non-uniform strides %v", s)
		}
		stride = s[0]
	}
	padding := int64(0)
	if p := node.AttrInts("pads"); len(p) > 0 {
		if !allEqual(p, p[0]) {
			return nil, fmt.Errorf("asymmetric pads %v", p)
		}
		padding = p[0]
	}

	var bias *tensor.Tensor
	switch len(node.Inputs) {
	case 2:
		w, ok := weights[node.Inputs[1]]
		if !ok {
			return nil, fmt.Errorf("input %q is not an initializer", node.Inputs[1])
		}
		ws := w.Shape()
		if len(ws) == 0 {
			return nil, fmt.Errorf("weight shape %v", ws)
		}
		bias = tensor.Zeros(tensor.Shape{ws[0]})
		return nn.NewConv2DFromWeights(w, bias, int(stride), int(padding))
	default:
		wb, err := weightInputs(node, weights, 2)
		if err != nil {
			return nil, err
		}
		return nn.NewConv2DFromWeights(wb[0], wb[1], int(stride), int(padding))
	}
}

func buildBatchNorm(node *NodeProto, weights map[string]*tensor.Tensor) (nn.Module, error) {
	ws, err := weightInputs(node, weights, 4)
	if err != nil {
		return nil, err
	}
	gamma, beta, mean, variance := ws[0], ws[1], ws[2], ws[3]
	if len(gamma.Shape()) != 1 {
		return nil, fmt.Errorf("scale shape %v", gamma.Shape())
	}

	// ONNX momentum weights the running value; nn's weights the batch value.
	bn := nn.NewBatchNorm2D(gamma.Shape()[0], node.AttrFloat("epsilon", 1e-5), 1-node.AttrFloat("momentum", 0.9))
	for _, c := range []struct {
		dst, src *tensor.Tensor
		name     string
	}{
		{bn.Gamma().Tensor(), gamma, "scale"},
		{bn.Beta().Tensor(), beta, "bias"},
		{bn.RunningMean(), mean, "mean"},
		{bn.RunningVar(), variance, "var"},
	} {
		if err := c.dst.CopyFrom(c.src); err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	bn.SetTraining(false)
	return bn, nil
}

func buildGemm(node *NodeProto, weights map[string]*tensor.Tensor) (nn.Module, error) {
	if node.AttrFloat("alpha", 1) != 1 || node.AttrFloat("beta", 1) != 1 {
		return nil, errors.New("alpha and beta must be 1")
	}
	if node.AttrInt("transA", 0) != 0 {
		return nil, errors.New("transA is not supported")
	}
	wb, err := weightInputs(node, weights, 2)
	if err != nil {
		return nil, err
	}
	w := wb[0]
	if node.AttrInt("transB", 0) == 0 {
		w = transpose2D(w)
		if w == nil {
			return nil, fmt.Errorf("weight shape %v", wb[0].Shape())
		}
	}
	return nn.NewLinearFromWeights(w, wb[1])
}

func buildFlatten(node *NodeProto, _ map[string]*tensor.Tensor) (nn.Module, error) {
	if axis := node.AttrInt("axis", 1); axis != 1 {
		return nil, fmt.Errorf("axis %d", axis)
	}
	return nn.NewFlatten(), nil
}

// transpose2D returns the transpose of a 2-D tensor, or nil for other ranks.
func transpose2D(t *tensor.Tensor) *tensor.Tensor {
	s := t.Shape()
	if len(s) != 2 {
		return nil
	}
	rows, cols := s[0], s[1]
	out := tensor.Zeros(tensor.Shape{cols, rows})
	src, dst := t.Data(), out.Data()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst[c*rows+r] = src[r*cols+c]
		}
	}
	return out
}
