package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a known field arrives with an unexpected
// protobuf wire type.
var ErrWireType = errors.New("unexpected wire type")

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*ModelProto, error) {
	//nolint:gosec // G304: Path comes from configuration, file inclusion is intentional.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes. Unknown fields are skipped.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := parseModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// field is one decoded protobuf field.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// walk calls fn for every field in a message.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: %w %d", f.num, ErrWireType, f.typ)
	}
	return nil
}

func (f field) str() (string, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.bytes), nil
}

func (f field) int64() (int64, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return int64(f.varint), nil //nolint:gosec // G115: protobuf int64 is two's complement.
}

// int64s decodes a repeated int64 field in either packed or unpacked form.
func (f field) int64s() ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return []int64{int64(f.varint)}, nil //nolint:gosec // G115: two's complement.
	case protowire.BytesType:
		var out []int64
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", f.num, protowire.ParseError(n))
			}
			out = append(out, int64(v)) //nolint:gosec // G115: two's complement.
			b = b[n:]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %d: %w %d", f.num, ErrWireType, f.typ)
	}
}

// float32s decodes a repeated float field in either packed or unpacked form.
func (f field) float32s() ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return []float32{math.Float32frombits(f.fixed32)}, nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, fmt.Errorf("field %d: packed floats of %d bytes", f.num, len(f.bytes))
		}
		out := make([]float32, 0, len(f.bytes)/4)
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			out = append(out, math.Float32frombits(v))
			b = b[n:]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %d: %w %d", f.num, ErrWireType, f.typ)
	}
}

//nolint:gocyclo,cyclop // Field-by-field switch.
func parseModel(b []byte, m *ModelProto) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // ir_version
			m.IRVersion, err = f.int64()
		case 2: // producer_name
			m.ProducerName, err = f.str()
		case 3: // producer_version
			m.ProducerVersion, err = f.str()
		case 4: // domain
			m.Domain, err = f.str()
		case 5: // model_version
			m.ModelVersion, err = f.int64()
		case 6: // doc_string
			m.DocString, err = f.str()
		case 7: // graph
			if err = f.want(protowire.BytesType); err == nil {
				m.Graph = &GraphProto{}
				err = parseGraph(f.bytes, m.Graph)
			}
		case 8: // opset_import
			if err = f.want(protowire.BytesType); err == nil {
				var op OperatorSetID
				err = walk(f.bytes, func(f field) error {
					var err error
					switch f.num {
					case 1:
						op.Domain, err = f.str()
					case 2:
						op.Version, err = f.int64()
					}
					return err
				})
				m.OpsetImport = append(m.OpsetImport, op)
			}
		case 14: // metadata_props
			if err = f.want(protowire.BytesType); err == nil {
				var e StringStringEntry
				err = walk(f.bytes, func(f field) error {
					var err error
					switch f.num {
					case 1:
						e.Key, err = f.str()
					case 2:
						e.Value, err = f.str()
					}
					return err
				})
				m.MetadataProps = append(m.MetadataProps, e)
			}
		}
		return err
	})
}

func parseGraph(b []byte, g *GraphProto) error {
	return walk(b, func(f field) error {
		if f.num != 2 && f.num != 10 && f.num != 1 && f.num != 5 && f.num != 11 && f.num != 12 {
			return nil
		}
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		switch f.num {
		case 1: // node
			var n NodeProto
			if err := parseNode(f.bytes, &n); err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case 2: // name
			g.Name = string(f.bytes)
		case 5: // initializer
			var t TensorProto
			if err := parseTensor(f.bytes, &t); err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case 10: // doc_string
			g.DocString = string(f.bytes)
		case 11, 12: // input, output
			var v ValueInfoProto
			if err := parseValueInfo(f.bytes, &v); err != nil {
				return err
			}
			if f.num == 11 {
				g.Inputs = append(g.Inputs, v)
			} else {
				g.Outputs = append(g.Outputs, v)
			}
		}
		return nil
	})
}

func parseNode(b []byte, n *NodeProto) error {
	return walk(b, func(f field) error {
		var (
			s   string
			err error
		)
		switch f.num {
		case 1: // input
			s, err = f.str()
			n.Inputs = append(n.Inputs, s)
		case 2: // output
			s, err = f.str()
			n.Outputs = append(n.Outputs, s)
		case 3: // name
			n.Name, err = f.str()
		case 4: // op_type
			n.OpType, err = f.str()
		case 5: // attribute
			if err = f.want(protowire.BytesType); err == nil {
				var a AttributeProto
				err = parseAttribute(f.bytes, &a)
				n.Attributes = append(n.Attributes, a)
			}
		case 7: // domain
			n.Domain, err = f.str()
		}
		return err
	})
}

//nolint:gocyclo,cyclop // Field-by-field switch.
func parseAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // name
			a.Name, err = f.str()
		case 2: // f
			if err = f.want(protowire.Fixed32Type); err == nil {
				a.F = math.Float32frombits(f.fixed32)
			}
		case 3: // i
			a.I, err = f.int64()
		case 4: // s
			if err = f.want(protowire.BytesType); err == nil {
				a.S = append([]byte(nil), f.bytes...)
			}
		case 7: // floats
			var fs []float32
			if fs, err = f.float32s(); err == nil {
				a.Floats = append(a.Floats, fs...)
			}
		case 8: // ints
			var is []int64
			if is, err = f.int64s(); err == nil {
				a.Ints = append(a.Ints, is...)
			}
		case 20: // type
			var t int64
			t, err = f.int64()
			a.Type = int32(t) //nolint:gosec // G115: attribute types are small.
		}
		return err
	})
}

func parseTensor(b []byte, t *TensorProto) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1: // dims
			var dims []int64
			if dims, err = f.int64s(); err == nil {
				t.Dims = append(t.Dims, dims...)
			}
		case 2: // data_type
			var dt int64
			dt, err = f.int64()
			t.DataType = int32(dt) //nolint:gosec // G115: data types are small.
		case 4: // float_data
			var fs []float32
			if fs, err = f.float32s(); err == nil {
				t.FloatData = append(t.FloatData, fs...)
			}
		case 8: // name
			t.Name, err = f.str()
		case 9: // raw_data
			if err = f.want(protowire.BytesType); err == nil {
				t.RawData = append([]byte(nil), f.bytes...)
			}
		}
		return err
	})
}

func parseValueInfo(b []byte, v *ValueInfoProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1: // name
			s, err := f.str()
			v.Name = s
			return err
		case 2: // type
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			v.Type = &TypeProto{}
			return walk(f.bytes, func(f field) error {
				if f.num != 1 { // tensor_type
					return nil
				}
				if err := f.want(protowire.BytesType); err != nil {
					return err
				}
				v.Type.TensorType = &TensorTypeProto{}
				return parseTensorType(f.bytes, v.Type.TensorType)
			})
		}
		return nil
	})
}

func parseTensorType(b []byte, tt *TensorTypeProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1: // elem_type
			et, err := f.int64()
			tt.ElemType = int32(et) //nolint:gosec // G115: data types are small.
			return err
		case 2: // shape
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			tt.Shape = &TensorShapeProto{}
			return walk(f.bytes, func(f field) error {
				if f.num != 1 { // dim
					return nil
				}
				if err := f.want(protowire.BytesType); err != nil {
					return err
				}
				var d DimensionProto
				err := walk(f.bytes, func(f field) error {
					var err error
					switch f.num {
					case 1:
						d.DimValue, err = f.int64()
					case 2:
						d.DimParam, err = f.str()
					}
					return err
				})
				tt.Shape.Dims = append(tt.Shape.Dims, d)
				return err
			})
		}
		return nil
	})
}
