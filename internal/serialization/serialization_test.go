package serialization

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/born-ml/wastenet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStateDict(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	w, err := tensor.FromSlice([]float32{1, -2, 3.5, 4, 5, 6}, tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{0.25, -0.75}, tensor.Shape{2})
	require.NoError(t, err)
	return map[string]*tensor.Tensor{
		"fc.weight":       w,
		"fc.bias":         b,
		"bn.running_mean": tensor.Zeros(tensor.Shape{4}),
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	sd := testStateDict(t)

	err := Write(path, sd, Header{
		ModelType:  "WasteClassifier",
		NumClasses: 2,
		ImageSize:  128,
		Labels:     []string{"Glass", "Metal"},
		Metadata:   map[string]string{"device": "cpu"},
		Checkpoint: &CheckpointMeta{Epoch: 3, ValAcc: 87.5, OptimizerType: "AdamW"},
	})
	require.NoError(t, err)

	header, loaded, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, header.FormatVersion)
	assert.Equal(t, Version, header.Version)
	assert.Equal(t, "WasteClassifier", header.ModelType)
	assert.Equal(t, []string{"Glass", "Metal"}, header.Labels)
	assert.Equal(t, "cpu", header.Metadata["device"])
	require.NotNil(t, header.Checkpoint)
	assert.Equal(t, 3, header.Checkpoint.Epoch)
	assert.InDelta(t, 87.5, header.Checkpoint.ValAcc, 1e-9)
	assert.False(t, header.CreatedAt.IsZero())

	require.Len(t, loaded, len(sd))
	for name, want := range sd {
		got := loaded[name]
		require.NotNil(t, got, name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.Data(), got.Data(), name)
	}

	// Tensors are laid out in sorted name order.
	names := make([]string, 0, len(header.Tensors))
	for _, meta := range header.Tensors {
		names = append(names, meta.Name)
	}
	assert.Equal(t, []string{"bn.running_mean", "fc.bias", "fc.weight"}, names)
}

func TestWriteTo_Deterministic(t *testing.T) {
	header := Header{ModelType: "WasteClassifier", CreatedAt: time.Unix(0, 0).UTC()}

	var a, b bytes.Buffer
	require.NoError(t, WriteTo(&a, testStateDict(t), header))
	require.NoError(t, WriteTo(&b, testStateDict(t), header))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestWriteTo_DataIsAligned(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, testStateDict(t), Header{}))

	header, _, err := Decode(buf.Bytes())
	require.NoError(t, err)

	var dataSize int64
	for _, meta := range header.Tensors {
		dataSize += meta.Size
	}
	assert.Zero(t, (int64(buf.Len())-dataSize)%HeaderAlignment)
}

func TestReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, Write(path, testStateDict(t), Header{Labels: []string{"a", "b"}}))

	header, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header.Labels)
	assert.Len(t, header.Tensors, 3)
}

func encoded(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, testStateDict(t), Header{}))
	return buf.Bytes()
}

func TestDecode_InvalidMagic(t *testing.T) {
	data := encoded(t)
	copy(data, "NOPE")
	_, _, err := Decode(data)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	data := encoded(t)
	data[4] = 9
	_, _, err := Decode(data)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	data := encoded(t)
	data[len(data)-1] ^= 0xFF
	_, _, err := Decode(data)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecode_Truncated(t *testing.T) {
	data := encoded(t)
	_, _, err := Decode(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Decode(data[:10])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestRead_MissingFile(t *testing.T) {
	_, _, err := Read(filepath.Join(t.TempDir(), "absent.born"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrite_RejectsBadTensorName(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTo(&buf, map[string]*tensor.Tensor{"../evil": tensor.Zeros(tensor.Shape{1})}, Header{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid_name", verr.Type)
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		errType  string
	}{
		{
			name:     "valid",
			tensors:  []TensorMeta{{Name: "a", DType: DTypeFloat32, Shape: []int{2}, Offset: 0, Size: 8}},
			dataSize: 8,
		},
		{
			name:     "size does not match shape",
			tensors:  []TensorMeta{{Name: "a", DType: DTypeFloat32, Shape: []int{3}, Offset: 0, Size: 8}},
			dataSize: 12,
			errType:  "size_mismatch",
		},
		{
			name:     "out of bounds",
			tensors:  []TensorMeta{{Name: "a", DType: DTypeFloat32, Shape: []int{2}, Offset: 4, Size: 8}},
			dataSize: 8,
			errType:  "out_of_bounds",
		},
		{
			name: "overlap",
			tensors: []TensorMeta{
				{Name: "a", DType: DTypeFloat32, Shape: []int{2}, Offset: 0, Size: 8},
				{Name: "b", DType: DTypeFloat32, Shape: []int{2}, Offset: 4, Size: 8},
			},
			dataSize: 16,
			errType:  "offset_overlap",
		},
		{
			name:     "wrong dtype",
			tensors:  []TensorMeta{{Name: "a", DType: "int64", Shape: []int{1}, Offset: 0, Size: 8}},
			dataSize: 8,
			errType:  "unsupported_dtype",
		},
		{
			name: "duplicate",
			tensors: []TensorMeta{
				{Name: "a", DType: DTypeFloat32, Shape: []int{1}, Offset: 0, Size: 4},
				{Name: "a", DType: DTypeFloat32, Shape: []int{1}, Offset: 4, Size: 4},
			},
			dataSize: 8,
			errType:  "duplicate_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&Header{Tensors: tt.tensors}, tt.dataSize)
			if tt.errType == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.errType, verr.Type)
		})
	}
}
