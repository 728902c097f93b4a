package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/born-ml/wastenet/internal/tensor"
)

// Read loads a .born file and returns its header and state dict.
func Read(path string) (Header, map[string]*tensor.Tensor, error) {
	//nolint:gosec // G304: File path comes from configuration, which is expected for model loading
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("failed to read file: %w", err)
	}
	header, stateDict, err := Decode(data)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return header, stateDict, nil
}

// ReadHeader returns only the header of a .born file. Tensor data is not
// verified.
func ReadHeader(path string) (Header, error) {
	//nolint:gosec // G304: File path comes from configuration
	file, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fixed := make([]byte, FixedHeaderSize)
	if _, err := file.ReadAt(fixed, 0); err != nil {
		return Header{}, fmt.Errorf("%w: fixed header: %w", ErrTruncated, err)
	}
	headerSize, _, err := parseFixedHeader(fixed)
	if err != nil {
		return Header{}, err
	}
	headerJSON := make([]byte, headerSize)
	if _, err := file.ReadAt(headerJSON, FixedHeaderSize); err != nil {
		return Header{}, fmt.Errorf("%w: header: %w", ErrTruncated, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Header{}, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return header, nil
}

// Decode parses an in-memory .born file.
func Decode(data []byte) (Header, map[string]*tensor.Tensor, error) {
	if len(data) < FixedHeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	headerSize, dataSize, err := parseFixedHeader(data[:FixedHeaderSize])
	if err != nil {
		return Header{}, nil, err
	}

	headerEnd := int64(FixedHeaderSize) + headerSize
	dataOffset := headerEnd + alignPadding(headerEnd)
	if int64(len(data)) < dataOffset+dataSize {
		return Header{}, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, dataOffset+dataSize, len(data))
	}

	var header Header
	if err := json.Unmarshal(data[FixedHeaderSize:headerEnd], &header); err != nil {
		return Header{}, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	section := data[dataOffset : dataOffset+dataSize]
	var stored [ChecksumSize]byte
	copy(stored[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize])
	if err := ValidateChecksum(ComputeChecksum(section), stored); err != nil {
		return Header{}, nil, err
	}

	if err := ValidateHeader(&header, dataSize); err != nil {
		return Header{}, nil, fmt.Errorf("validation failed: %w", err)
	}

	stateDict := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		raw := section[meta.Offset : meta.Offset+meta.Size]
		t := tensor.Zeros(tensor.Shape(meta.Shape))
		values := t.Data()
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		stateDict[meta.Name] = t
	}
	return header, stateDict, nil
}

// parseFixedHeader returns the JSON header size and the data section size.
func parseFixedHeader(fixed []byte) (headerSize, dataSize int64, err error) {
	if string(fixed[0:4]) != MagicBytes {
		return 0, 0, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return 0, 0, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}
	hs := binary.LittleEndian.Uint64(fixed[16:24])
	if hs > MaxHeaderSize {
		return 0, 0, ErrHeaderTooLarge
	}
	ds := binary.LittleEndian.Uint64(fixed[24:32])
	if ds > math.MaxInt64/2 {
		return 0, 0, fmt.Errorf("%w: data size %d", ErrTruncated, ds)
	}
	return int64(hs), int64(ds), nil //nolint:gosec // G115: bounds checked above.
}
