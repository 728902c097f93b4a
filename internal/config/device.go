package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnsupportedDevice is returned for device names other than "cpu".
var ErrUnsupportedDevice = errors.New("unsupported device")

// DeviceInfo describes the compute device a run executes on.
type DeviceInfo struct {
	Name     string
	Brand    string
	Cores    int
	Threads  int
	AVX2     bool
	AVX512   bool
	MaxProcs int
}

// DetectDevice reports the CPU the process runs on under the configured
// device name. Only "cpu" is supported; an empty name means "cpu".
func DetectDevice(name string) (DeviceInfo, error) {
	switch name {
	case "":
		name = Device
	case Device:
	default:
		return DeviceInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedDevice, name)
	}
	return DeviceInfo{
		Name:     name,
		Brand:    cpuid.CPU.BrandName,
		Cores:    cpuid.CPU.PhysicalCores,
		Threads:  cpuid.CPU.LogicalCores,
		AVX2:     cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:   cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		MaxProcs: runtime.GOMAXPROCS(0),
	}, nil
}

// String returns the device name as printed in the training banner.
func (d DeviceInfo) String() string {
	return d.Name
}

// Details returns a one-line hardware summary for diagnostics.
func (d DeviceInfo) Details() string {
	brand := d.Brand
	if brand == "" {
		brand = "unknown CPU"
	}
	return fmt.Sprintf("%s (%d cores, %d threads, GOMAXPROCS=%d, avx2=%t, avx512=%t)",
		brand, d.Cores, d.Threads, d.MaxProcs, d.AVX2, d.AVX512)
}
