// Package dataset loads labeled images from a directory-per-class layout.
//
// Layout:
//
//	root/
//	  Cardboard/
//	    0001.jpg
//	    ...
//	  Glass/
//	    ...
//
// Class indices follow the sorted order of the subdirectory names. Images
// are decoded lazily by a Loader, one batch at a time.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidLayout is returned when the dataset root does not follow the
// directory-per-class layout.
var ErrInvalidLayout = errors.New("invalid dataset layout")

// Extensions lists the recognized image file extensions (lower case).
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// Sample is one labeled image on disk.
type Sample struct {
	Path  string
	Label int32
}

// ImageFolder is the index of a dataset directory.
type ImageFolder struct {
	root    string
	classes []string
	samples []Sample
	counts  []int
	weights []float32
}

// Open indexes root. It fails with ErrInvalidLayout if root is missing or
// not a directory, holds no class subdirectories, or a class holds no
// images.
func Open(root string) (*ImageFolder, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidLayout, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}

	var classes []string
	for _, e := range entries {
		if isDir(root, e) && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no class directories in %s", ErrInvalidLayout, root)
	}
	sort.Strings(classes)

	f := &ImageFolder{
		root:    root,
		classes: classes,
		counts:  make([]int, len(classes)),
	}
	for idx, class := range classes {
		files, err := listImages(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: class %q has no images", ErrInvalidLayout, class)
		}
		for _, path := range files {
			f.samples = append(f.samples, Sample{Path: path, Label: int32(idx)}) //nolint:gosec // G115: class count fits in int32.
		}
		f.counts[idx] = len(files)
	}
	f.weights = ClassWeights(f.counts)
	return f, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if isDir(dir, e) || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// isDir reports whether e is a directory, following symlinks. A dangling
// link is not a directory.
func isDir(parent string, e fs.DirEntry) bool {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.IsDir()
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}

// IsImageFile reports whether name carries a recognized image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Root returns the dataset directory.
func (f *ImageFolder) Root() string { return f.root }

// Classes returns the class names in index order.
func (f *ImageFolder) Classes() []string { return f.classes }

// Samples returns every sample, grouped by class in index order.
func (f *ImageFolder) Samples() []Sample { return f.samples }

// Len returns the number of samples.
func (f *ImageFolder) Len() int { return len(f.samples) }

// ClassCounts returns the number of samples per class.
func (f *ImageFolder) ClassCounts() []int { return f.counts }

// ClassWeights returns the inverse-frequency loss weight of every class.
func (f *ImageFolder) ClassWeights() []float32 { return f.weights }

// ClassWeights computes weight_c = total / (numClasses * count_c) for every
// class. A class with fewer samples receives a proportionally larger weight.
// Every count must be positive.
func ClassWeights(counts []int) []float32 {
	total := 0
	for _, c := range counts {
		total += c
	}
	weights := make([]float32, len(counts))
	for i, c := range counts {
		weights[i] = float32(float64(total) / float64(len(counts)*c))
	}
	return weights
}

// Split partitions the samples with a seeded random permutation into
// training and validation subsets, |val| = floor(valRatio * total).
func (f *ImageFolder) Split(valRatio float64, seed uint64) (train, val []Sample) {
	return SplitSamples(f.samples, valRatio, seed)
}

// SplitSamples is the split behind ImageFolder.Split.
func SplitSamples(samples []Sample, valRatio float64, seed uint64) (train, val []Sample) {
	total := len(samples)
	numVal := int(math.Floor(valRatio * float64(total)))
	numVal = min(max(numVal, 0), total)
	numTrain := total - numVal

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(total)

	train = make([]Sample, 0, numTrain)
	val = make([]Sample, 0, numVal)
	for i, idx := range perm {
		if i < numTrain {
			train = append(train, samples[idx])
		} else {
			val = append(val, samples[idx])
		}
	}
	return train, val
}
