package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"math/rand/v2"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// ImageNet channel statistics used for input normalization.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Transform turns a decoded image into a normalized [3, Size, Size] CHW
// float32 buffer:
//
//  1. bilinear resize to Size x Size
//  2. horizontal flip with probability FlipProb
//  3. scale to [0, 1]
//  4. per-channel (x - Mean) / Std
type Transform struct {
	Size     int
	FlipProb float64
}

// TrainTransform returns the augmenting transform used for training.
func TrainTransform(size int, flipProb float64) Transform {
	return Transform{Size: size, FlipProb: flipProb}
}

// EvalTransform returns the deterministic transform used for validation and
// inference.
func EvalTransform(size int) Transform {
	return Transform{Size: size}
}

// Len returns the number of floats one image occupies.
func (t Transform) Len() int {
	return 3 * t.Size * t.Size
}

// DrawFlip decides whether the next image is flipped. It consumes rng only
// when flipping is enabled.
func (t Transform) DrawFlip(rng *rand.Rand) bool {
	if t.FlipProb <= 0 || rng == nil {
		return false
	}
	return rng.Float64() < t.FlipProb
}

// Apply resizes img, optionally mirrors it, and writes the normalized CHW
// pixels into dst, which must hold Len() floats.
func (t Transform) Apply(img image.Image, flip bool, dst []float32) {
	if len(dst) != t.Len() {
		panic(fmt.Sprintf("dataset: transform buffer has %d floats, need %d", len(dst), t.Len()))
	}
	size := t.Size
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), dropAlpha(img), img.Bounds(), draw.Src, nil)

	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			srcX := x
			if flip {
				srcX = size - 1 - x
			}
			px := row[srcX*4 : srcX*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				dst[c*plane+y*size+x] = (v - Mean[c]) / Std[c]
			}
		}
	}
}

// dropAlpha returns img with every pixel made opaque, keeping the stored
// (non-premultiplied) color. Images that are already opaque are returned
// unchanged.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	if src, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(out.Pix[out.PixOffset(b.Min.X, y):out.PixOffset(b.Max.X, y)], src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)])
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.SetNRGBA(x, y, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)) //nolint:forcetypeassert // NRGBAModel always yields NRGBA.
			}
		}
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	return out
}

// Decode reads an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// LoadImage opens and decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
