package nn

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/wastenet/internal/tensor"
)

// KaimingUniform initializes a tensor from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
//
// This is Kaiming uniform with a = sqrt(5), the default PyTorch uses for
// Conv2d and Linear weights and biases.
//
// Parameters:
//   - fanIn: Number of input units (in_channels*k*k for convolutions)
//   - shape: Shape of the tensor
//   - rng: Random source
func KaimingUniform(fanIn int, shape tensor.Shape, rng *rand.Rand) *tensor.Tensor {
	bound := 1.0 / math.Sqrt(float64(fanIn))

	t := tensor.Zeros(shape)
	data := t.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}
