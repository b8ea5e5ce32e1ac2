package nn

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/seehuhn/mt19937"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// Initializer fills a float32 tensor in place with values drawn from a
// specific distribution. Layers accept initializers as plugins; the
// library's random-normal primitive is a Mersenne Twister (MT19937), the
// same generator the reference numpy-backed implementation draws from.
type Initializer interface {
	Init(t *tensor.RawTensor) error
}

// Package-level seed generator. Each Init call draws a fresh 63-bit seed
// from it, so initializations are independent but reproducible after Seed.
var (
	seedMu  sync.Mutex
	seedRng = func() *rand.Rand {
		mt := mt19937.New()
		mt.Seed(time.Now().UnixNano())
		return rand.New(mt) //nolint:gosec // weight init is not security-critical
	}()
)

// Seed reseeds the initializer seed stream. Initializations performed
// after identical Seed calls produce identical tensors.
func Seed(seed int64) {
	seedMu.Lock()
	defer seedMu.Unlock()
	mt := mt19937.New()
	mt.Seed(seed)
	seedRng = rand.New(mt) //nolint:gosec // weight init is not security-critical
}

// drawSeed returns a random seed in [1, 1<<62].
func drawSeed() int64 {
	seedMu.Lock()
	defer seedMu.Unlock()
	return 1 + seedRng.Int63()
}

// fillNormal fills data with samples from N(mean, sigma^2) using a
// freshly seeded MT19937 stream. Sigma must be non-negative.
func fillNormal(data []float32, mean, sigma float64) error {
	if sigma < 0 {
		return fmt.Errorf("sigma < 0: %v", sigma)
	}
	mt := mt19937.New()
	mt.Seed(drawSeed())
	rng := rand.New(mt) //nolint:gosec // weight init is not security-critical
	for i := range data {
		data[i] = float32(rng.NormFloat64()*sigma + mean)
	}
	return nil
}

// FanInAndFanOut derives the input and output unit counts from a weight
// shape. For tensors of rank > 2 (convolutions) the receptive field size
// multiplies both counts.
func FanInAndFanOut(shape tensor.Shape) (fanIn, fanOut int, err error) {
	if len(shape) < 2 {
		return 0, 0, fmt.Errorf("fan in and fan out cannot be computed for shape %v (rank < 2)", shape)
	}
	receptive := 1
	for _, d := range shape[2:] {
		receptive *= d
	}
	return shape[1] * receptive, shape[0] * receptive, nil
}

// XavierNormal initializes from the Xavier (Glorot) normal distribution:
// N(0, std^2) with std = gain * sqrt(2 / (fan_in + fan_out)).
//
// The scheme keeps activation variance stable across layers. Gain is an
// optional scaling factor; the zero value behaves as gain 1.
type XavierNormal struct {
	Gain float64
}

// Init fills t in place.
func (x XavierNormal) Init(t *tensor.RawTensor) error {
	fanIn, fanOut, err := FanInAndFanOut(t.Shape())
	if err != nil {
		return err
	}
	gain := x.Gain
	if gain == 0 {
		gain = 1
	}
	std := gain * math.Sqrt(2.0/float64(fanIn+fanOut))
	return fillNormal(t.AsFloat32(), 0, std)
}

// XavierUniform initializes from U(-bound, bound) with
// bound = gain * sqrt(6 / (fan_in + fan_out)).
type XavierUniform struct {
	Gain float64
}

// Init fills t in place.
func (x XavierUniform) Init(t *tensor.RawTensor) error {
	fanIn, fanOut, err := FanInAndFanOut(t.Shape())
	if err != nil {
		return err
	}
	gain := x.Gain
	if gain == 0 {
		gain = 1
	}
	bound := gain * math.Sqrt(6.0/float64(fanIn+fanOut))

	mt := mt19937.New()
	mt.Seed(drawSeed())
	rng := rand.New(mt) //nolint:gosec // weight init is not security-critical
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return nil
}

// Normal initializes from N(Mean, Sigma^2). Sigma must be non-negative.
type Normal struct {
	Mean  float64
	Sigma float64
}

// Init fills t in place. Returns an error when Sigma < 0.
func (n Normal) Init(t *tensor.RawTensor) error {
	return fillNormal(t.AsFloat32(), n.Mean, n.Sigma)
}

// Constant initializes every element to Value.
type Constant struct {
	Value float32
}

// Init fills t in place.
func (c Constant) Init(t *tensor.RawTensor) error {
	data := t.AsFloat32()
	for i := range data {
		data[i] = c.Value
	}
	return nil
}

// Initialized allocates a float32 tensor of the given shape and fills it
// with init. Panics on initializer failure: shapes used by layer
// constructors are validated before reaching here.
func Initialized[B tensor.Backend](init Initializer, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](shape, backend)
	if err := init.Init(t.Raw()); err != nil {
		panic(fmt.Sprintf("initializer failed for shape %v: %v", shape, err))
	}
	return t
}

// Xavier returns a weight tensor initialized with the Xavier uniform
// distribution, the default for linear and convolutional layers.
func Xavier[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return Initialized(XavierUniform{}, shape, backend)
}

// Zeros returns a zero tensor, commonly used for bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones returns a tensor of ones, used for normalization scales.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
