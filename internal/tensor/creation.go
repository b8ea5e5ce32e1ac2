package tensor

import (
	"math"
	"math/rand"
)

// Zeros creates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	raw, err := NewRaw(shape, TypeOf[T](), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, one[T](), b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a float tensor with samples from N(0, 1).
// Uses the Box-Muller transform over math/rand; appropriate for test
// inputs and ad-hoc experiments, not for reproducible weight init (the
// nn initializers carry their own seeded generator).
func Randn[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	switch d := any(data).(type) {
	case []float32:
		for i := 0; i < len(d); i += 2 {
			u1 := rand.Float64() //nolint:gosec // statistical use
			u2 := rand.Float64() //nolint:gosec // statistical use
			r := math.Sqrt(-2.0 * math.Log(u1))
			d[i] = float32(r * math.Cos(2.0*math.Pi*u2))
			if i+1 < len(d) {
				d[i+1] = float32(r * math.Sin(2.0*math.Pi*u2))
			}
		}
	case []float64:
		for i := 0; i < len(d); i += 2 {
			u1 := rand.Float64() //nolint:gosec // statistical use
			u2 := rand.Float64() //nolint:gosec // statistical use
			r := math.Sqrt(-2.0 * math.Log(u1))
			d[i] = r * math.Cos(2.0*math.Pi*u2)
			if i+1 < len(d) {
				d[i+1] = r * math.Sin(2.0*math.Pi*u2)
			}
		}
	default:
		panic("Randn supports float32 and float64 only")
	}
	return t
}

// Rand creates a float tensor with samples uniform in [0, 1).
func Rand[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	switch d := any(data).(type) {
	case []float32:
		for i := range d {
			d[i] = rand.Float32() //nolint:gosec // statistical use
		}
	case []float64:
		for i := range d {
			d[i] = rand.Float64() //nolint:gosec // statistical use
		}
	default:
		panic("Rand supports float32 and float64 only")
	}
	return t
}

// RandInt creates an int32 tensor with samples uniform in [low, high).
func RandInt[B Backend](low, high int32, shape Shape, b B) *Tensor[int32, B] {
	if high <= low {
		panic("RandInt requires high > low")
	}
	t := Zeros[int32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = low + rand.Int31n(high-low) //nolint:gosec // statistical use
	}
	return t
}

func one[T DType]() T {
	var dummy T
	var v any
	switch any(dummy).(type) {
	case float32:
		v = float32(1)
	case float64:
		v = float64(1)
	case int32:
		v = int32(1)
	case int64:
		v = int64(1)
	case bool:
		v = true
	}
	return v.(T)
}
