package loader

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

func rawFloat32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), data)
	return raw
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	state := map[string]*tensor.RawTensor{
		"layer.weight": rawFloat32(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}),
		"layer.bias":   rawFloat32(t, []float32{0.5, -0.5}, tensor.Shape{2}),
	}
	require.NoError(t, Write(path, state, map[string]string{"format": "uniseg"}))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, map[string]string{"format": "uniseg"}, r.Metadata())
	assert.Equal(t, []string{"layer.bias", "layer.weight"}, r.TensorNames())

	weight, err := r.LoadTensor("layer.weight")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, weight.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, weight.AsFloat32())

	bias, err := r.LoadTensor("layer.bias")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, bias.AsFloat32())
}

func TestLoadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	state := map[string]*tensor.RawTensor{
		"a": rawFloat32(t, []float32{1}, tensor.Shape{1}),
		"b": rawFloat32(t, []float32{2, 3}, tensor.Shape{2}),
	}
	require.NoError(t, Write(path, state, nil))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	loaded, err := r.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, []float32{1}, loaded["a"].AsFloat32())
	assert.Equal(t, []float32{2, 3}, loaded["b"].AsFloat32())
}

// writeFixture builds a SafeTensors file by hand so half-precision
// payloads can be exercised without a writer that produces them.
func writeFixture(t *testing.T, headerJSON string, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.safetensors")

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	buf = append(buf, payload...)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadTensorF16(t *testing.T) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], float16.Fromfloat32(1.5).Bits())
	binary.LittleEndian.PutUint16(payload[2:], float16.Fromfloat32(-0.25).Bits())

	path := writeFixture(t,
		`{"half":{"dtype":"F16","shape":[2],"data_offsets":[0,4]}}`,
		payload)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	raw, err := r.LoadTensor("half")
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, raw.DType())
	assert.Equal(t, []float32{1.5, -0.25}, raw.AsFloat32())
}

func TestLoadTensorBF16(t *testing.T) {
	// bfloat16 keeps the high 16 bits of the float32 pattern
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], uint16(math.Float32bits(2.0)>>16))
	binary.LittleEndian.PutUint16(payload[2:], uint16(math.Float32bits(-1.0)>>16))

	path := writeFixture(t,
		`{"half":{"dtype":"BF16","shape":[2],"data_offsets":[0,4]}}`,
		payload)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	raw, err := r.LoadTensor("half")
	require.NoError(t, err)
	assert.Equal(t, []float32{2.0, -1.0}, raw.AsFloat32())
}

func TestLoadTensorMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, Write(path, map[string]*tensor.RawTensor{
		"present": rawFloat32(t, []float32{1}, tensor.Shape{1}),
	}, nil))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.LoadTensor("absent")
	assert.ErrorContains(t, err, "not found")
}

func TestLoadTensorSizeMismatch(t *testing.T) {
	// header claims 3 elements but only 8 bytes follow
	path := writeFixture(t,
		`{"bad":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`,
		make([]byte, 8))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.LoadTensor("bad")
	assert.Error(t, err)
}

func TestOpenRejectsOversizedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(maxHeaderSize)+1)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.safetensors"))
	assert.Error(t, err)
}
