// Package loader reads and writes model checkpoints in the SafeTensors
// format:
//
//	[8 bytes: header size, uint64 LE]
//	[header: JSON, tensor name -> dtype/shape/data_offsets]
//	[raw tensor data]
//
// Half-precision tensors (F16, BF16) are widened to float32 on load so
// the CPU backend can consume them directly.
package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/x448/float16"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// DType names used by the SafeTensors header.
const (
	DTypeF32  = "F32"
	DTypeF64  = "F64"
	DTypeF16  = "F16"
	DTypeBF16 = "BF16"
	DTypeI32  = "I32"
	DTypeI64  = "I64"
	DTypeBool = "BOOL"
)

// maxHeaderSize rejects corrupt files before allocating the header.
const maxHeaderSize = 100 * 1024 * 1024

// TensorInfo describes one tensor entry in the header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // relative to data section start
}

// header is the parsed JSON header.
type header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

func (h *header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Tensors = make(map[string]TensorInfo)
	for key, value := range raw {
		if key == "__metadata__" {
			if err := json.Unmarshal(value, &h.Metadata); err != nil {
				return fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("parse tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// Reader reads tensors from a SafeTensors file.
type Reader struct {
	file       *os.File
	header     header
	dataOffset int64
}

// Open opens a SafeTensors file and parses its header.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		_ = file.Close()
		return nil, fmt.Errorf("header size %d exceeds limit", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	var h header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("parse header: %w", err)
	}

	return &Reader{
		file:       file,
		header:     h,
		dataOffset: int64(8 + headerSize),
	}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the optional __metadata__ map.
func (r *Reader) Metadata() map[string]string { return r.header.Metadata }

// TensorNames lists all tensors in the file, sorted.
func (r *Reader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the header entry for one tensor.
func (r *Reader) Info(name string) (*TensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// readData reads the raw bytes of one tensor.
func (r *Reader) readData(info *TensorInfo, name string) ([]byte, error) {
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: %v", name, info.DataOffsets)
	}
	if _, err := r.file.Seek(r.dataOffset+info.DataOffsets[0], io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek tensor %s: %w", name, err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor reads one tensor, converting half precision to float32.
func (r *Reader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, err
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}
	data, err := r.readData(info, name)
	if err != nil {
		return nil, err
	}

	var dtype tensor.DataType
	switch info.DType {
	case DTypeF32:
		dtype = tensor.Float32
	case DTypeF64:
		dtype = tensor.Float64
	case DTypeI32:
		dtype = tensor.Int32
	case DTypeI64:
		dtype = tensor.Int64
	case DTypeBool:
		dtype = tensor.Bool
	case DTypeF16, DTypeBF16:
		data = widenHalf(data, info.DType == DTypeBF16)
		dtype = tensor.Float32
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}

	if len(data) != shape.NumElements()*dtype.Size() {
		return nil, fmt.Errorf("tensor %s: %d bytes for shape %v %s",
			name, len(data), shape, dtype)
	}

	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("alloc tensor %s: %w", name, err)
	}
	copy(raw.Bytes(), data)
	return raw, nil
}

// LoadAll reads every tensor into a state map.
func (r *Reader) LoadAll() (map[string]*tensor.RawTensor, error) {
	state := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for name := range r.header.Tensors {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		state[name] = raw
	}
	return state, nil
}

// widenHalf converts packed 16-bit floats to little-endian float32 bytes.
func widenHalf(data []byte, brainFloat bool) []byte {
	n := len(data) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint16(data[i*2:])
		var f float32
		if brainFloat {
			// bfloat16 is the top half of a float32
			f = math.Float32frombits(uint32(bits) << 16)
		} else {
			f = float16.Frombits(bits).Float32()
		}
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
