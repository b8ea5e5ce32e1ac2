package loader

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/uniseg-ml/uniseg/internal/tensor"
)

// dtypeName maps internal dtypes to header names.
func dtypeName(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return DTypeF32, nil
	case tensor.Float64:
		return DTypeF64, nil
	case tensor.Int32:
		return DTypeI32, nil
	case tensor.Int64:
		return DTypeI64, nil
	case tensor.Bool:
		return DTypeBool, nil
	default:
		return "", fmt.Errorf("unsupported dtype %s", dt)
	}
}

// Write stores a state map as a SafeTensors file. Tensors are laid out
// in sorted name order so output is reproducible.
func Write(path string, state map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make(map[string]json.RawMessage, len(names)+1)
	if metadata != nil {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		entries["__metadata__"] = meta
	}

	var offset int64
	for _, name := range names {
		raw := state[name]
		dt, err := dtypeName(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(raw.ByteSize())
		info, err := json.Marshal(TensorInfo{
			DType:       dt,
			Shape:       raw.Shape(),
			DataOffsets: [2]int64{offset, offset + size},
		})
		if err != nil {
			return fmt.Errorf("marshal tensor %s: %w", name, err)
		}
		entries[name] = info
		offset += size
	}

	headerBytes, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("write header size: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(state[name].Bytes()); err != nil {
			return fmt.Errorf("write tensor %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	return nil
}
