package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/x448/float16"
)

// maxHeaderSize guards against reading a corrupt length prefix as a huge allocation.
const maxHeaderSize = 100 << 20

// TensorInfo is one entry of the safetensors header.
type TensorInfo struct {
	Name  string
	DType string
	Shape []int64
	Begin int64
	End   int64
}

// Elements returns the product of the shape.
func (t TensorInfo) Elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "F64", "I64", "U64":
		return 8
	case "F32", "I32", "U32":
		return 4
	case "F16", "BF16", "I16", "U16":
		return 2
	case "I8", "U8", "BOOL", "F8_E4M3", "F8_E5M2":
		return 1
	default:
		return 0
	}
}

// SafeTensors reads tensors on demand from a safetensors file.
type SafeTensors struct {
	file       *os.File
	size       int64
	dataOffset int64
	tensors    map[string]TensorInfo
	metadata   map[string]string
}

// OpenSafeTensors parses the header of a safetensors file. Tensor data is
// read lazily, so large encoder weights are never pulled into memory.
func OpenSafeTensors(path string) (*SafeTensors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := parseSafeTensors(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid safetensors file %s: %w", path, err)
	}
	return st, nil
}

func parseSafeTensors(f *os.File) (*SafeTensors, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	prefix := make([]byte, 8)
	if _, err := io.ReadFull(f, prefix); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(prefix)
	if headerLen == 0 || headerLen > maxHeaderSize || int64(headerLen) > info.Size()-8 {
		return nil, fmt.Errorf("header length %d out of range", headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !gjson.ValidBytes(header) {
		return nil, fmt.Errorf("header is not valid JSON")
	}

	st := &SafeTensors{
		file:       f,
		size:       info.Size(),
		dataOffset: 8 + int64(headerLen),
		tensors:    make(map[string]TensorInfo),
		metadata:   make(map[string]string),
	}
	dataLen := st.size - st.dataOffset

	var parseErr error
	gjson.ParseBytes(header).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "__metadata__" {
			value.ForEach(func(k, v gjson.Result) bool {
				st.metadata[k.String()] = v.String()
				return true
			})
			return true
		}

		t := TensorInfo{Name: name, DType: value.Get("dtype").String()}
		for _, d := range value.Get("shape").Array() {
			t.Shape = append(t.Shape, d.Int())
		}
		offsets := value.Get("data_offsets").Array()
		if len(offsets) != 2 {
			parseErr = fmt.Errorf("tensor %s: data_offsets must have two entries", name)
			return false
		}
		t.Begin, t.End = offsets[0].Int(), offsets[1].Int()

		size := dtypeSize(t.DType)
		switch {
		case size == 0:
			parseErr = fmt.Errorf("tensor %s: unknown dtype %q", name, t.DType)
		case t.Begin < 0 || t.End < t.Begin || t.End > dataLen:
			parseErr = fmt.Errorf("tensor %s: offsets [%d, %d) outside data section of %d bytes", name, t.Begin, t.End, dataLen)
		case t.End-t.Begin != t.Elements()*int64(size):
			parseErr = fmt.Errorf("tensor %s: %d bytes for shape %v of %s", name, t.End-t.Begin, t.Shape, t.DType)
		}
		if parseErr != nil {
			return false
		}
		st.tensors[name] = t
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return st, nil
}

// Names returns tensor names in sorted order.
func (s *SafeTensors) Names() []string {
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor returns the header entry for name.
func (s *SafeTensors) Tensor(name string) (TensorInfo, bool) {
	t, ok := s.tensors[name]
	return t, ok
}

// Metadata returns the free-form __metadata__ map.
func (s *SafeTensors) Metadata() map[string]string { return s.metadata }

// Size returns the file size in bytes.
func (s *SafeTensors) Size() int64 { return s.size }

// ParameterCount sums the element counts of all tensors.
func (s *SafeTensors) ParameterCount() int64 {
	var n int64
	for _, t := range s.tensors {
		n += t.Elements()
	}
	return n
}

// Float32s loads a floating point tensor, converting F16, BF16 and F64 to float32.
func (s *SafeTensors) Float32s(name string) ([]float32, []int64, error) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, nil, fmt.Errorf("tensor %s not found", name)
	}

	raw := make([]byte, t.End-t.Begin)
	if _, err := s.file.ReadAt(raw, s.dataOffset+t.Begin); err != nil {
		return nil, nil, fmt.Errorf("read tensor %s: %w", name, err)
	}

	n := int(t.Elements())
	out := make([]float32, n)
	switch t.DType {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F16":
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	case "F64":
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	default:
		return nil, nil, fmt.Errorf("tensor %s has non-float dtype %s", name, t.DType)
	}
	return out, t.Shape, nil
}

// Close releases the underlying file.
func (s *SafeTensors) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
