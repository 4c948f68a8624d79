package formats

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterGGUF registers GGUF model files.
func RegisterGGUF(r *extract.Registry) {
	r.Register(NewGGUF, ".gguf")
}

const (
	ggufMagic   = "GGUF"
	ggufVersion = 3

	// ggufMaxString bounds string and array lengths so a corrupt header
	// cannot trigger huge allocations.
	ggufMaxString = 1 << 26
)

// GGUF metadata value types.
const (
	ggufUint8 uint32 = iota
	ggufInt8
	ggufUint16
	ggufInt16
	ggufUint32
	ggufInt32
	ggufFloat32
	ggufBool
	ggufString
	ggufArray
	ggufUint64
	ggufInt64
	ggufFloat64
)

var ggufTensorTypes = map[uint32]string{
	0: "F32", 1: "F16", 2: "Q4_0", 3: "Q4_1", 6: "Q5_0", 7: "Q5_1",
	8: "Q8_0", 9: "Q8_1", 10: "Q2_K", 11: "Q3_K", 12: "Q4_K", 13: "Q5_K",
	14: "Q6_K", 15: "Q8_K", 16: "IQ2_XXS", 17: "IQ2_XS", 18: "IQ3_XXS",
	19: "IQ1_S", 20: "IQ4_NL", 21: "IQ3_S", 22: "IQ2_S", 23: "IQ4_XS",
	24: "I8", 25: "I16", 26: "I32", 27: "I64", 28: "F64", 29: "IQ1_M",
	30: "BF16",
}

// GGUF reads the header, metadata key/values and tensor descriptors of a
// GGUF model file. Tensor data is never read.
type GGUF struct {
	extract.Base
}

// NewGGUF builds a GGUF extractor.
func NewGGUF(path string, openFile bool) (extract.Extractor, error) {
	x := &GGUF{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *GGUF) read() (extract.Metadata, error) {
	f, err := x.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta, err := ReadGGUF(bufio.NewReader(f))
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			e.Path = x.Path()
			return nil, e
		}
		return nil, errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	return meta, nil
}

// Save copies the model file.
func (x *GGUF) Save(outputPath string) error { return x.CopyTo(outputPath) }

type ggufReader struct {
	r io.Reader
}

// ReadGGUF decodes a little-endian GGUF v3 header stream.
func ReadGGUF(r io.Reader) (extract.Metadata, error) {
	g := ggufReader{r: r}

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, "", err)
	}
	if string(magic[:]) != ggufMagic {
		return nil, errs.New(errs.FileProcessingFailed, "", "Invalid GGUF magic number.")
	}

	version, err := g.u32()
	if err != nil {
		return nil, err
	}
	if version != ggufVersion {
		return nil, errs.Newf(errs.FileProcessingFailed, "", "Unsupported GGUF version %d.", version)
	}
	tensorCount, err := g.u64()
	if err != nil {
		return nil, err
	}
	kvCount, err := g.u64()
	if err != nil {
		return nil, err
	}

	kv := make(map[string]any)
	alignment := uint64(1)
	for i := uint64(0); i < kvCount; i++ {
		key, err := g.str()
		if err != nil {
			return nil, err
		}
		typ, err := g.u32()
		if err != nil {
			return nil, err
		}
		v, err := g.value(typ)
		if err != nil {
			return nil, err
		}
		kv[key] = v
		if key == "general.alignment" {
			if a, ok := toUint64(v); ok && a > 0 {
				alignment = a
			}
		}
	}

	tensors := make([]map[string]any, 0, min(tensorCount, 1<<16))
	for i := uint64(0); i < tensorCount; i++ {
		t, err := g.tensor()
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, t)
	}

	return extract.Metadata{
		"magic_number": ggufMagic,
		"version":      int(version),
		"tensor_count": tensorCount,
		"kv_count":     kvCount,
		"metadata":     kv,
		"tensors":      tensors,
		"alignment":    alignment,
	}, nil
}

func (g ggufReader) read(v any) error {
	if err := binary.Read(g.r, binary.LittleEndian, v); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, "", fmt.Errorf("truncated GGUF header: %w", err))
	}
	return nil
}

func readAs[T any](g ggufReader) (any, error) {
	var v T
	err := g.read(&v)
	return v, err
}

func (g ggufReader) u32() (uint32, error) {
	var v uint32
	err := g.read(&v)
	return v, err
}

func (g ggufReader) u64() (uint64, error) {
	var v uint64
	err := g.read(&v)
	return v, err
}

func (g ggufReader) str() (string, error) {
	n, err := g.u64()
	if err != nil {
		return "", err
	}
	if n > ggufMaxString {
		return "", errs.Newf(errs.FileProcessingFailed, "", "GGUF string length %d too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(g.r, b); err != nil {
		return "", errs.Wrap(errs.FileProcessingFailed, "", fmt.Errorf("truncated GGUF string: %w", err))
	}
	return string(b), nil
}

func (g ggufReader) value(typ uint32) (any, error) {
	switch typ {
	case ggufUint8:
		return readAs[uint8](g)
	case ggufInt8:
		return readAs[int8](g)
	case ggufUint16:
		return readAs[uint16](g)
	case ggufInt16:
		return readAs[int16](g)
	case ggufUint32:
		return readAs[uint32](g)
	case ggufInt32:
		return readAs[int32](g)
	case ggufFloat32:
		return readAs[float32](g)
	case ggufBool:
		var v uint8
		err := g.read(&v)
		return v != 0, err
	case ggufString:
		return g.str()
	case ggufArray:
		inner, err := g.u32()
		if err != nil {
			return nil, err
		}
		n, err := g.u64()
		if err != nil {
			return nil, err
		}
		if n > ggufMaxString {
			return nil, errs.Newf(errs.FileProcessingFailed, "", "GGUF array length %d too large", n)
		}
		out := make([]any, 0, min(n, 1<<16))
		for i := uint64(0); i < n; i++ {
			v, err := g.value(inner)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case ggufUint64:
		return readAs[uint64](g)
	case ggufInt64:
		return readAs[int64](g)
	case ggufFloat64:
		return readAs[float64](g)
	}
	return nil, errs.Newf(errs.FileProcessingFailed, "", "Unknown GGUF value type %d.", typ)
}

func (g ggufReader) tensor() (map[string]any, error) {
	name, err := g.str()
	if err != nil {
		return nil, err
	}
	nDims, err := g.u32()
	if err != nil {
		return nil, err
	}
	if nDims > 8 {
		return nil, errs.Newf(errs.FileProcessingFailed, "", "tensor %s has %d dimensions", name, nDims)
	}
	dims := make([]uint64, nDims)
	for i := range dims {
		if dims[i], err = g.u64(); err != nil {
			return nil, err
		}
	}
	typ, err := g.u32()
	if err != nil {
		return nil, err
	}
	typeName, ok := ggufTensorTypes[typ]
	if !ok {
		return nil, errs.Newf(errs.FileProcessingFailed, "", "Unknown GGUF tensor type %d.", typ)
	}
	offset, err := g.u64()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":         name,
		"n_dimensions": nDims,
		"dimensions":   dims,
		"type":         typeName,
		"offset":       offset,
	}, nil
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int32:
		if n >= 0 {
			return uint64(n), true
		}
	case int64:
		if n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}
