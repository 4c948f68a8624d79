package formats

import (
	"debug/pe"
	"fmt"
	"math"
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterEXE registers PE executables and libraries.
func RegisterEXE(r *extract.Registry) {
	r.Register(NewEXE, ".exe", ".dll")
}

// EXE reads PE headers, sections and the import table.
type EXE struct {
	extract.Base
}

// NewEXE builds a PE extractor.
func NewEXE(path string, openFile bool) (extract.Extractor, error) {
	x := &EXE{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *EXE) read() (extract.Metadata, error) {
	f, err := pe.Open(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	defer f.Close()

	var entry uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		entry = oh.AddressOfEntryPoint
	case *pe.OptionalHeader64:
		entry = oh.AddressOfEntryPoint
	}

	sections := make([]map[string]any, 0, len(f.Sections))
	for _, s := range f.Sections {
		data, _ := s.Data()
		sections = append(sections, map[string]any{
			"name":             strings.TrimRight(s.Name, "\x00"),
			"virtual_address":  fmt.Sprintf("0x%x", s.VirtualAddress),
			"size_of_raw_data": s.Size,
			"entropy":          entropy(data),
		})
	}

	imports := map[string][]string{}
	if syms, err := f.ImportedSymbols(); err == nil {
		for _, sym := range syms {
			fn, dll, ok := strings.Cut(sym, ":")
			if !ok {
				continue
			}
			imports[dll] = append(imports[dll], fn)
		}
	}

	return extract.Metadata{
		"entry_point":  fmt.Sprintf("0x%x", entry),
		"machine":      fmt.Sprintf("0x%x", f.Machine),
		"num_sections": len(f.Sections),
		"sections":     sections,
		"imports":      imports,
	}, nil
}

// entropy is the Shannon entropy of data in bits per byte.
func entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	var h float64
	n := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// Save copies the binary.
func (x *EXE) Save(outputPath string) error { return x.CopyTo(outputPath) }
