// Package file resolves a path to its extractor and optional decorators.
package file

import (
	"context"
	"os"

	"filesift/internal/decorate"
	"filesift/internal/errs"
	"filesift/internal/extract"
	"filesift/internal/extract/formats"
)

// Options control how a file is opened.
type Options struct {
	UseOCR         bool
	UseTranscriber bool
	// OpenFile reads the content; when false only filesystem attributes
	// are gathered.
	OpenFile bool

	// Registry defaults to formats.Default().
	Registry *extract.Registry
	// Engines default to the tesseract, pdfimages and whisper executables.
	OCR    decorate.OCREngine
	Imager decorate.PageImager
	Speech decorate.SpeechEngine

	Context context.Context
}

// File is an opened path with its (possibly decorated) extractor.
type File struct {
	x extract.Extractor
}

// Open looks up the extractor for path, constructs it and applies the
// requested decorators. Directories use the directory extractor and unknown
// extensions the generic one.
//
// When extraction fails the returned File is still usable for its
// attributes and holds {error: <kind>} as metadata.
func Open(path string, opts Options) (*File, error) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	reg := opts.Registry
	if reg == nil {
		reg = formats.Default()
	}

	ctor := Resolve(reg, path)
	x, err := ctor(path, opts.OpenFile)
	if x == nil {
		return nil, err
	}
	f := &File{x: x}
	if err != nil {
		return f, err
	}

	if opts.UseOCR {
		o, err := decorate.NewOCR(ctx, f.x, opts.OCR, opts.Imager)
		if o == nil {
			return f, err
		}
		f.x = o
		if err != nil {
			return f, err
		}
	}
	if opts.UseTranscriber {
		t, err := decorate.NewTranscriber(ctx, f.x, opts.Speech)
		if t == nil {
			return f, err
		}
		f.x = t
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

// Resolve returns the constructor used for path.
func Resolve(reg *extract.Registry, path string) extract.Constructor {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return formats.NewDir
	}
	if ctor, ok := reg.LookupPath(path); ok {
		return ctor
	}
	return formats.NewGeneric
}

// Extractor returns the underlying extractor, decorators included.
func (f *File) Extractor() extract.Extractor { return f.x }

func (f *File) Attributes() extract.Attributes { return f.x.Attributes() }

func (f *File) Metadata() extract.Metadata { return f.x.Metadata() }

// Record returns the uniform FileRecord.
func (f *File) Record() extract.FileRecord { return extract.Record(f.x) }

// Save writes the file back, to outputPath when given.
func (f *File) Save(outputPath string) error { return f.x.Save(outputPath) }

// Copy copies the bytes to dest, verifying the sha256 when asked.
func (f *File) Copy(dest string, verify bool) error { return f.x.Copy(dest, verify) }

// ComputeHash hashes the file bytes.
func (f *File) ComputeHash(algorithm string) (string, error) {
	return f.x.ComputeHash(algorithm)
}

// ErrorRecord builds the record substituted for a file whose extraction
// failed: attributes when they could be gathered, open_file=false and
// {error: <kind>}.
func ErrorRecord(path string, err error) extract.FileRecord {
	rec := extract.FileRecord{Metadata: extract.Metadata{extract.KeyError: errs.KindOf(err).String()}}
	if attrs, statErr := extract.Stat(path); statErr == nil {
		rec.Attributes = attrs
	}
	return rec
}
