// Package errs defines the closed set of error kinds raised by filesift.
//
// A Kind is itself an error, so callers can test with errors.Is against a
// kind constant. Concrete failures are reported as *Error values that carry
// the kind, the offending path and the wrapped cause.
package errs

import (
	"errors"
	"fmt"
)

// Kind names a class of failure.
type Kind int

const (
	Base Kind = iota
	UnsupportedFileType
	FileProcessingFailed
	FileCorruption
	OCR
	OCRProcessing
	NotOCRApplicable
	Transcription
	TranscriptionProcessing
	NotTranscriptionApplicable
	OptionalDependencyNotInstalled
	EmptySelection
	NotDocumentBasedFile
	UnsupportedHyperparameter
)

var kindNames = map[Kind]string{
	Base:                           "FileSiftError",
	UnsupportedFileType:            "UnsupportedFileTypeError",
	FileProcessingFailed:           "FileProcessingFailedError",
	FileCorruption:                 "FileCorruptionError",
	OCR:                            "OCRError",
	OCRProcessing:                  "OCRProcessingError",
	NotOCRApplicable:               "NotOCRApplicableError",
	Transcription:                  "TranscriptionError",
	TranscriptionProcessing:        "TranscriptionProcessingError",
	NotTranscriptionApplicable:     "NotTranscriptionApplicableError",
	OptionalDependencyNotInstalled: "OptionalDependencyNotInstalledError",
	EmptySelection:                 "EmptySelection",
	NotDocumentBasedFile:           "NotDocumentBasedFile",
	UnsupportedHyperparameter:      "UnsupportedHyperparameterError",
}

// parents encodes the kind hierarchy below Base.
var parents = map[Kind]Kind{
	OCRProcessing:              OCR,
	NotOCRApplicable:           OCR,
	TranscriptionProcessing:    Transcription,
	NotTranscriptionApplicable: Transcription,
}

// String returns the public name of the kind, e.g. "FileCorruptionError".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// IsA reports whether k equals target or descends from it.
func (k Kind) IsA(target Kind) bool {
	if target == Base {
		return true
	}
	for cur := k; ; {
		if cur == target {
			return true
		}
		p, ok := parents[cur]
		if !ok {
			return false
		}
		cur = p
	}
}

// Error is a taxonomy error tied to a path.
type Error struct {
	Kind Kind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Path != "" && msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, msg)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match a *Error against a Kind, honouring the hierarchy.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	return e.Kind.IsA(k)
}

// New creates an error of the given kind with a message.
func New(kind Kind, path, msg string) *Error {
	return &Error{Kind: kind, Path: path, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Wrap converts err into a taxonomy error of the given kind. Errors that
// already belong to the taxonomy are returned unchanged so the most
// specific kind survives. A nil err yields nil.
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if k, ok := err.(Kind); ok {
		return &Error{Kind: k, Path: path}
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind carried by err. Foreign errors report
// FileProcessingFailed.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if k, ok := err.(Kind); ok {
		return k
	}
	return FileProcessingFailed
}
