package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "FileCorruptionError", FileCorruption.String())
	assert.Equal(t, "EmptySelection", EmptySelection.String())
	assert.Equal(t, "NotDocumentBasedFile", NotDocumentBasedFile.Error())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestHierarchy(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		target Kind
		want   bool
	}{
		{"ocr_processing_is_ocr", OCRProcessing, OCR, true},
		{"not_ocr_applicable_is_ocr", NotOCRApplicable, OCR, true},
		{"transcription_processing_is_transcription", TranscriptionProcessing, Transcription, true},
		{"everything_is_base", UnsupportedHyperparameter, Base, true},
		{"ocr_is_not_transcription", OCRProcessing, Transcription, false},
		{"corruption_is_not_processing_failed", FileCorruption, FileProcessingFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, "/tmp/x", "boom")
			assert.Equal(t, tt.want, errors.Is(err, tt.target))
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil_stays_nil", func(t *testing.T) {
		assert.NoError(t, Wrap(FileProcessingFailed, "p", nil))
	})

	t.Run("foreign_error_keeps_message", func(t *testing.T) {
		err := Wrap(FileProcessingFailed, "/a/b.pdf", io.ErrUnexpectedEOF)
		require.Error(t, err)
		assert.True(t, errors.Is(err, FileProcessingFailed))
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
		assert.Contains(t, err.Error(), "/a/b.pdf")
	})

	t.Run("taxonomy_error_is_preserved", func(t *testing.T) {
		inner := New(FileCorruption, "x.json", "bad json")
		err := Wrap(FileProcessingFailed, "x.json", fmt.Errorf("process: %w", inner))
		assert.Equal(t, FileCorruption, KindOf(err))
	})

	t.Run("bare_kind", func(t *testing.T) {
		err := Wrap(FileProcessingFailed, "x", NotOCRApplicable)
		assert.Equal(t, NotOCRApplicable, KindOf(err))
		assert.True(t, errors.Is(err, OCR))
	})
}

func TestKindOfForeign(t *testing.T) {
	assert.Equal(t, FileProcessingFailed, KindOf(errors.New("raw")))
}

func TestErrorMessage(t *testing.T) {
	err := New(FileProcessingFailed, "", "Integrity check failed")
	assert.Equal(t, "FileProcessingFailedError: Integrity check failed", err.Error())
}
