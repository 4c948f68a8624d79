// Package decorate layers OCR and speech transcription onto any extractor.
// A decorator forwards every attribute accessor to the wrapped extractor and
// only ever adds metadata keys.
package decorate

import (
	"context"
	"os"
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Metadata keys added by the decorators.
const (
	KeyOCRText             = "ocr_text"
	KeyTranscribedText     = "transcribed_text"
	KeyTranscribedLanguage = "transcribed_language"
)

// OCRExtensions are the extensions OCR can be requested for.
var OCRExtensions = map[string]bool{
	".pdf": true, ".jpeg": true, ".jpg": true, ".png": true,
	".gif": true, ".tiff": true, ".tif": true,
}

// TranscriptionExtensions are the extensions transcription can be
// requested for.
var TranscriptionExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".mp4": true, ".flac": true,
	".aiff": true, ".ogg": true,
}

// OCR adds ocr_text to the wrapped extractor's metadata.
type OCR struct {
	extract.Extractor
	ctx    context.Context
	engine OCREngine
	imager PageImager
	text   *string
	failed error
}

// NewOCR wraps inner. A nil engine or imager is resolved to the tesseract
// and pdfimages executables. When inner has been opened, recognition runs
// immediately.
func NewOCR(ctx context.Context, inner extract.Extractor, engine OCREngine, imager PageImager) (*OCR, error) {
	attrs := inner.Attributes()
	if !OCRExtensions[attrs.Extension] {
		return nil, errs.Newf(errs.NotOCRApplicable, attrs.AbsolutePath, "OCR is not applicable to %q files", attrs.Extension)
	}
	if engine == nil {
		t, err := NewTesseract("")
		if err != nil {
			return nil, err
		}
		engine = t
	}
	if imager == nil && attrs.Extension == ".pdf" {
		p, err := NewPDFImages("")
		if err != nil {
			return nil, err
		}
		imager = p
	}

	o := &OCR{Extractor: inner, ctx: ctx, engine: engine, imager: imager}
	if inner.Opened() {
		if err := o.recognize(); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Process re-runs the wrapped extractor, then OCR.
func (o *OCR) Process() error {
	o.text, o.failed = nil, nil
	if err := o.Extractor.Process(); err != nil {
		return err
	}
	return o.recognize()
}

// Metadata returns the wrapped metadata plus ocr_text once recognition ran,
// or only {error: <kind>} when recognition failed.
func (o *OCR) Metadata() extract.Metadata {
	if o.failed != nil {
		return errorMetadata(o.failed)
	}
	m := o.Extractor.Metadata()
	if o.text != nil {
		m[KeyOCRText] = *o.text
	}
	return m
}

// Unwrap returns the decorated extractor.
func (o *OCR) Unwrap() extract.Extractor { return o.Extractor }

func (o *OCR) recognize() error {
	attrs := o.Attributes()
	var text string
	var err error
	if attrs.Extension == ".pdf" {
		text, err = o.recognizePDF(attrs.AbsolutePath)
	} else {
		text, err = o.engine.Recognize(o.ctx, attrs.AbsolutePath)
	}
	if err != nil {
		o.failed = errs.Wrap(errs.OCRProcessing, attrs.AbsolutePath, err)
		return o.failed
	}
	o.text = &text
	return nil
}

// recognizePDF joins the text layer with OCR output over the images
// embedded in the document.
func (o *OCR) recognizePDF(path string) (string, error) {
	var parts []string
	if layer, ok := o.Extractor.Metadata()[extract.KeyText].(string); ok && strings.TrimSpace(layer) != "" {
		parts = append(parts, strings.TrimSpace(layer))
	}

	dir, err := os.MkdirTemp("", "filesift-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	images, err := o.imager.ExtractImages(o.ctx, path, dir)
	if err != nil {
		return "", err
	}
	for _, img := range images {
		text, err := o.engine.Recognize(o.ctx, img)
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Transcriber adds transcribed_text and transcribed_language to the wrapped
// extractor's metadata.
type Transcriber struct {
	extract.Extractor
	ctx        context.Context
	engine     SpeechEngine
	transcript *Transcript
	failed     error
}

// NewTranscriber wraps inner. A nil engine is resolved to the whisper
// executable. When inner has been opened, transcription runs immediately.
func NewTranscriber(ctx context.Context, inner extract.Extractor, engine SpeechEngine) (*Transcriber, error) {
	attrs := inner.Attributes()
	if !TranscriptionExtensions[attrs.Extension] {
		return nil, errs.Newf(errs.NotTranscriptionApplicable, attrs.AbsolutePath, "transcription is not applicable to %q files", attrs.Extension)
	}
	if engine == nil {
		w, err := NewWhisper("")
		if err != nil {
			return nil, err
		}
		engine = w
	}

	t := &Transcriber{Extractor: inner, ctx: ctx, engine: engine}
	if inner.Opened() {
		if err := t.transcribe(); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Process re-runs the wrapped extractor, then transcription.
func (t *Transcriber) Process() error {
	t.transcript, t.failed = nil, nil
	if err := t.Extractor.Process(); err != nil {
		return err
	}
	return t.transcribe()
}

func (t *Transcriber) Metadata() extract.Metadata {
	if t.failed != nil {
		return errorMetadata(t.failed)
	}
	m := t.Extractor.Metadata()
	if t.transcript != nil {
		m[KeyTranscribedText] = t.transcript.Text
		m[KeyTranscribedLanguage] = t.transcript.Language
	}
	return m
}

// Unwrap returns the decorated extractor.
func (t *Transcriber) Unwrap() extract.Extractor { return t.Extractor }

func (t *Transcriber) transcribe() error {
	path := t.Attributes().AbsolutePath
	tr, err := t.engine.Transcribe(t.ctx, path)
	if err != nil {
		t.failed = errs.Wrap(errs.TranscriptionProcessing, path, err)
		return t.failed
	}
	t.transcript = &tr
	return nil
}

func errorMetadata(err error) extract.Metadata {
	return extract.Metadata{extract.KeyError: errs.KindOf(err).String()}
}
