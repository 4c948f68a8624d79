package decorate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mordilloSan/go-logger/logger"

	"filesift/internal/errs"
)

// OCREngine turns an image into text.
type OCREngine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// PageImager writes the images embedded in a PDF into dir and returns their
// paths in page order.
type PageImager interface {
	ExtractImages(ctx context.Context, pdfPath, dir string) ([]string, error)
}

// Transcript is the output of a speech engine.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// SpeechEngine transcribes an audio or video file.
type SpeechEngine interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// findExecutable resolves name on PATH, or inside dir when one is given.
func findExecutable(name, dir string) (string, error) {
	var (
		path string
		err  error
	)
	if dir != "" {
		path = filepath.Join(dir, name)
		_, err = os.Stat(path)
	} else {
		path, err = exec.LookPath(name)
	}
	if err != nil {
		return "", errs.Newf(errs.OptionalDependencyNotInstalled, "", "%s is not installed: %v", name, err)
	}
	return path, nil
}

func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logger.Debugf("exec %s %s", bin, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Tesseract runs the tesseract CLI.
type Tesseract struct {
	Bin      string
	Language string
}

// NewTesseract locates tesseract. dir overrides the PATH search.
func NewTesseract(dir string) (*Tesseract, error) {
	bin, err := findExecutable("tesseract", dir)
	if err != nil {
		return nil, err
	}
	return &Tesseract{Bin: bin, Language: "eng"}, nil
}

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	out, err := run(ctx, t.Bin, imagePath, "stdout", "-l", t.Language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// PDFImages runs poppler's pdfimages.
type PDFImages struct {
	Bin string
}

// NewPDFImages locates pdfimages. dir overrides the PATH search.
func NewPDFImages(dir string) (*PDFImages, error) {
	bin, err := findExecutable("pdfimages", dir)
	if err != nil {
		return nil, err
	}
	return &PDFImages{Bin: bin}, nil
}

func (p *PDFImages) ExtractImages(ctx context.Context, pdfPath, dir string) ([]string, error) {
	if _, err := run(ctx, p.Bin, "-png", pdfPath, filepath.Join(dir, "img")); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, "img-*.png"))
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	return matches, nil
}

// Whisper runs the openai-whisper CLI and reads back its JSON output.
type Whisper struct {
	Bin   string
	Model string
}

// NewWhisper locates whisper. dir overrides the PATH search.
func NewWhisper(dir string) (*Whisper, error) {
	bin, err := findExecutable("whisper", dir)
	if err != nil {
		return nil, err
	}
	return &Whisper{Bin: bin, Model: "base"}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	out, err := os.MkdirTemp("", "filesift-whisper-*")
	if err != nil {
		return Transcript{}, err
	}
	defer os.RemoveAll(out)

	if _, err := run(ctx, w.Bin, audioPath, "--model", w.Model, "--output_format", "json", "--output_dir", out); err != nil {
		return Transcript{}, err
	}
	name := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath)) + ".json"
	data, err := os.ReadFile(filepath.Join(out, name))
	if err != nil {
		return Transcript{}, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("decode whisper output: %w", err)
	}
	t.Text = strings.TrimSpace(t.Text)
	return t, nil
}
