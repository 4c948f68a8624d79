// Package chunker splits extracted text into overlapping chunks for
// embedding.
package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/tmc/langchaingo/textsplitter"
)

// Defaults for the recursive character splitter.
const (
	DefaultSize       = 1024
	DefaultOverlap    = 10
	DefaultTokenModel = "gpt-4"
)

// Config selects chunk size, overlap and how length is measured: "chars"
// counts runes, "tokens" counts tiktoken tokens of TokenModel.
type Config struct {
	Size       int    `mapstructure:"size" yaml:"size"`
	Overlap    int    `mapstructure:"overlap" yaml:"overlap"`
	Length     string `mapstructure:"length" yaml:"length"`
	TokenModel string `mapstructure:"token_model" yaml:"token_model"`
}

// Chunker wraps a recursive character splitter.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// New validates cfg and builds the splitter.
func New(cfg Config) (*Chunker, error) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Size < 1 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("invalid chunk size %d with overlap %d", cfg.Size, cfg.Overlap)
	}

	opts := []textsplitter.Option{
		textsplitter.WithChunkSize(cfg.Size),
		textsplitter.WithChunkOverlap(cfg.Overlap),
	}
	switch cfg.Length {
	case "", "chars":
		opts = append(opts, textsplitter.WithLenFunc(utf8.RuneCountInString))
	case "tokens":
		count, err := tokenCounter(cfg.TokenModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, textsplitter.WithLenFunc(count))
	default:
		return nil, fmt.Errorf("unknown chunk length measure %q", cfg.Length)
	}
	return &Chunker{splitter: textsplitter.NewRecursiveCharacter(opts...)}, nil
}

// Split returns the chunks of text. Blank text yields none.
func (c *Chunker) Split(text string) ([]string, error) {
	chunks, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	out := chunks[:0]
	for _, ch := range chunks {
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out, nil
}

// tokenCounter uses the embedded BPE files so no download is needed.
func tokenCounter(model string) (func(string) int, error) {
	if model == "" {
		model = DefaultTokenModel
	}
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding for %q: %w", model, err)
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }, nil
}
