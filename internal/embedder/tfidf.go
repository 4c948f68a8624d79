package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// TFIDFModel is the model name reported by the TF-IDF embedder.
const TFIDFModel = "tfidf"

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// TFIDF is an offline embedder: a vocabulary and smoothed IDF weights fitted
// on the corpus, producing L2-normalised vectors.
type TFIDF struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Stopwords  bool           `json:"stopwords"`
}

// NewTFIDF returns an unprepared embedder that drops English stopwords.
func NewTFIDF() *TFIDF { return &TFIDF{Stopwords: true} }

func (e *TFIDF) Model() string { return TFIDFModel }

// Dimension is the vocabulary size.
func (e *TFIDF) Dimension() int { return len(e.IDF) }

// Prepare builds the vocabulary and IDF values from corpus.
func (e *TFIDF) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]bool)
		for _, tok := range e.tokenize(text) {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus")
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	slices.Sort(terms)

	e.Vocabulary = make(map[string]int, len(terms))
	e.IDF = make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		e.Vocabulary[term] = i
		e.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return nil
}

// Vector computes the normalised TF-IDF vector of text.
func (e *TFIDF) Vector(text string) ([]float64, error) {
	if len(e.IDF) == 0 {
		return nil, errors.New("tfidf embedder not prepared")
	}
	vec := make([]float64, len(e.IDF))
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.Vocabulary[tok]; ok {
			vec[idx]++
		}
	}
	floats.Mul(vec, e.IDF)
	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec, nil
}

// Embed returns float32 vectors for the search index.
func (e *TFIDF) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Vector(text)
		if err != nil {
			return nil, err
		}
		out[i] = make([]float32, len(v))
		for j, f := range v {
			out[i][j] = float32(f)
		}
	}
	return out, nil
}

// Save writes the fitted model as JSON.
func (e *TFIDF) Save(path string) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal tfidf model: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadTFIDF reads a model written by Save.
func LoadTFIDF(path string) (*TFIDF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e := &TFIDF{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode tfidf model: %w", err)
	}
	return e, nil
}

func (e *TFIDF) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if !e.Stopwords {
		return raw
	}
	out := raw[:0]
	for _, t := range raw {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

var stopwords = func() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
