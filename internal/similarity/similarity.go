// Package similarity compares the text of document records: pairwise
// cosine over TF-IDF and Levenshtein distance, an all-pairs matrix, and
// nearest-neighbour duplicate detection over a vector index.
package similarity

import (
	"math"

	"github.com/agnivade/levenshtein"
	"gonum.org/v1/gonum/floats"

	"filesift/internal/embedder"
	"filesift/internal/errs"
	"filesift/internal/extract"
)

// text returns the record's text field or NotDocumentBasedFile.
func text(r extract.FileRecord) (string, error) {
	s, ok := r.Metadata[extract.KeyText].(string)
	if !ok {
		return "", errs.Newf(errs.NotDocumentBasedFile, r.AbsolutePath, "%s has no text", r.Name)
	}
	return s, nil
}

func texts(records []extract.FileRecord) ([]string, error) {
	out := make([]string, len(records))
	for i, r := range records {
		s, err := text(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// fit prepares a TF-IDF model over docs and returns one normalised vector
// per doc. A corpus without tokens yields zero vectors.
func fit(docs []string) ([][]float64, error) {
	model := &embedder.TFIDF{}
	vecs := make([][]float64, len(docs))
	if err := model.Prepare(docs); err != nil {
		for i := range vecs {
			vecs[i] = []float64{0}
		}
		return vecs, nil
	}
	for i, d := range docs {
		v, err := model.Vector(d)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Cosine returns the cosine similarity of the TF-IDF vectors fitted on the
// two texts. The result is in [-1, 1] and symmetric.
func Cosine(a, b extract.FileRecord) (float64, error) {
	docs, err := texts([]extract.FileRecord{a, b})
	if err != nil {
		return 0, err
	}
	vecs, err := fit(docs)
	if err != nil {
		return 0, err
	}
	return clamp(floats.Dot(vecs[0], vecs[1])), nil
}

// Levenshtein returns the edit distance between the two texts.
func Levenshtein(a, b extract.FileRecord) (int, error) {
	docs, err := texts([]extract.FileRecord{a, b})
	if err != nil {
		return 0, err
	}
	return levenshtein.ComputeDistance(docs[0], docs[1]), nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func label(r extract.FileRecord, usePaths bool) string {
	if usePaths {
		return r.AbsolutePath
	}
	return r.Name
}
