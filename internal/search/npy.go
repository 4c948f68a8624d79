package search

import (
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"filesift/internal/errs"
)

// writeMatrix stores rows as a 2-D float64 .npy array.
func writeMatrix(path string, rows [][]float32) error {
	if len(rows) == 0 {
		return errs.Newf(errs.EmptySelection, path, "no embeddings to write")
	}
	dim := len(rows[0])
	m := mat.NewDense(len(rows), dim, nil)
	for i, r := range rows {
		if len(r) != dim {
			return errs.Newf(errs.FileProcessingFailed, path, "row %d has dimension %d, want %d", i, len(r), dim)
		}
		for j, v := range r {
			m.Set(i, j, float64(v))
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".npy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := npyio.Write(tmp, m); err != nil {
		tmp.Close()
		return errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readMatrix loads a 2-D .npy array written by writeMatrix.
func readMatrix(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.FileProcessingFailed, path, err)
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, errs.Wrap(errs.FileCorruption, path, err)
	}
	r, c := m.Dims()
	out := make([][]float32, r)
	for i := range out {
		row := make([]float32, c)
		for j := range row {
			row[j] = float32(m.At(i, j))
		}
		out[i] = row
	}
	return out, nil
}
