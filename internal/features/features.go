// Package features builds the Scheffe design matrix: each sample's 7 linear
// fractions expanded to 28 columns, then projected onto a model's terms.
package features

import (
	"errors"
	"fmt"

	"mixsearch/internal/models"
	"mixsearch/internal/terms"
)

// ErrUnknownSample is returned when a response refers to a sample with no
// recorded fractions.
var ErrUnknownSample = errors.New("unknown sample")

// Row is one sample's full feature vector, indexed by term.
type Row [models.NumTerms]float64

// Expand copies the linear fractions into columns 0..6 and fills each
// interaction column with the product of its two parents.
func Expand(f models.Fractions) Row {
	var r Row
	copy(r[:models.NumLinear], f[:])
	for j := models.NumLinear; j < models.NumTerms; j++ {
		p, _ := terms.Parents(models.Term(j))
		r[j] = f[p[0]] * f[p[1]]
	}
	return r
}

// ExpandAll expands every sample.
func ExpandAll(in map[int]models.Fractions) map[int]Row {
	out := make(map[int]Row, len(in))
	for id, f := range in {
		out[id] = Expand(f)
	}
	return out
}

// Project returns the columns selected by code in ascending term order.
func Project(r Row, code models.ModelCode) []float64 {
	return ProjectInto(make([]float64, 0, code.Len()), r, code)
}

// ProjectInto is Project appending to dst.
func ProjectInto(dst []float64, r Row, code models.ModelCode) []float64 {
	for _, t := range code.Terms() {
		dst = append(dst, r[t])
	}
	return dst
}

// Design lays out the projected rows for sampleIDs in the given order, so
// row i of the result pairs with response i.
func Design(rows map[int]Row, sampleIDs []int, code models.ModelCode) ([][]float64, error) {
	out := make([][]float64, len(sampleIDs))
	k := code.Len()
	backing := make([]float64, 0, len(sampleIDs)*k)
	for i, id := range sampleIDs {
		r, ok := rows[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSample, id)
		}
		start := len(backing)
		backing = ProjectInto(backing, r, code)
		out[i] = backing[start:len(backing):len(backing)]
	}
	return out, nil
}

// Select returns the rows for sampleIDs in order; Scorer callers use it once
// per context and then project per model.
func Select(rows map[int]Row, sampleIDs []int) ([]Row, error) {
	out := make([]Row, len(sampleIDs))
	for i, id := range sampleIDs {
		r, ok := rows[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSample, id)
		}
		out[i] = r
	}
	return out, nil
}
