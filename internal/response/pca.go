package response

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mixsearch/internal/models"
	"mixsearch/internal/store"
)

// DefaultVariance is the explained variance kept by Components.
const DefaultVariance = 0.99

// Components derives response series from the principal components of the
// base contexts. Rows are the samples observed in every base context; the
// columns are the raw (unscaled) base values. Components are kept until their
// cumulative explained variance ratio exceeds varFrac, and the i-th kept
// component is returned as context pca/component_i.
func Components(ctx context.Context, src store.ObservationSource, bases []models.ScoringContext, varFrac float64) ([]Series, error) {
	if len(bases) < 2 {
		return nil, fmt.Errorf("pca needs at least two base contexts, got %d", len(bases))
	}
	if varFrac <= 0 || varFrac > 1 {
		varFrac = DefaultVariance
	}
	cols := make([]map[int]float64, len(bases))
	for i, sc := range bases {
		ids, raw, err := load(ctx, src, sc)
		if err != nil {
			return nil, err
		}
		m := make(map[int]float64, len(ids))
		for j, id := range ids {
			m[id] = raw[j]
		}
		cols[i] = m
	}
	var common []int
	for id := range cols[0] {
		inAll := true
		for _, c := range cols[1:] {
			if _, ok := c[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, id)
		}
	}
	sort.Ints(common)
	if len(common) < 2 {
		return nil, fmt.Errorf("pca: %d samples shared by all base contexts: %w", len(common), ErrNoObservations)
	}

	x := mat.NewDense(len(common), len(bases), nil)
	for r, id := range common {
		for c := range bases {
			x.Set(r, c, cols[c][id])
		}
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.New("pca: decomposition failed")
	}
	vars := pc.VarsTo(nil)
	keep := keepComponents(vars, varFrac)
	if keep == 0 {
		return nil, fmt.Errorf("pca: %w: base contexts have no variance", models.ErrDegenerateResponse)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// scores = (x - mean) * vecs[:, :keep]
	centered := mat.DenseCopyOf(x)
	for c := range bases {
		mean := stat.Mean(mat.Col(nil, c, x), nil)
		for r := range common {
			centered.Set(r, c, centered.At(r, c)-mean)
		}
	}
	var scores mat.Dense
	scores.Mul(centered, vecs.Slice(0, len(bases), 0, keep))

	out := make([]Series, 0, keep)
	for i := 0; i < keep; i++ {
		ids := append([]int(nil), common...)
		s, err := newSeries(models.ComponentContext(i+1), ids, mat.Col(nil, i, &scores))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// keepComponents returns the smallest count whose cumulative variance ratio
// is strictly greater than frac.
func keepComponents(vars []float64, frac float64) int {
	total := 0.0
	for _, v := range vars {
		total += v
	}
	if total <= 0 {
		return 0
	}
	cum := 0.0
	for i, v := range vars {
		cum += v / total
		if cum > frac {
			return i + 1
		}
	}
	return len(vars)
}
