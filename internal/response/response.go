// Package response extracts the target variable of a scoring context and
// rescales it to [-1, 1].
package response

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"mixsearch/internal/models"
	"mixsearch/internal/store"
)

var (
	// ErrDuplicateSample means a context has two observations for one sample.
	ErrDuplicateSample = errors.New("duplicate sample observation")
	// ErrNoObservations means a context has nothing to score against.
	ErrNoObservations = errors.New("no observations")
)

// DegenerateResponseError reports a context whose values have zero range.
type DegenerateResponseError struct {
	Context models.ScoringContext
	Value   float64
	N       int
}

func (e *DegenerateResponseError) Error() string {
	return fmt.Sprintf("%s: all %d values equal %g", e.Context, e.N, e.Value)
}

func (e *DegenerateResponseError) Unwrap() error { return models.ErrDegenerateResponse }

// Series pairs sample ids with rescaled response values, ordered by sample.
type Series struct {
	Context   models.ScoringContext
	SampleIDs []int
	Values    []float64
}

func (s Series) Len() int { return len(s.SampleIDs) }

// Build loads the observations of sc and rescales them.
func Build(ctx context.Context, src store.ObservationSource, sc models.ScoringContext) (Series, error) {
	ids, raw, err := load(ctx, src, sc)
	if err != nil {
		return Series{}, err
	}
	return newSeries(sc, ids, raw)
}

func newSeries(sc models.ScoringContext, ids []int, raw []float64) (Series, error) {
	vals, err := Rescale(raw)
	if err != nil {
		var de *DegenerateResponseError
		if errors.As(err, &de) {
			de.Context = sc
		}
		return Series{}, err
	}
	return Series{Context: sc, SampleIDs: ids, Values: vals}, nil
}

// load returns the raw values of sc sorted by sample number.
func load(ctx context.Context, src store.ObservationSource, sc models.ScoringContext) ([]int, []float64, error) {
	obs, err := src.Observations(ctx, sc.Source, sc.DataType)
	if err != nil {
		return nil, nil, fmt.Errorf("observations %s: %w", sc, err)
	}
	if len(obs) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", sc, ErrNoObservations)
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Sample < obs[j].Sample })
	ids := make([]int, len(obs))
	raw := make([]float64, len(obs))
	for i, o := range obs {
		if i > 0 && o.Sample == obs[i-1].Sample {
			return nil, nil, fmt.Errorf("%s: %w: sample %d", sc, ErrDuplicateSample, o.Sample)
		}
		ids[i] = o.Sample
		raw[i] = o.Value
	}
	return ids, raw, nil
}

// Rescale maps values linearly onto [-1, 1] using their own min and max:
// 2*(y-min)/(max-min) - 1. Zero range is a *DegenerateResponseError.
func Rescale(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrNoObservations
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return nil, &DegenerateResponseError{Value: lo, N: len(values)}
	}
	out := make([]float64, len(values))
	span := hi - lo
	for i, v := range values {
		out[i] = 2*(v-lo)/span - 1
	}
	return out, nil
}
