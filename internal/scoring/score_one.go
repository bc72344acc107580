package scoring

import (
	"context"
	"fmt"
	"time"

	"mixsearch/internal/features"
	"mixsearch/internal/models"
	"mixsearch/internal/response"
	"mixsearch/internal/store"
	"mixsearch/internal/terms"
)

// Outcome is what ScoreOne did with a code.
type Outcome int

const (
	// Skipped means a record already existed and nothing was computed or written.
	Skipped Outcome = iota
	// Scored means a new record was written.
	Scored
)

func (o Outcome) String() string {
	if o == Scored {
		return "scored"
	}
	return "skipped"
}

// Target is one context prepared for scoring: the response, the matching
// feature rows and the splits. It is read-only once built.
type Target struct {
	Series response.Series
	Rows   []features.Row // Rows[i] belongs to Series.SampleIDs[i]
	Scorer *Scorer
	RunID  string
}

// NewTarget pairs series with its feature rows and precomputes the splits.
func NewTarget(series response.Series, rows map[int]features.Row, cv ShuffleSplit) (*Target, error) {
	sel, err := features.Select(rows, series.SampleIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", series.Context, err)
	}
	sc, err := NewScorer(cv, series.Len())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", series.Context, err)
	}
	return &Target{Series: series, Rows: sel, Scorer: sc}, nil
}

func (t *Target) Context() models.ScoringContext { return t.Series.Context }

// Design projects the target's rows onto code.
func (t *Target) Design(code models.ModelCode) [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = features.Project(r, code)
	}
	return out
}

// Evaluate computes the mean CV score of code without touching the store.
func (t *Target) Evaluate(code models.ModelCode) (float64, error) {
	if err := terms.Validate(code); err != nil {
		return 0, err
	}
	return t.Scorer.Score(t.Design(code), t.Series.Values)
}

// ScoreOne scores code in the target's context unless a record exists. With
// force a new record is appended regardless and becomes the latest. Invalid
// codes are rejected before anything is computed or written.
func ScoreOne(ctx context.Context, st store.ScoreStore, t *Target, code models.ModelCode, force bool) (Outcome, error) {
	if err := terms.Validate(code); err != nil {
		return Skipped, err
	}
	sc := t.Context()
	if !force {
		done, err := st.HasScore(ctx, sc, code)
		if err != nil {
			return Skipped, err
		}
		if done {
			return Skipped, nil
		}
	}
	v, err := t.Scorer.Score(t.Design(code), t.Series.Values)
	if err != nil {
		return Skipped, fmt.Errorf("score %s in %s: %w", code, sc, err)
	}
	rec := models.ScoreRecord{
		Context:     sc,
		Code:        code,
		NTerms:      code.Len(),
		MeanCVScore: v,
		RunID:       t.RunID,
		CreatedAt:   time.Now().UTC(),
	}
	inserted, err := st.InsertScore(ctx, rec, force)
	if err != nil {
		return Skipped, err
	}
	if !inserted {
		return Skipped, nil
	}
	return Scored, nil
}
