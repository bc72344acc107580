package scoring

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/features"
	"mixsearch/internal/models"
	"mixsearch/internal/response"
	"mixsearch/internal/store"
)

func TestSplitsDeterministicAndDisjoint(t *testing.T) {
	cv := DefaultSplit
	a, err := cv.Splits(10)
	require.NoError(t, err)
	b, err := cv.Splits(10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 3)
	for _, sp := range a {
		assert.Len(t, sp.Test, 4) // ceil(0.333*10)
		assert.Len(t, sp.Train, 6)
		all := append(append([]int{}, sp.Train...), sp.Test...)
		sort.Ints(all)
		for i, v := range all {
			assert.Equal(t, i, v)
		}
	}

	c, err := ShuffleSplit{Repeats: 3, TestFraction: 0.333, Seed: 1}.Splits(10)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSplitsRejectTinyInputs(t *testing.T) {
	_, err := DefaultSplit.Splits(1)
	assert.Error(t, err)
	_, err = ShuffleSplit{Repeats: 0, TestFraction: 0.3}.Splits(10)
	assert.Error(t, err)
	_, err = ShuffleSplit{Repeats: 1, TestFraction: 1}.Splits(10)
	assert.Error(t, err)
}

// mixture builds n samples whose response is an exact Scheffe model in x0,
// x1 and x0*x1.
func mixture(n int) (map[int]features.Row, response.Series) {
	rng := rand.New(rand.NewSource(42))
	rows := make(map[int]features.Row, n)
	s := response.Series{Context: models.ScoringContext{Source: "thermomat", DataType: "tau"}}
	for id := 1; id <= n; id++ {
		var f models.Fractions
		sum := 0.0
		for i := range f {
			f[i] = rng.Float64()
			sum += f[i]
		}
		for i := range f {
			f[i] /= sum
		}
		r := features.Expand(f)
		rows[id] = r
		s.SampleIDs = append(s.SampleIDs, id)
		s.Values = append(s.Values, 2*r[0]-3*r[1]+5*r[7])
	}
	return rows, s
}

func TestPerfectModelScoresOne(t *testing.T) {
	rows, s := mixture(12)
	tgt, err := NewTarget(s, rows, DefaultSplit)
	require.NoError(t, err)
	v, err := tgt.Evaluate(models.MustCode(0, 1, 7))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	worse, err := tgt.Evaluate(models.MustCode(5))
	require.NoError(t, err)
	assert.Less(t, worse, v)
}

func TestRankDeficientDesignStillScores(t *testing.T) {
	rows, s := mixture(12)
	tgt, err := NewTarget(s, rows, DefaultSplit)
	require.NoError(t, err)
	// the seven fractions sum to one, so the full model is collinear with itself
	_, err = tgt.Evaluate(models.MustCode(0, 1, 2, 3, 4, 5, 6))
	assert.NoError(t, err)
}

func TestHeldOutR2ConstantResponse(t *testing.T) {
	x := [][]float64{{1}, {1}}
	y := []float64{2, 2}
	assert.Equal(t, 1.0, heldOutR2(x, y, []int{0, 1}, []float64{2}))
	assert.Equal(t, 0.0, heldOutR2(x, y, []int{0, 1}, []float64{1}))
}

func TestScoreOneDedup(t *testing.T) {
	ctx := context.Background()
	rows, s := mixture(9)
	tgt, err := NewTarget(s, rows, DefaultSplit)
	require.NoError(t, err)
	st := store.New()
	code := models.MustCode(0, 1, 7)

	out, err := ScoreOne(ctx, st, tgt, code, false)
	require.NoError(t, err)
	assert.Equal(t, Scored, out)
	out, err = ScoreOne(ctx, st, tgt, code, false)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)

	n, err := st.ScoreCount(ctx, s.Context)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok, err := st.LatestScore(ctx, s.Context, code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, rec.NTerms)
	first := rec.ID

	out, err = ScoreOne(ctx, st, tgt, code, true)
	require.NoError(t, err)
	assert.Equal(t, Scored, out)
	rec, _, err = st.LatestScore(ctx, s.Context, code)
	require.NoError(t, err)
	assert.Greater(t, rec.ID, first)
}

func TestScoreOneRejectsInvalidCode(t *testing.T) {
	ctx := context.Background()
	rows, s := mixture(9)
	tgt, err := NewTarget(s, rows, DefaultSplit)
	require.NoError(t, err)
	st := store.New()
	_, err = ScoreOne(ctx, st, tgt, models.MustCode(0, 7), false)
	assert.ErrorIs(t, err, models.ErrInvalidModelCode)
	has, err := st.HasScore(ctx, s.Context, models.MustCode(0, 7))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestNewTargetUnknownSample(t *testing.T) {
	rows, s := mixture(5)
	s.SampleIDs[2] = 99
	_, err := NewTarget(s, rows, DefaultSplit)
	assert.ErrorIs(t, err, features.ErrUnknownSample)
}
