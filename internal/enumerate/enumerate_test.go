package enumerate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/models"
	"mixsearch/internal/store"
	"mixsearch/internal/terms"
)

func collect(t *testing.T, k, done int) ([]models.ModelCode, int) {
	t.Helper()
	var out []models.ModelCode
	total, err := Run(context.Background(), k, done, func(c models.ModelCode) error {
		out = append(out, c)
		return nil
	})
	require.NoError(t, err)
	return out, total
}

func TestRunEmitsOnlyValidCodesOfSizeK(t *testing.T) {
	for _, k := range []int{1, 2, 3, 4} {
		codes, total := collect(t, k, 0)
		assert.Equal(t, total, len(codes))
		seen := make(map[models.ModelCode]bool)
		for _, c := range codes {
			assert.Equal(t, k, c.Len(), "code %s", c)
			assert.True(t, terms.Valid(c), "code %s", c)
			assert.False(t, seen[c], "duplicate %s", c)
			seen[c] = true
		}
	}
}

func TestRunMatchesClosedFormCount(t *testing.T) {
	ks := []int{1, 2, 3, 4, 5, 6, 24, 25, 26, 27, 28}
	if !testing.Short() {
		ks = append(ks, 7, 8, 21, 22, 23)
	}
	for _, k := range ks {
		total, err := Run(context.Background(), k, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, Count(k), total, "k=%d", k)
	}
}

func TestCountKnownValues(t *testing.T) {
	assert.Equal(t, 7, Count(1))
	// an interaction needs two parents, so size 2 has only linear pairs
	assert.Equal(t, 21, Count(2))
	// 35 linear triples plus 21 pairs with their interaction
	assert.Equal(t, 56, Count(3))
	assert.Equal(t, 1, Count(28))
	assert.Zero(t, Count(0))
	assert.Zero(t, Count(29))
}

func TestSizeTwoContents(t *testing.T) {
	codes, _ := collect(t, 2, 0)
	set := make(map[models.ModelCode]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	assert.True(t, set[models.MustCode(0, 1)])
	assert.False(t, set[models.MustCode(0, 7)])
	assert.False(t, set[models.MustCode(1, 7)])
	assert.Equal(t, models.MustCode(0, 1), codes[0], "lexicographic order starts at {0,1}")
	assert.Equal(t, models.MustCode(5, 6), codes[len(codes)-1])
}

func TestSizeThreeIncludesInteractionWithParents(t *testing.T) {
	codes, _ := collect(t, 3, 0)
	assert.Contains(t, codes, models.MustCode(0, 1, 7))
	assert.Contains(t, codes, models.MustCode(5, 6, 27))
	assert.NotContains(t, codes, models.MustCode(0, 2, 7))
}

func TestResumeReproducesTail(t *testing.T) {
	full, total := collect(t, 4, 0)
	for _, done := range []int{0, 1, 17, total - 1, total} {
		tail, got := collect(t, 4, done)
		assert.Equal(t, total, got)
		assert.Equal(t, full[done:], append([]models.ModelCode{}, tail...), "done=%d", done)
	}
}

func TestResumeBeyondTotalIsCorruption(t *testing.T) {
	_, err := Run(context.Background(), 2, Count(2)+1, nil)
	assert.ErrorIs(t, err, models.ErrResumeStateCorruption)
	_, err = Run(context.Background(), 2, -1, nil)
	assert.ErrorIs(t, err, models.ErrResumeStateCorruption)
}

func TestRunRejectsBadSize(t *testing.T) {
	_, err := Run(context.Background(), 0, 0, nil)
	assert.Error(t, err)
	_, err = Run(context.Background(), 29, 0, nil)
	assert.Error(t, err)
}

func TestRunStopsOnEmitError(t *testing.T) {
	boom := errors.New("boom")
	n := 0
	_, err := Run(context.Background(), 3, 0, func(models.ModelCode) error {
		n++
		if n == 5 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, n)
}

func TestEnsurePersistsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	res, err := Ensure(ctx, st, 3, Options{BatchSize: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, Count(3), res.Total)
	assert.Equal(t, Count(3), res.Added)
	assert.False(t, res.Skipped)

	done, err := st.IsComplete(ctx, 3)
	require.NoError(t, err)
	assert.True(t, done)

	res, err = Ensure(ctx, st, 3, Options{BatchSize: 10}, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Added)
	n, err := st.CodeCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Count(3), n)
}

func TestEnsureResumesInterruptedPartition(t *testing.T) {
	ctx := context.Background()
	want, _ := collect(t, 3, 0)

	st := store.New()
	require.NoError(t, st.AppendCodes(ctx, 3, 1, want[:20]))

	res, err := Ensure(ctx, st, 3, Options{BatchSize: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Resumed)
	assert.Equal(t, len(want)-20, res.Added)

	got, err := st.Codes(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnsureDetectsCorruptPartition(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	codes, _ := collect(t, 1, 0)
	require.NoError(t, st.AppendCodes(ctx, 1, 1, codes))
	require.NoError(t, st.AppendCodes(ctx, 1, 8, []models.ModelCode{models.MustCode(0)}))

	_, err := Ensure(ctx, st, 1, Options{}, nil)
	assert.ErrorIs(t, err, models.ErrResumeStateCorruption)
	done, err := st.IsComplete(ctx, 1)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestEnsureHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := store.New()
	_, err := Ensure(ctx, st, 8, Options{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	done, _ := st.IsComplete(context.Background(), 8)
	assert.False(t, done)
}
