package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/models"
)

// backends returns every Repository implementation under test. The SQLite
// store is skipped when the driver cannot open a file.
func backends(t *testing.T) map[string]Repository {
	t.Helper()
	out := map[string]Repository{"memory": New()}
	s, err := NewSQLite(t.TempDir() + "/contract.db")
	if err != nil {
		t.Log("sqlite not available:", err)
	} else {
		t.Cleanup(func() { _ = s.Close() })
		out["sqlite"] = s
	}
	return out
}

func TestEnumerationPartition(t *testing.T) {
	ctx := context.Background()
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			done, err := r.IsComplete(ctx, 2)
			require.NoError(t, err)
			assert.False(t, done)

			require.NoError(t, r.AppendCodes(ctx, 2, 1, []models.ModelCode{models.MustCode(0, 1), models.MustCode(0, 2)}))
			require.NoError(t, r.AppendCodes(ctx, 2, 3, []models.ModelCode{models.MustCode(0, 3)}))

			n, err := r.CodeCount(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			// partitions are independent
			n, err = r.CodeCount(ctx, 3)
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, r.MarkComplete(ctx, 2, 3))
			require.NoError(t, r.MarkComplete(ctx, 2, 3))
			done, err = r.IsComplete(ctx, 2)
			require.NoError(t, err)
			assert.True(t, done)

			// the completion marker is not a data record
			n, err = r.CodeCount(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			codes, err := r.Codes(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []models.ModelCode{models.MustCode(0, 1), models.MustCode(0, 2), models.MustCode(0, 3)}, codes)

			st, err := r.EnumerationStatus(ctx)
			require.NoError(t, err)
			require.Len(t, st, 1)
			assert.Equal(t, models.EnumerationStatus{K: 2, Count: 3, Complete: true}, st[0])
		})
	}
}

func TestAppendRejectsWrongSize(t *testing.T) {
	ctx := context.Background()
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := r.AppendCodes(ctx, 2, 1, []models.ModelCode{models.MustCode(0, 1), models.MustCode(0, 1, 7)})
			require.Error(t, err)
			n, err := r.CodeCount(ctx, 2)
			require.NoError(t, err)
			assert.Zero(t, n, "a failed batch must not be partially recorded")
		})
	}
}

func TestScoreDedupAndForce(t *testing.T) {
	ctx := context.Background()
	sc := models.ScoringContext{Source: "thermomat", DataType: "stab_time_min"}
	other := models.ScoringContext{Source: "LOI", DataType: "LOI Final"}
	code := models.MustCode(0, 1, 7)
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := r.InsertScore(ctx, models.ScoreRecord{Context: sc, Code: code, MeanCVScore: 0.5}, false)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = r.InsertScore(ctx, models.ScoreRecord{Context: sc, Code: code, MeanCVScore: 0.9}, false)
			require.NoError(t, err)
			assert.False(t, ok, "second insert without force must be a no-op")

			rec, found, err := r.LatestScore(ctx, sc, code)
			require.NoError(t, err)
			require.True(t, found)
			assert.InDelta(t, 0.5, rec.MeanCVScore, 1e-12)
			assert.Equal(t, 3, rec.NTerms)
			assert.Equal(t, sc, rec.Context)

			has, err := r.HasScore(ctx, other, code)
			require.NoError(t, err)
			assert.False(t, has, "contexts are independent")

			ok, err = r.InsertScore(ctx, models.ScoreRecord{Context: sc, Code: code, MeanCVScore: 0.7}, true)
			require.NoError(t, err)
			assert.True(t, ok)
			rec, _, err = r.LatestScore(ctx, sc, code)
			require.NoError(t, err)
			assert.InDelta(t, 0.7, rec.MeanCVScore, 1e-12, "latest wins")

			n, err := r.ScoreCount(ctx, sc)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			scored, err := r.ScoredCodes(ctx, sc)
			require.NoError(t, err)
			assert.Contains(t, scored, code)
		})
	}
}

func TestConcurrentInsertKeepsOneRecord(t *testing.T) {
	ctx := context.Background()
	sc := models.ScoringContext{Source: "colour", DataType: "AVG YI"}
	code := models.MustCode(2, 3, 18)
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			inserted := 0
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := r.InsertScore(ctx, models.ScoreRecord{Context: sc, Code: code, MeanCVScore: float64(i)}, false)
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						inserted++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 1, inserted)
			top, err := r.TopScores(ctx, sc, 10)
			require.NoError(t, err)
			assert.Len(t, top, 1)
		})
	}
}

func TestTopScoresOrder(t *testing.T) {
	ctx := context.Background()
	sc := models.ScoringContext{Source: "MCC", DataType: "HRR"}
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, v := range []float64{0.1, 0.8, 0.4} {
				_, err := r.InsertScore(ctx, models.ScoreRecord{Context: sc, Code: models.MustCode(i), MeanCVScore: v}, false)
				require.NoError(t, err)
			}
			top, err := r.TopScores(ctx, sc, 2)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, models.MustCode(1), top[0].Code)
			assert.Equal(t, models.MustCode(2), top[1].Code)

			st, err := r.ContextStatus(ctx)
			require.NoError(t, err)
			require.Len(t, st, 1)
			assert.Equal(t, 3, st[0].Scored)
		})
	}
}

func TestClaimsAreExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	sc := models.ScoringContext{Source: "tensile", DataType: "E_t"}
	code := models.MustCode(4)
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := r.Claim(ctx, sc, code, "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = r.Claim(ctx, sc, code, "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = r.Claim(ctx, sc, code, "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "owner may renew")

			require.NoError(t, r.Release(ctx, sc, code, "a"))
			ok, err = r.Claim(ctx, sc, code, "b", -time.Second)
			require.NoError(t, err)
			assert.True(t, ok)

			// b's lease is already expired, so a can take it over
			ok, err = r.Claim(ctx, sc, code, "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestObservationsFractionsAndRuns(t *testing.T) {
	ctx := context.Background()
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, r.InsertObservations(ctx, []models.Observation{
				{Equipment: "thermomat", DataType: "tau", Sample: 2, Value: 20},
				{Equipment: "thermomat", DataType: "tau", Sample: 1, Value: 10},
				{Equipment: "LOI", DataType: "LOI Final", Sample: 1, Value: 24},
			}))
			obs, err := r.Observations(ctx, "thermomat", "tau")
			require.NoError(t, err)
			assert.Len(t, obs, 2)

			cs, err := r.Contexts(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []models.ScoringContext{
				{Source: "thermomat", DataType: "tau"},
				{Source: "LOI", DataType: "LOI Final"},
			}, cs)

			fr := models.Fractions{0.5, 0.1, 0.1, 0.1, 0.1, 0.05, 0.05}
			require.NoError(t, r.UpsertFractions(ctx, map[int]models.Fractions{1: fr}))
			got, err := r.Fractions(ctx)
			require.NoError(t, err)
			assert.Equal(t, fr, got[1])

			run, err := r.CreateRun(ctx, "run")
			require.NoError(t, err)
			require.NotEmpty(t, run.ID)
			require.NoError(t, r.FinishRun(ctx, run.ID, models.RunPartial, `{"scored":3}`))
			runs, err := r.ListRuns(ctx, 5)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, models.RunPartial, runs[0].Status)
			assert.NotNil(t, runs[0].Finished)
			assert.Equal(t, `{"scored":3}`, runs[0].Metrics)
		})
	}
}
