package scoring

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scorer evaluates design matrices against one response under a fixed set of
// splits. It is safe for concurrent use.
type Scorer struct {
	splits []Split
	n      int
}

// NewScorer precomputes the splits for n samples.
func NewScorer(cv ShuffleSplit, n int) (*Scorer, error) {
	sp, err := cv.Splits(n)
	if err != nil {
		return nil, err
	}
	return &Scorer{splits: sp, n: n}, nil
}

func (s *Scorer) Splits() []Split { return s.splits }

// Score returns the mean held-out R² of a least-squares fit without
// intercept. x has one row per sample, aligned with y.
func (s *Scorer) Score(x [][]float64, y []float64) (float64, error) {
	if len(x) != s.n || len(y) != s.n {
		return 0, fmt.Errorf("score: %d rows and %d responses, want %d", len(x), len(y), s.n)
	}
	if s.n == 0 || len(x[0]) == 0 {
		return 0, errors.New("score: empty design")
	}
	total := 0.0
	for i, sp := range s.splits {
		beta, err := fit(x, y, sp.Train)
		if err != nil {
			return 0, fmt.Errorf("split %d: %w", i, err)
		}
		r2 := heldOutR2(x, y, sp.Test, beta)
		if math.IsNaN(r2) {
			return 0, fmt.Errorf("split %d: score is NaN", i)
		}
		total += r2
	}
	return total / float64(len(s.splits)), nil
}

// fit solves min ||X b - y|| over rows, taking the minimum-norm solution when
// X is rank deficient.
func fit(x [][]float64, y []float64, rows []int) ([]float64, error) {
	k := len(x[0])
	a := mat.NewDense(len(rows), k, nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		a.SetRow(i, x[r])
		b.SetVec(i, y[r])
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("svd did not converge")
	}
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(len(rows), k))
	rank := svd.Rank(rcond)
	beta := make([]float64, k)
	if rank == 0 {
		return beta, nil
	}
	var sol mat.VecDense
	svd.SolveVecTo(&sol, b, rank)
	for i := range beta {
		beta[i] = sol.AtVec(i)
	}
	return beta, nil
}

// heldOutR2 is the coefficient of determination on rows. A constant held-out
// response scores 1 when predicted exactly and 0 otherwise.
func heldOutR2(x [][]float64, y []float64, rows []int, beta []float64) float64 {
	est := make([]float64, len(rows))
	obs := make([]float64, len(rows))
	for i, r := range rows {
		v := 0.0
		for j, c := range x[r] {
			v += c * beta[j]
		}
		est[i] = v
		obs[i] = y[r]
	}
	constant := true
	for _, v := range obs[1:] {
		if v != obs[0] {
			constant = false
			break
		}
	}
	if constant {
		for i := range obs {
			if est[i] != obs[i] {
				return 0
			}
		}
		return 1
	}
	return stat.RSquaredFrom(est, obs, nil)
}
