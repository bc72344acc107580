// Package scoring fits no-intercept linear models under repeated random
// train/test splits and records the mean held-out R².
package scoring

import (
	"fmt"
	"math"
	"math/rand"
)

// Split holds row indices for one resampling round.
type Split struct {
	Train []int
	Test  []int
}

// ShuffleSplit draws Repeats independent random partitions. The sequence is
// a pure function of (n, Repeats, TestFraction, Seed).
type ShuffleSplit struct {
	Repeats      int
	TestFraction float64
	Seed         int64
}

// DefaultSplit is 3 repeats holding out a third of the samples, seed 0.
var DefaultSplit = ShuffleSplit{Repeats: 3, TestFraction: 0.333, Seed: 0}

// Sizes returns the train and test sizes for n samples: the test size is
// ceil(TestFraction*n) and the rest train.
func (s ShuffleSplit) Sizes(n int) (train, test int, err error) {
	if s.Repeats < 1 {
		return 0, 0, fmt.Errorf("split repeats %d < 1", s.Repeats)
	}
	if s.TestFraction <= 0 || s.TestFraction >= 1 {
		return 0, 0, fmt.Errorf("test fraction %g outside (0,1)", s.TestFraction)
	}
	test = int(math.Ceil(s.TestFraction * float64(n)))
	train = n - test
	if test < 1 || train < 1 {
		return 0, 0, fmt.Errorf("%d samples too few for test fraction %g", n, s.TestFraction)
	}
	return train, test, nil
}

// Splits returns Repeats partitions of [0,n).
func (s ShuffleSplit) Splits(n int) ([]Split, error) {
	_, nTest, err := s.Sizes(n)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(s.Seed))
	out := make([]Split, s.Repeats)
	for i := range out {
		perm := rng.Perm(n)
		out[i] = Split{Test: perm[:nTest:nTest], Train: perm[nTest:]}
	}
	return out, nil
}
