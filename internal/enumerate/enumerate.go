// Package enumerate generates every valid Scheffe model of a given size in a
// fixed lexicographic order and persists them resumably.
package enumerate

import (
	"context"
	"fmt"

	"mixsearch/internal/models"
	"mixsearch/internal/terms"
)

const cancelCheckEvery = 1 << 16

// Run walks all k-combinations of {0..27} in lexicographic order (the
// combination [i0 < i1 < ... < ik-1] precedes any combination that is larger
// at the first differing position) and calls emit for each valid code whose
// 1-based position among valid codes is greater than done.
//
// The traversal depends on k alone, so resuming with the number of codes
// already persisted reproduces exactly the missing tail. Run returns the total
// number of valid codes of size k; a done larger than that total is reported as
// models.ErrResumeStateCorruption.
func Run(ctx context.Context, k, done int, emit func(models.ModelCode) error) (int, error) {
	if k < 1 || k > models.NumTerms {
		return 0, fmt.Errorf("model size %d outside [1,%d]", k, models.NumTerms)
	}
	if done < 0 {
		return 0, fmt.Errorf("%w: negative resume count %d for k=%d", models.ErrResumeStateCorruption, done, k)
	}
	const n = models.NumTerms
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	valid := 0
	for step := 1; ; step++ {
		if step%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return valid, err
			}
		}
		var c models.ModelCode
		for _, t := range idx {
			c |= models.ModelCode(1) << t
		}
		if terms.Valid(c) {
			valid++
			if valid > done && emit != nil {
				if err := emit(c); err != nil {
					return valid, err
				}
			}
		}

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	if done > valid {
		return valid, fmt.Errorf("%w: k=%d has %d valid codes but %d are recorded", models.ErrResumeStateCorruption, k, valid, done)
	}
	return valid, nil
}

// Count returns the number of valid codes of size k without enumerating: for
// every set of s linear terms, any k-s of its C(s,2) interactions may be added.
func Count(k int) int {
	if k < 1 || k > models.NumTerms {
		return 0
	}
	total := 0
	for s := 0; s <= models.NumLinear && s <= k; s++ {
		pairs := s * (s - 1) / 2
		if k-s > pairs {
			continue
		}
		total += binomial(models.NumLinear, s) * binomial(pairs, k-s)
	}
	return total
}

func binomial(n, r int) int {
	if r < 0 || r > n {
		return 0
	}
	if r > n-r {
		r = n - r
	}
	out := 1
	for i := 1; i <= r; i++ {
		out = out * (n - r + i) / i
	}
	return out
}
