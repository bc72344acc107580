// Package terms defines the Scheffe term space: 7 linear terms followed by the
// 21 pairwise interactions, and the validity rule for candidate models.
//
// Interaction indices are assigned to the 2-combinations of {0..6} in
// lexicographic order: 7 -> (0,1), 8 -> (0,2), ..., 12 -> (0,6), 13 -> (1,2),
// ..., 27 -> (5,6). Persisted model codes and design-matrix column order
// depend on this mapping, so it must never change.
package terms

import (
	"fmt"
	"math/bits"
	"strings"

	"mixsearch/internal/models"
)

// Pair holds the two linear parents of an interaction term.
type Pair [2]models.Term

var (
	parents  [models.NumTerms]Pair
	requires [models.NumTerms]models.ModelCode
	interact models.ModelCode
)

func init() {
	j := models.NumLinear
	for a := 0; a < models.NumLinear; a++ {
		for b := a + 1; b < models.NumLinear; b++ {
			parents[j] = Pair{models.Term(a), models.Term(b)}
			requires[j] = models.ModelCode(1)<<a | models.ModelCode(1)<<b
			interact |= models.ModelCode(1) << j
			j++
		}
	}
}

// Key returns the interaction-index to parent-pair mapping for indices 7..27.
// The returned map is a fresh copy.
func Key() map[models.Term]Pair {
	out := make(map[models.Term]Pair, models.NumTerms-models.NumLinear)
	for j := models.NumLinear; j < models.NumTerms; j++ {
		out[models.Term(j)] = parents[j]
	}
	return out
}

// Parents returns the linear parents of an interaction term; ok is false for
// linear or out-of-range terms.
func Parents(t models.Term) (Pair, bool) {
	if t < models.NumLinear || t >= models.NumTerms {
		return Pair{}, false
	}
	return parents[t], true
}

// Valid reports whether every interaction term in c has both parents in c.
func Valid(c models.ModelCode) bool {
	for m := c & interact; m != 0; m &= m - 1 {
		j := trailing(m)
		if c&requires[j] != requires[j] {
			return false
		}
	}
	return true
}

// Validate is Valid returning an error that wraps models.ErrInvalidModelCode
// and names the first orphaned interaction.
func Validate(c models.ModelCode) error {
	for m := c & interact; m != 0; m &= m - 1 {
		j := trailing(m)
		if c&requires[j] != requires[j] {
			p := parents[j]
			return fmt.Errorf("%w: %s: term %d needs terms %d and %d", models.ErrInvalidModelCode, c, j, p[0], p[1])
		}
	}
	return nil
}

// Label renders a term as x3 or x0*x1.
func Label(t models.Term) string {
	if p, ok := Parents(t); ok {
		return fmt.Sprintf("x%d*x%d", p[0], p[1])
	}
	return fmt.Sprintf("x%d", t)
}

// Describe renders a code as a readable model formula.
func Describe(c models.ModelCode) string {
	ts := c.Terms()
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = Label(models.Term(t))
	}
	return strings.Join(parts, " + ")
}

func trailing(m models.ModelCode) int { return bits.TrailingZeros32(uint32(m)) }
