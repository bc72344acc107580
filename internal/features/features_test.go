package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/models"
)

var sample = models.Fractions{0.30, 0.20, 0.15, 0.10, 0.10, 0.10, 0.05}

func TestExpandLinearColumnsUnchanged(t *testing.T) {
	r := Expand(sample)
	for i := 0; i < models.NumLinear; i++ {
		assert.Equal(t, sample[i], r[i])
	}
}

func TestProjectSingleLinearTerm(t *testing.T) {
	got := Project(Expand(sample), models.MustCode(0))
	assert.Equal(t, []float64{0.30}, got)
}

func TestProjectInteractionIsProduct(t *testing.T) {
	r := Expand(sample)
	// 7 -> (0,1), 13 -> (1,2), 27 -> (5,6)
	got := Project(r, models.MustCode(0, 1, 7))
	require.Len(t, got, 3)
	assert.InDelta(t, 0.30*0.20, got[2], 1e-15)
	assert.InDelta(t, 0.20*0.15, r[13], 1e-15)
	assert.InDelta(t, 0.10*0.05, r[27], 1e-15)
}

func TestProjectColumnOrderIsAscending(t *testing.T) {
	r := Expand(sample)
	a := Project(r, models.MustCode(7, 1, 0))
	b := Project(r, models.MustCode(0, 1, 7))
	assert.Equal(t, b, a)
	assert.Equal(t, []float64{0.30, 0.20, 0.30 * 0.20}, a)
}

func TestDesignPairsRowsBySampleID(t *testing.T) {
	rows := ExpandAll(map[int]models.Fractions{
		4: {1, 0, 0, 0, 0, 0, 0},
		9: {0, 1, 0, 0, 0, 0, 0},
	})
	x, err := Design(rows, []int{9, 4}, models.MustCode(0, 1))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, x)

	_, err = Design(rows, []int{9, 5}, models.MustCode(0))
	assert.True(t, errors.Is(err, ErrUnknownSample))
	_, err = Select(rows, []int{5})
	assert.ErrorIs(t, err, ErrUnknownSample)
}
