package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/batch"
	"mixsearch/internal/enumerate"
	"mixsearch/internal/models"
)

func TestParseSizes(t *testing.T) {
	got, err := parseSizes("3, 1-2,28,2")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 28}, got)

	got, err = parseSizes("1-28")
	require.NoError(t, err)
	assert.Len(t, got, models.NumTerms)

	for _, bad := range []string{"", "0", "29", "5-3", "x", "1-y"} {
		_, err := parseSizes(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseContexts(t *testing.T) {
	got, err := parseContexts([]string{"thermomat/stab_time_min", " LOI/LOI Final "})
	require.NoError(t, err)
	assert.Equal(t, []models.ScoringContext{
		{Source: "thermomat", DataType: "stab_time_min"},
		{Source: "LOI", DataType: "LOI Final"},
	}, got)

	_, err = parseContexts([]string{"thermomat"})
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	rep := &batch.Report{
		RunID: "0b0e4f0e-6f4b-4a59-9d8e-3a4c6f0f3b21",
		Sizes: []batch.SizeResult{
			{Result: enumerate.Result{K: 1, Total: 7, Added: 7}},
			{Result: enumerate.Result{K: 2, Total: 21, Skipped: true}},
		},
		Contexts: []batch.ContextResult{
			{Context: models.ScoringContext{Source: "a", DataType: "b"}, Scored: 20, Skipped: 8},
			{Context: models.ScoringContext{Source: "c", DataType: "d"}, Err: "all 3 values equal 5", Kind: "degenerate_response"},
		},
	}
	var buf bytes.Buffer
	printReport(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "k=1  7 models (7 new)")
	assert.Contains(t, out, "already complete")
	assert.Contains(t, out, "a/b scored 20, skipped 8")
	assert.Contains(t, out, "c/d FAILED (degenerate_response)")
	assert.True(t, strings.HasSuffix(out, "1 failed\n"))
}
