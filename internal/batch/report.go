package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mixsearch/internal/enumerate"
	"mixsearch/internal/models"
)

// SizeResult is the outcome of ensuring enumeration for one k.
type SizeResult struct {
	enumerate.Result
	Err  string `json:"error,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// ContextResult is the outcome of scoring one context.
type ContextResult struct {
	Context models.ScoringContext `json:"context"`
	Models  int                   `json:"models"`
	Scored  int                   `json:"scored"`
	Skipped int                   `json:"skipped"`
	Claimed int                   `json:"claimedElsewhere"`
	Failed  int                   `json:"failed"`
	Elapsed time.Duration         `json:"elapsed"`
	Err     string                `json:"error,omitempty"`
	Kind    string                `json:"kind,omitempty"`
}

// Report collects every unit's outcome. Failures of one unit never stop its
// siblings; they are listed here instead.
type Report struct {
	RunID    string          `json:"runID"`
	Sizes    []SizeResult    `json:"sizes,omitempty"`
	Contexts []ContextResult `json:"contexts,omitempty"`
}

// Failures lists failed units as "<unit>: <kind>: <error>".
func (r *Report) Failures() []string {
	var out []string
	for _, s := range r.Sizes {
		if s.Err != "" {
			out = append(out, fmt.Sprintf("k=%d: %s: %s", s.K, s.Kind, s.Err))
		}
	}
	for _, c := range r.Contexts {
		if c.Err != "" {
			out = append(out, fmt.Sprintf("%s: %s: %s", c.Context, c.Kind, c.Err))
		}
	}
	return out
}

func (r *Report) OK() bool { return len(r.Failures()) == 0 }

// Status maps the report to the persisted run status.
func (r *Report) Status() models.RunStatus {
	failed := len(r.Failures())
	switch {
	case failed == 0:
		return models.RunCompleted
	case failed == len(r.Sizes)+len(r.Contexts):
		return models.RunFailed
	default:
		return models.RunPartial
	}
}

// Summary is a one line description used in logs and notifications.
func (r *Report) Summary() string {
	scored, skipped := 0, 0
	for _, c := range r.Contexts {
		scored += c.Scored
		skipped += c.Skipped
	}
	parts := []string{
		fmt.Sprintf("%d sizes", len(r.Sizes)),
		fmt.Sprintf("%d contexts", len(r.Contexts)),
		fmt.Sprintf("%d scored", scored),
		fmt.Sprintf("%d skipped", skipped),
	}
	if n := len(r.Failures()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	return strings.Join(parts, ", ")
}

func (r *Report) metrics() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (r *Report) failSize(res enumerate.Result, err error) {
	r.Sizes = append(r.Sizes, SizeResult{Result: res, Err: err.Error(), Kind: models.Kind(err)})
}
