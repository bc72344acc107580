package models

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

const (
	// NumLinear is the number of mixture components (linear terms).
	NumLinear = 7
	// NumTerms is the number of linear plus pairwise-interaction terms.
	NumTerms = NumLinear + NumLinear*(NumLinear-1)/2
)

// Term indexes a column of the full design matrix. [0,7) are linear terms,
// [7,28) pairwise interactions.
type Term int

func (t Term) Linear() bool { return t >= 0 && t < NumLinear }

// ModelCode is a set of terms stored as a bitmask; bit i set means term i is
// selected. Equal masks are equal models.
type ModelCode uint32

const fullMask = ModelCode(1)<<NumTerms - 1

// CodeOf builds a ModelCode from term indices. Out-of-range or repeated
// indices are an error.
func CodeOf(terms ...int) (ModelCode, error) {
	var c ModelCode
	for _, t := range terms {
		if t < 0 || t >= NumTerms {
			return 0, fmt.Errorf("term %d out of range [0,%d)", t, NumTerms)
		}
		bit := ModelCode(1) << t
		if c&bit != 0 {
			return 0, fmt.Errorf("term %d repeated", t)
		}
		c |= bit
	}
	return c, nil
}

// MustCode is CodeOf for literals known to be well formed.
func MustCode(terms ...int) ModelCode {
	c, err := CodeOf(terms...)
	if err != nil {
		panic(err)
	}
	return c
}

// CodeFromMask converts a persisted mask, rejecting bits above term 27.
func CodeFromMask(mask int64) (ModelCode, error) {
	if mask < 0 || mask > int64(fullMask) {
		return 0, fmt.Errorf("mask %#x has bits outside %d terms", mask, NumTerms)
	}
	return ModelCode(mask), nil
}

func (c ModelCode) Has(t Term) bool { return t >= 0 && t < NumTerms && c&(1<<t) != 0 }

// Len is the number of terms (k).
func (c ModelCode) Len() int { return bits.OnesCount32(uint32(c)) }

// Terms returns the selected indices in ascending order.
func (c ModelCode) Terms() []int {
	out := make([]int, 0, c.Len())
	for m := uint32(c); m != 0; m &= m - 1 {
		out = append(out, bits.TrailingZeros32(m))
	}
	return out
}

// String renders the code as dash separated indices, e.g. "0-1-7".
func (c ModelCode) String() string {
	ts := c.Terms()
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = strconv.Itoa(t)
	}
	return strings.Join(parts, "-")
}

// MarshalJSON writes the canonical ordered list form, e.g. [0,1,7].
func (c ModelCode) MarshalJSON() ([]byte, error) { return json.Marshal(c.Terms()) }

func (c *ModelCode) UnmarshalJSON(b []byte) error {
	var ts []int
	if err := json.Unmarshal(b, &ts); err != nil {
		return err
	}
	v, err := CodeOf(ts...)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// DerivedSource names the pseudo-equipment used for principal-component responses.
const DerivedSource = "pca"

// ScoringContext identifies one response partition: an equipment (or derived
// source) and a data type.
type ScoringContext struct {
	Source   string `json:"source"`
	DataType string `json:"dataType"`
}

// Key is the partition name, "source/data_type".
func (sc ScoringContext) Key() string { return sc.Source + "/" + sc.DataType }

func (sc ScoringContext) String() string { return sc.Key() }

func (sc ScoringContext) Derived() bool { return sc.Source == DerivedSource }

// ComponentContext names the n-th (1-based) principal component context.
func ComponentContext(n int) ScoringContext {
	return ScoringContext{Source: DerivedSource, DataType: "component_" + strconv.Itoa(n)}
}

// ParseContext parses "source/data_type".
func ParseContext(s string) (ScoringContext, error) {
	src, dt, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || src == "" || dt == "" {
		return ScoringContext{}, fmt.Errorf("context %q: want source/data_type", s)
	}
	return ScoringContext{Source: src, DataType: dt}, nil
}

// Observation is one raw scalar measurement for a sample.
type Observation struct {
	Equipment string  `json:"equipmentName"`
	DataType  string  `json:"dataType"`
	Sample    int     `json:"sampleNumber"`
	Value     float64 `json:"value"`
}

// Fractions are the measured linear mixture fractions of one sample.
type Fractions [NumLinear]float64

// ScoreRecord is one persisted cross-validated score.
type ScoreRecord struct {
	ID          int64          `json:"id,omitempty"`
	Context     ScoringContext `json:"context"`
	Code        ModelCode      `json:"modelCode"`
	NTerms      int            `json:"nTerms"`
	MeanCVScore float64        `json:"meanCVScore"`
	RunID       string         `json:"runID,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// EnumerationStatus summarises one model size.
type EnumerationStatus struct {
	K        int  `json:"k"`
	Count    int  `json:"count"`
	Complete bool `json:"complete"`
}

// ContextStatus summarises one score partition.
type ContextStatus struct {
	Context ScoringContext `json:"context"`
	Scored  int            `json:"scored"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Run records one batch invocation.
type Run struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"` // enumerate|score|run
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	Finished  *time.Time `json:"finishedAt,omitempty"`
	Metrics   string     `json:"metrics,omitempty"`
}
