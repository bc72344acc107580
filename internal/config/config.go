package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownKeys defines environment variable keys that mixsearch recognizes.
var KnownKeys = []string{
	"MIXSEARCH_SQLITE_PATH",
	"MIXSEARCH_LOG_LEVEL",
	"MIXSEARCH_LOG_FILE",
	"MIXSEARCH_CV_REPEATS",
	"MIXSEARCH_CV_TEST_FRACTION",
	"MIXSEARCH_CV_SEED",
	"MIXSEARCH_WORKERS",
	"MIXSEARCH_CONTEXT_WORKERS",
	"MIXSEARCH_ENUM_BATCH",
	"MIXSEARCH_CLAIM_TTL",
	"MIXSEARCH_PCA_VARIANCE",
	"MIXSEARCH_NOTIFY",
	"MIXSEARCH_PROGRESS_EVERY",
}

// Dir returns ~/.mixsearch, or "" when the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".mixsearch")
}

// LoadAndApply loads configuration from ~/.mixsearch/config.yaml (or .yml/.json)
// and applies values into the process environment for known keys if they are
// not already set. Environment variables take precedence over file values.
func LoadAndApply() error {
	dir := Dir()
	if dir == "" {
		return nil // non-fatal
	}
	return LoadAndApplyFrom(dir)
}

// LoadAndApplyFrom is LoadAndApply reading from dir.
func LoadAndApplyFrom(dir string) error {
	paths := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	}
	var data map[string]any
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		m, err := parse(p, b)
		if err != nil {
			return fmt.Errorf("config %s: %w", p, err)
		}
		data = m
		break
	}
	if len(data) == 0 {
		return nil
	}
	// Apply to env if not set already
	for _, key := range KnownKeys {
		if os.Getenv(key) != "" {
			continue
		}
		if v, ok := lookupInsensitive(data, key); ok {
			os.Setenv(key, toString(v))
		}
	}
	return nil
}

func parse(path string, b []byte) (map[string]any, error) {
	var m map[string]any
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// lookupInsensitive accepts the env name in any case, or the name without
// the MIXSEARCH_ prefix ("workers: 8").
func lookupInsensitive(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	short := strings.TrimPrefix(key, "MIXSEARCH_")
	for k, v := range m {
		if strings.EqualFold(k, key) || strings.EqualFold(k, short) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// avoid trailing .0 for integer-like values
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Config is the typed view of the MIXSEARCH_* environment.
type Config struct {
	SQLitePath     string
	LogLevel       string
	LogFile        string
	CVRepeats      int
	CVTestFraction float64
	CVSeed         int64
	Workers        int
	ContextWorkers int
	EnumBatch      int
	ClaimTTL       time.Duration
	PCAVariance    float64
	Notify         bool
	ProgressEvery  int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	path := "mixsearch.db"
	if dir := Dir(); dir != "" {
		path = filepath.Join(dir, "mixsearch.db")
	}
	return Config{
		SQLitePath:     path,
		LogLevel:       "info",
		CVRepeats:      3,
		CVTestFraction: 0.333,
		CVSeed:         0,
		Workers:        runtime.NumCPU(),
		ContextWorkers: 1,
		EnumBatch:      1000,
		ClaimTTL:       10 * time.Minute,
		PCAVariance:    0.99,
		Notify:         false,
		ProgressEvery:  10000,
	}
}

// Load reads the environment over Defaults. Malformed or out-of-range values
// keep their default and are reported together in the returned error; the
// Config is usable either way.
func Load() (Config, error) {
	c := Defaults()
	var errs []error
	if v := os.Getenv("MIXSEARCH_SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("MIXSEARCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.LogFile = os.Getenv("MIXSEARCH_LOG_FILE")
	envInt(&errs, "MIXSEARCH_CV_REPEATS", &c.CVRepeats, 1)
	envInt(&errs, "MIXSEARCH_WORKERS", &c.Workers, 1)
	envInt(&errs, "MIXSEARCH_CONTEXT_WORKERS", &c.ContextWorkers, 1)
	envInt(&errs, "MIXSEARCH_ENUM_BATCH", &c.EnumBatch, 1)
	envInt(&errs, "MIXSEARCH_PROGRESS_EVERY", &c.ProgressEvery, 1)
	envFrac(&errs, "MIXSEARCH_CV_TEST_FRACTION", &c.CVTestFraction, false)
	envFrac(&errs, "MIXSEARCH_PCA_VARIANCE", &c.PCAVariance, true)
	if v := os.Getenv("MIXSEARCH_CV_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CVSeed = n
		} else {
			errs = append(errs, fmt.Errorf("MIXSEARCH_CV_SEED=%q: %w", v, err))
		}
	}
	if v := os.Getenv("MIXSEARCH_CLAIM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ClaimTTL = d
		} else {
			errs = append(errs, fmt.Errorf("MIXSEARCH_CLAIM_TTL=%q: want a positive duration", v))
		}
	}
	if v := os.Getenv("MIXSEARCH_NOTIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Notify = b
		} else {
			errs = append(errs, fmt.Errorf("MIXSEARCH_NOTIFY=%q: %w", v, err))
		}
	}
	return c, errors.Join(errs...)
}

// Validate checks invariants Load cannot express per key.
func (c Config) Validate() error {
	var errs []error
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is empty"))
	}
	if c.CVRepeats < 1 {
		errs = append(errs, fmt.Errorf("cv repeats %d < 1", c.CVRepeats))
	}
	if c.CVTestFraction <= 0 || c.CVTestFraction >= 1 {
		errs = append(errs, fmt.Errorf("cv test fraction %g outside (0,1)", c.CVTestFraction))
	}
	if c.PCAVariance <= 0 || c.PCAVariance > 1 {
		errs = append(errs, fmt.Errorf("pca variance %g outside (0,1]", c.PCAVariance))
	}
	if c.Workers < 1 || c.ContextWorkers < 1 {
		errs = append(errs, errors.New("worker counts must be positive"))
	}
	return errors.Join(errs...)
}

func envInt(errs *[]error, key string, dst *int, floor int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		*errs = append(*errs, fmt.Errorf("%s=%q: want an integer >= %d", key, v, floor))
		return
	}
	*dst = n
}

// envFrac reads a fraction in (0,1), or (0,1] when closed is set.
func envFrac(errs *[]error, key string, dst *float64, closed bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	ok := err == nil && f > 0 && (f < 1 || closed && f == 1)
	if !ok {
		*errs = append(*errs, fmt.Errorf("%s=%q: want a fraction", key, v))
		return
	}
	*dst = f
}
