package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mixsearch/internal/batch"
	"mixsearch/internal/models"
)

var (
	batchSizes    string
	batchContexts []string
	batchAll      bool
	batchForce    bool
	batchPCA      []string
	batchPCAVar   float64
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Record every valid model of the requested sizes",
	Long: `Enumerate valid models for each requested size and store them, followed
by a completion marker. Sizes that are already complete are skipped; an
interrupted size resumes from the number of models already stored.

Examples:
  mixsearch enumerate
  mixsearch enumerate --sizes 1-6,28`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sizes, err := parseSizes(batchSizes)
		if err != nil {
			return err
		}
		return runBatch(cmd, batch.Request{Kind: "enumerate", Sizes: sizes})
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every enumerated model in the given contexts",
	Long: `Score models in one or more contexts. A context is "equipment/data_type"
as imported with "mixsearch import observations". Models already scored in a
context are skipped unless --force is given.

Examples:
  mixsearch score --context thermomat/stab_time_min
  mixsearch score --all --sizes 1-10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd.Context(), "score")
		if err != nil {
			return err
		}
		return runBatch(cmd, req)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enumerate and score in one batch",
	Long: `Run a full batch: ensure enumeration of every requested size, then score
all of their models in every requested context, including principal component
contexts derived from --pca base contexts.

Examples:
  mixsearch run --all
  mixsearch run --context LOI/LOI\ Final --pca thermomat/stab_time_min,LOI/LOI\ Final`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd.Context(), "run")
		if err != nil {
			return err
		}
		if len(batchPCA) > 0 {
			req.Derived, err = parseContexts(batchPCA)
			if err != nil {
				return err
			}
		}
		if batchPCAVar > 0 {
			cfg.PCAVariance = batchPCAVar
		}
		return runBatch(cmd, req)
	},
}

func init() {
	for _, c := range []*cobra.Command{enumerateCmd, scoreCmd, runCmd} {
		c.Flags().StringVarP(&batchSizes, "sizes", "k", "1-28", "model sizes, e.g. 1-6,28")
	}
	for _, c := range []*cobra.Command{scoreCmd, runCmd} {
		c.Flags().StringSliceVarP(&batchContexts, "context", "c", nil, "contexts as equipment/data_type")
		c.Flags().BoolVar(&batchAll, "all", false, "score every imported context")
		c.Flags().BoolVar(&batchForce, "force", false, "rescore models that already have a score")
	}
	runCmd.Flags().StringSliceVar(&batchPCA, "pca", nil, "base contexts for principal component contexts")
	runCmd.Flags().Float64Var(&batchPCAVar, "pca-variance", 0, "explained variance kept by --pca (default $MIXSEARCH_PCA_VARIANCE)")
}

func buildRequest(ctx context.Context, kind string) (batch.Request, error) {
	sizes, err := parseSizes(batchSizes)
	if err != nil {
		return batch.Request{}, err
	}
	req := batch.Request{Kind: kind, Sizes: sizes, Force: batchForce}
	if batchAll {
		if ctx == nil {
			ctx = context.Background()
		}
		req.Contexts, err = repo.Contexts(ctx)
		if err != nil {
			return req, err
		}
	} else {
		req.Contexts, err = parseContexts(batchContexts)
		if err != nil {
			return req, err
		}
	}
	if len(req.Contexts) == 0 && len(batchPCA) == 0 {
		return req, fmt.Errorf("no contexts: pass --context or --all")
	}
	return req, nil
}

func runBatch(cmd *cobra.Command, req batch.Request) error {
	ctx, stop := signalContext()
	defer stop()
	rep, err := newRunner().Run(ctx, req)
	if rep != nil {
		printReport(cmd.OutOrStdout(), rep)
	}
	if err != nil {
		return err
	}
	if f := rep.Failures(); len(f) > 0 {
		return fmt.Errorf("%d units failed; rerun to retry them", len(f))
	}
	return nil
}

func printReport(w io.Writer, rep *batch.Report) {
	fmt.Fprintf(w, "Run %s\n", rep.RunID)
	for _, s := range rep.Sizes {
		switch {
		case s.Err != "":
			fmt.Fprintf(w, "  k=%-2d FAILED (%s): %s\n", s.K, s.Kind, s.Err)
		case s.Skipped:
			fmt.Fprintf(w, "  k=%-2d %d models (already complete)\n", s.K, s.Total)
		default:
			fmt.Fprintf(w, "  k=%-2d %d models (%d new)\n", s.K, s.Total, s.Added)
		}
	}
	for _, c := range rep.Contexts {
		if c.Err != "" {
			fmt.Fprintf(w, "  %s FAILED (%s): %s\n", c.Context, c.Kind, c.Err)
			continue
		}
		fmt.Fprintf(w, "  %s scored %d, skipped %d", c.Context, c.Scored, c.Skipped)
		if c.Claimed > 0 {
			fmt.Fprintf(w, ", %d claimed by another process", c.Claimed)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%s\n", rep.Summary())
}

// parseSizes accepts a comma separated list of sizes and inclusive ranges.
// The result is ascending and free of duplicates.
func parseSizes(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", part, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("size %q: %w", part, err)
			}
		}
		if a < 1 || b > models.NumTerms || a > b {
			return nil, fmt.Errorf("size %q outside 1-%d", part, models.NumTerms)
		}
		for k := a; k <= b; k++ {
			seen[k] = true
		}
	}
	var out []int
	for k := 1; k <= models.NumTerms; k++ {
		if seen[k] {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sizes in %q", s)
	}
	return out, nil
}

func parseContexts(in []string) ([]models.ScoringContext, error) {
	out := make([]models.ScoringContext, 0, len(in))
	for _, s := range in {
		sc, err := models.ParseContext(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
