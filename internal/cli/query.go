package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mixsearch/internal/enumerate"
	"mixsearch/internal/importer"
	"mixsearch/internal/models"
	"mixsearch/internal/terms"
)

var (
	topContext string
	topLimit   int
	runsLimit  int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import observations or base fractions from CSV",
	Long: `Import raw data exported as CSV.

Subcommands:
  observations  equipment_name,data_type,sample_number,value
  fractions     sample_number,f0,f1,f2,f3,f4,f5,f6

Observations for an existing (equipment, data type, sample) are replaced,
as are the fractions of an existing sample.`,
}

var importObservationsCmd = &cobra.Command{
	Use:   "observations <file.csv>",
	Short: "Import response observations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		obs, err := importer.ReadObservations(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := repo.InsertObservations(context.Background(), obs); err != nil {
			return fmt.Errorf("store observations: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d observations.\n", len(obs))
		return nil
	},
}

var importFractionsCmd = &cobra.Command{
	Use:   "fractions <file.csv>",
	Short: "Import base mixture fractions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		fr, err := importer.ReadFractions(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := repo.UpsertFractions(context.Background(), fr); err != nil {
			return fmt.Errorf("store fractions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported fractions for %d samples.\n", len(fr))
		return nil
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the best scored models of a context",
	Example: `  mixsearch top --context thermomat/stab_time_min -n 20
  mixsearch top --context pca/component_1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := models.ParseContext(topContext)
		if err != nil {
			return err
		}
		recs, err := repo.TopScores(context.Background(), sc, topLimit)
		if err != nil {
			return fmt.Errorf("top scores: %w", err)
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scores found.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tSCORE\tTERMS\tCODE\tMODEL")
		for i, r := range recs {
			fmt.Fprintf(tw, "%d\t%.4f\t%d\t%s\t%s\n", i+1, r.MeanCVScore, r.NTerms, r.Code, terms.Describe(r.Code))
		}
		return tw.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enumeration and scoring progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		enum, err := repo.EnumerationStatus(ctx)
		if err != nil {
			return err
		}
		scored, err := repo.ContextStatus(ctx)
		if err != nil {
			return err
		}
		contexts, err := repo.Contexts(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		byK := make(map[int]models.EnumerationStatus, len(enum))
		for _, e := range enum {
			byK[e.K] = e
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "K\tSTORED\tVALID\tCOMPLETE")
		stored := 0
		for k := 1; k <= models.NumTerms; k++ {
			e := byK[k]
			stored += e.Count
			fmt.Fprintf(tw, "%d\t%d\t%d\t%v\n", k, e.Count, enumerate.Count(k), e.Complete)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d models stored.\n\n", stored)

		counts := make(map[models.ScoringContext]int, len(scored))
		for _, s := range scored {
			counts[s.Context] = s.Scored
		}
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTEXT\tSCORED")
		listed := make(map[models.ScoringContext]bool)
		for _, sc := range contexts {
			listed[sc] = true
			fmt.Fprintf(tw, "%s\t%d\n", sc, counts[sc])
		}
		for _, s := range scored {
			if !listed[s.Context] {
				fmt.Fprintf(tw, "%s\t%d\n", s.Context, s.Scored)
			}
		}
		return tw.Flush()
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent batch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := repo.ListRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTARTED\tDURATION")
		for _, r := range runs {
			dur := "-"
			if r.Finished != nil {
				dur = r.Finished.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.Status, r.StartedAt.Local().Format(time.DateTime), dur)
		}
		return tw.Flush()
	},
}

func init() {
	importCmd.AddCommand(importObservationsCmd)
	importCmd.AddCommand(importFractionsCmd)

	topCmd.Flags().StringVarP(&topContext, "context", "c", "", "context as equipment/data_type")
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "max results")
	_ = topCmd.MarkFlagRequired("context")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max results")
}
