package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evotree/internal/model"
	"evotree/internal/stats"
	"evotree/pkg/evotree"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return errors.New("limit must be >= 0")
			}
			entries, err := stats.ListRunIndex(root.artifactsDir)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if len(entries) == 0 {
				fmt.Fprintln(root.stdout, "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCREATED\tPROBLEM\tSEED\tPOP\tGENS\tBEST\tEXPRESSION")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.6g\t%s\n",
					e.RunID, e.CreatedAtUTC, e.Problem, e.Seed, e.PopulationSize, e.Generations, float64(e.BestFitness), e.BestExpression)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list; 0 lists all")
	return cmd
}

func newShowCmd(root *rootOptions) *cobra.Command {
	var (
		latest bool
		top    int
	)
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show a run's outcome, fitness trend and best individuals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			if runID != "" && latest {
				return errors.New("use either run id or --latest")
			}
			if runID == "" && !latest {
				return errors.New("show requires a run id or --latest")
			}
			if latest {
				id, err := latestRunID(root.artifactsDir)
				if err != nil {
					return err
				}
				runID = id
			}
			return showRun(root, runID, top)
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "show the most recent run")
	cmd.Flags().IntVar(&top, "top", 5, "number of best individuals to print")
	return cmd
}

func latestRunID(artifactsDir string) (string, error) {
	entries, err := stats.ListRunIndex(artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", evotree.ErrNoRuns
	}
	return entries[0].RunID, nil
}

func showRun(root *rootOptions, runID string, top int) error {
	run, ok, err := stats.ReadRunRecord(root.artifactsDir, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", evotree.ErrRunNotFound, runID)
	}
	generations, _, err := stats.ReadGenerationsCSV(root.artifactsDir, runID)
	if err != nil {
		return err
	}
	individuals, _, err := stats.ReadTopIndividuals(root.artifactsDir, runID)
	if err != nil {
		return err
	}

	out := root.stdout
	fmt.Fprintf(out, "run_id=%s problem=%s seed=%d population=%d\n", run.ID, run.Problem, run.Seed, run.PopulationSize)
	fmt.Fprintf(out, "generations=%d/%d stopped=%t duration=%s\n", run.Generations, run.MaxGenerations, run.Stopped, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "best_fitness=%.6g\n", float64(run.BestFitness))
	if run.TestFitness != nil {
		fmt.Fprintf(out, "test_fitness=%.6g\n", float64(*run.TestFitness))
	}
	fmt.Fprintf(out, "best=%s\n", run.BestExpression)
	if run.TunedFitness != nil {
		fmt.Fprintf(out, "tuned_fitness=%.6g tuned=%s\n", float64(*run.TunedFitness), run.TunedExpression)
	}

	history := stats.History(generations)
	s := stats.SummarizeSeries(model.Floats(history.BestByGeneration))
	fmt.Fprintf(out, "trend initial=%.6g final=%.6g improvement=%.6g mean=%.6g std=%.6g stagnation=%d failed=%d\n",
		s.Initial, s.Final, s.Improvement, s.Mean, s.StdDev, s.Stagnation, s.Failed)

	if top > len(individuals) {
		top = len(individuals)
	}
	if top > 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tFITNESS\tLENGTH\tDEPTH\tINFIX")
		for _, ind := range individuals[:top] {
			fmt.Fprintf(w, "%d\t%.6g\t%d\t%d\t%s\n", ind.Rank, float64(ind.Fitness), ind.Length, ind.Depth, ind.Infix)
		}
		return w.Flush()
	}
	return nil
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Copy a run's artifacts to an export directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			if runID != "" && latest {
				return errors.New("use either run id or --latest")
			}
			if runID == "" && !latest {
				return errors.New("export requires a run id or --latest")
			}
			if latest {
				id, err := latestRunID(root.artifactsDir)
				if err != nil {
					return err
				}
				runID = id
			}
			if outDir == "" {
				outDir = root.exportsDir
			}
			dir, err := stats.ExportRunArtifacts(root.artifactsDir, runID, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.stdout, "exported run_id=%s dir=%s\n", runID, dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "destination directory (defaults to --exports)")
	return cmd
}
