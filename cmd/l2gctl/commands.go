package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"l2g/pkg/l2g"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		runID       string
		seed        uint64
		generations int
		outputDir   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evolution from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			cfg := s.cfg
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cmd.Flags().Changed("generations") {
				cfg.NumGenerations = generations
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.OutputDir = outputDir
			}
			s.serveMetrics(cmd.Context())

			summary, err := s.client.Run(cmd.Context(), l2g.RunRequest{Config: cfg, RunID: runID})
			if err != nil {
				if summary.RunID != "" {
					return fmt.Errorf("run %s: %w", summary.RunID, err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			for gen, best := range summary.BestByGeneration {
				fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", gen, best)
			}
			fmt.Fprintf(out, "run_id=%s generations=%d final_best_fitness=%.6f best_genome_id=%d artifacts=%s\n",
				summary.RunID, summary.Generations, summary.FinalBestFitness, summary.BestGenomeID, summary.ArtifactsDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "override the configured seed")
	cmd.Flags().IntVar(&generations, "generations", 0, "override num_generations")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "override output_dir (empty disables artifacts)")
	return cmd
}

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var (
		req  l2g.ReplayRequest
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-simulate a stored candidate or a dna.yaml file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			req.Config = s.cfg
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			summary, err := s.client.Replay(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "genome_id=%d seed=%d fitness=%.6f aux=%.6f steps=%d particles=%d bonds=%d polygons=%d clusters=%d\n",
				summary.GenomeID, summary.Seed, summary.Fitness, summary.Auxiliary, summary.Steps,
				summary.Final.Particles, summary.Final.Bonds, summary.Final.Polygons, summary.Final.Clusters)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.GenomePath, "dna", "", "dna.yaml to replay with the loaded config instead of a stored candidate")
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "run id of the stored candidate")
	cmd.Flags().IntVar(&req.Generation, "generation", 0, "generation of the stored candidate")
	cmd.Flags().IntVar(&req.Candidate, "candidate", 0, "index of the stored candidate")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "simulation seed (defaults to the stored seed)")
	cmd.Flags().StringVar(&req.OutDir, "out", "", "write candidate artifacts to this directory")
	addJSONFlag(cmd)
	return cmd
}

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			runs, err := s.client.Runs(cmd.Context(), l2g.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s status=%s strategy=%s fitness=%s seed=%d gens=%d best_fitness=%.6f best_genome_id=%d\n",
					r.RunID, r.CreatedAtUTC, r.Status, r.Strategy, r.Fitness, r.Seed, r.Generations, r.BestFitness, r.BestGenomeID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	addJSONFlag(cmd)
	return cmd
}

func newLineageCmd(flags *globalFlags) *cobra.Command {
	query := l2g.RunQuery{}
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show parent/child edges of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			lineage, err := s.client.Lineage(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, lineage)
			}
			if len(lineage) == 0 {
				fmt.Fprintln(out, "no lineage records")
				return nil
			}
			for _, rec := range lineage {
				fmt.Fprintf(out, "gen=%d genome_id=%d parent_id=%d\n", rec.Generation, rec.GenomeID, rec.ParentID)
			}
			return nil
		},
	}
	addQueryFlags(cmd, &query, 50)
	return cmd
}

func newFitnessCmd(flags *globalFlags) *cobra.Command {
	query := l2g.RunQuery{}
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Show the fitness of every evaluated candidate of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			history, err := s.client.FitnessHistory(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, history)
			}
			if len(history) == 0 {
				fmt.Fprintln(out, "no fitness history")
				return nil
			}
			for i, f := range history {
				fmt.Fprintf(out, "evaluation=%d fitness=%.6f\n", i, f)
			}
			return nil
		},
	}
	addQueryFlags(cmd, &query, 0)
	return cmd
}

func newDiagnosticsCmd(flags *globalFlags) *cobra.Command {
	query := l2g.RunQuery{}
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show per-generation fitness summaries of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			diagnostics, err := s.client.Diagnostics(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, diagnostics)
			}
			if len(diagnostics) == 0 {
				fmt.Fprintln(out, "no diagnostics")
				return nil
			}
			for _, d := range diagnostics {
				fmt.Fprintf(out, "gen=%d candidates=%d failed=%d best=%.6f mean=%.6f median=%.6f std=%.6f pool_floor=%.6f pool_best=%.6f replaced=%d\n",
					d.Generation, d.Candidates, d.Failed, d.BestFitness, d.MeanFitness, d.MedianFitness,
					d.StdDevFitness, d.PoolFloor, d.PoolBest, d.Replacements)
			}
			return nil
		},
	}
	addQueryFlags(cmd, &query, 0)
	return cmd
}

func newPoolCmd(flags *globalFlags) *cobra.Command {
	query := l2g.RunQuery{}
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Show the survivor pool of a run, best first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			pool, err := s.client.Pool(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, pool)
			}
			fmt.Fprintf(out, "generation=%d size=%d\n", pool.Generation, len(pool.Entries))
			for rank, e := range pool.Entries {
				aux := "n/a"
				if e.Auxiliary != nil {
					aux = fmt.Sprintf("%.6f", *e.Auxiliary)
				}
				fmt.Fprintf(out, "rank=%d genome_id=%d kind=%s fitness=%.6f aux=%s\n",
					rank+1, e.Genome.ID, e.Genome.Kind, e.Fitness, aux)
			}
			return nil
		},
	}
	addQueryFlags(cmd, &query, 0)
	return cmd
}

func newMutationVizCmd(flags *globalFlags) *cobra.Command {
	req := l2g.MutationVizRequest{}
	cmd := &cobra.Command{
		Use:   "mutation-viz",
		Short: "Plot successive mutations of the configured initial genome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			client, err := l2g.New(l2g.Options{})
			if err != nil {
				return err
			}
			defer client.Close()

			req.Config = cfg
			paths, err := client.MutationViz(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Count, "count", 10, "number of successive mutations")
	cmd.Flags().StringVar(&req.OutDir, "out", "mutation_viz", "output directory")
	return cmd
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func addQueryFlags(cmd *cobra.Command, query *l2g.RunQuery, limit int) {
	cmd.Flags().StringVar(&query.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&query.Latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&query.Limit, "limit", limit, "max rows to print (0 for all)")
	addJSONFlag(cmd)
}

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "emit JSON")
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
