package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/aggregate"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/results"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Re-aggregate the results store and export the artifacts",
	Long: `Rebuilds the aggregated CSV, the summary JSON and the failure ledger from
the results store and prints the summary statistics. Useful after an
interrupted sweep or when artifact files were deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sweepcfg.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err := buildLogger("")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		store, err := results.Open(cfg.Output.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		meta, found, err := store.Meta()
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("store %s holds no recorded sweep", store.Path())
		}

		summary, err := exportArtifacts(context.Background(), cfg, store, logger, true)
		if err != nil {
			return err
		}

		fmt.Printf("session:     %s\n", meta.SessionID)
		fmt.Printf("model:       %s\n", meta.Model)
		fmt.Printf("experiments: %d ok, %d failed (%d planned)\n",
			summary.TotalExperiments, summary.FailedRuns, meta.TotalRuns)
		printStats("throughput tokens/s", summary.Throughput)
		printStats("ttft median ms", summary.TTFTMedianMS)
		printStats("ttft p99 ms", summary.TTFTP99MS)
		printStats("itl median ms", summary.ITLMedianMS)
		printStats("itl p99 ms", summary.ITLP99MS)
		return nil
	},
}

func printStats(name string, s aggregate.MetricStats) {
	fmt.Printf("%-22s mean=%.2f min=%.2f max=%.2f\n", name, s.Mean, s.Min, s.Max)
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
