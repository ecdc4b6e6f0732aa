package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/matrix"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Expand the sweep matrix without running anything",
	Long: `Validates the config, expands the full experiment matrix and prints one
line per run in execution order. Nothing is executed and nothing is
written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sweepcfg.Load(cfgFile)
		if err != nil {
			return err
		}
		experiments, err := matrix.Expand(cfg)
		if err != nil {
			return err
		}
		fingerprint, err := cfg.Fingerprint()
		if err != nil {
			return err
		}

		fmt.Printf("model:       %s\n", cfg.Service.Model)
		fmt.Printf("fingerprint: %s\n", fingerprint)
		fmt.Printf("experiments: %d\n\n", len(experiments))
		for _, ec := range experiments {
			fmt.Printf("%s  %s input_len=%d output_len=%d num_prompts=%d\n",
				ec.Label(), ec.LoadLabel(), ec.InputLen, ec.OutputLen, ec.NumPrompts)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
