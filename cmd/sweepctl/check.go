package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/preflight"
	"github.com/ogulcanaydogan/llm-bench-sweep/pkg/sweepcfg"
)

var (
	checkOutput string
	checkStrict bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the host is ready to run the sweep",
	Long: `Resolves the benchmark command, probes the serving endpoint's health
route and verifies the output locations are writable. Blockers fail the
check; warnings are advisory unless --strict is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sweepcfg.Load(cfgFile)
		if err != nil {
			return err
		}
		report := preflight.Run(cfg)

		switch checkOutput {
		case "json":
			payload, err := preflight.MarshalJSON(report)
			if err != nil {
				return fmt.Errorf("marshal report: %w", err)
			}
			fmt.Println(string(payload))
		case "text":
			printCheckReport(report)
		default:
			return fmt.Errorf("unsupported output mode %q", checkOutput)
		}

		pass := report.Pass
		if checkStrict {
			pass = preflight.StrictPass(report)
		}
		if !pass {
			return fmt.Errorf("host is not ready for this sweep")
		}
		return nil
	},
}

func printCheckReport(report preflight.Report) {
	fmt.Printf("generated_at: %s\n", report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("host: %s/%s\n", report.HostOS, report.HostArch)
	fmt.Println()
	fmt.Println("checks:")
	for _, check := range report.Checks {
		status := "PASS"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Printf("- [%s] (%s) %s\n", status, strings.ToUpper(check.Severity), check.Name)
		fmt.Printf("  current: %s\n", check.Current)
		fmt.Printf("  required: %s\n", check.Required)
		if !check.Pass {
			fmt.Printf("  remediation: %s\n", check.Remediation)
		}
	}
	fmt.Println()
	if report.Pass {
		fmt.Println("result: PASS (all blocker checks satisfied)")
		return
	}
	fmt.Println("result: FAIL (one or more blocker checks failed)")
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkOutput, "output", "text", "output mode: text|json")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "treat warnings as failures")
}
