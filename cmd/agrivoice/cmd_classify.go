package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agrivoice/internal/risk"
	"agrivoice/internal/rules"
	"agrivoice/internal/ruletable"
)

func newClassifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Correct a phrase and score its emotional risk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			corrector, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
			if err != nil {
				return err
			}
			var table *ruletable.Table
			if cfg.Risk.RulesPath != "" {
				if table, err = ruletable.Load(cfg.Risk.RulesPath); err != nil {
					return err
				}
			}
			classifier := risk.NewClassifier(table, risk.Thresholds{
				Critical: cfg.Risk.Critical,
				Elevated: cfg.Risk.Elevated,
				Mild:     cfg.Risk.Mild,
			})

			raw := joinArgs(args)
			corrected, err := corrector.Apply(raw)
			if err != nil {
				return fmt.Errorf("failed to correct text: %w", err)
			}
			analysis := classifier.Classify(corrected)

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, map[string]any{"corrected": corrected, "analysis": analysis})
			}
			fmt.Fprintf(out, "Text:     %s\n", corrected)
			fmt.Fprintf(out, "Tier:     %d\n", analysis.Tier)
			fmt.Fprintf(out, "Score:    %d\n", analysis.Score)
			if analysis.PrimaryCategory != "" {
				fmt.Fprintf(out, "Primary:  %s\n", analysis.PrimaryCategory)
			}
			for _, signal := range analysis.Signals {
				fmt.Fprintf(out, "  %s %q +%d\n", signal.Category, signal.Phrase, signal.Weight)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the analysis as JSON")
	return cmd
}
