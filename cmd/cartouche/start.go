package main

import (
	"github.com/spf13/cobra"

	"github.com/cartouche-dev/cartouche/pkg/assets"
	"github.com/cartouche-dev/cartouche/pkg/config"
	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
)

func newStartCmd() *cobra.Command {
	var (
		assetPaths []string
		auto       bool
	)
	cmd := &cobra.Command{
		Use:   "start <request>",
		Short: "Start a new refinement session from a diagram request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			applyLoopFlags(cmd, cfg)

			deps, cleanup, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			settings, err := loopSettings(cfg)
			if err != nil {
				return err
			}
			inputs, err := assets.Load(assetPaths)
			if err != nil {
				return err
			}

			orch, err := orchestrator.Start(ctx, deps, settings, args[0], inputs)
			if err != nil {
				return err
			}
			defer orch.Close()

			return runLoop(ctx, orch, deps.Bus, auto)
		},
	}
	cmd.Flags().StringSliceVar(&assetPaths, "asset", nil, "reference image file, repeatable")
	cmd.Flags().BoolVar(&auto, "auto", false, "run without prompting, refining from evaluator feedback")
	addLoopFlags(cmd)
	return cmd
}

// addLoopFlags registers the per-run tuning flags shared by start and
// resume.
func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("target-score", 0, "complete once a turn reaches this score")
	cmd.Flags().Int("max-iterations", 0, "cap on committed turns")
	cmd.Flags().Int("variants", 0, "image variants per turn")
	cmd.Flags().String("generator", "", "image generator provider (mock, openai, gemini)")
	cmd.Flags().String("judge", "", "evaluation provider (mock, openai, anthropic)")
	cmd.Flags().String("rubric-file", "", "YAML rubric overriding the built-in one")
}

// applyLoopFlags copies changed flag values over the loaded config.
func applyLoopFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("target-score") {
		c.TargetScore, _ = flags.GetFloat64("target-score")
	}
	if flags.Changed("max-iterations") {
		c.MaxIterations, _ = flags.GetInt("max-iterations")
	}
	if flags.Changed("variants") {
		c.Variants, _ = flags.GetInt("variants")
	}
	if flags.Changed("generator") {
		c.Generator, _ = flags.GetString("generator")
	}
	if flags.Changed("judge") {
		c.Judge, _ = flags.GetString("judge")
	}
	if flags.Changed("rubric-file") {
		c.RubricFile, _ = flags.GetString("rubric-file")
	}
}
