package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cartouche-dev/cartouche/pkg/assets"
	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
)

func newResumeCmd() *cobra.Command {
	var (
		assetPaths []string
		auto       bool
	)
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Pick an interrupted session back up where it left off",
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

			orch, err := orchestrator.Resume(ctx, deps, settings, args[0])
			if errors.Is(err, orchestrator.ErrSessionCompleted) {
				fmt.Printf("session %s is already completed\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			defer orch.Close()

			if len(assetPaths) > 0 {
				inputs, err := assets.Load(assetPaths)
				if err != nil {
					return err
				}
				orch.SetAssets(inputs)
			}

			return runLoop(ctx, orch, deps.Bus, auto)
		},
	}
	cmd.Flags().StringSliceVar(&assetPaths, "asset", nil, "reference image file, repeatable")
	cmd.Flags().BoolVar(&auto, "auto", false, "run without prompting, refining from evaluator feedback")
	addLoopFlags(cmd)
	return cmd
}
