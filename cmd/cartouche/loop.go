package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	input "github.com/tcnksm/go-input"

	"github.com/cartouche-dev/cartouche/pkg/events"
	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
)

// runLoop drives turns until the session completes or the user bails out.
// In auto mode (or with a non-interactive stdin) each turn is followed by
// an automatic refinement from the evaluator's own feedback; interactively
// the user steers between turns.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, bus *events.Bus, auto bool) error {
	stopWatch, err := watchEvents(ctx, bus)
	if err != nil {
		return err
	}
	defer stopWatch()

	interactive := !auto && isatty.IsTerminal(os.Stdin.Fd())
	ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}

	for {
		res, err := orch.RunTurn(ctx)
		if err != nil {
			res, err = recoverTurn(ctx, orch, ui, interactive, err)
			if err != nil {
				return err
			}
			if res == nil {
				continue
			}
		}
		if res.Completed {
			return nil
		}

		if arts := res.Turn.Artifacts; len(arts) > 0 {
			fmt.Fprintln(os.Stdout, faintStyle.Render("selected variant: "+arts[res.Turn.SelectedVariant].Ref))
		}

		if !interactive {
			if _, err := orch.Refine(ctx, ""); err != nil {
				return err
			}
			continue
		}

		answer, err := ui.Ask("feedback (enter to auto-refine, 'retry' to regenerate, 'stop' to finish)", &input.Options{
			Default:   "",
			Required:  false,
			HideOrder: true,
		})
		if err != nil {
			return errors.Wrap(err, "read feedback")
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "stop":
			return orch.Stop(ctx)
		case "retry":
			// Same prompt again, no refinement.
			continue
		default:
			if _, err := orch.Refine(ctx, answer); err != nil {
				return err
			}
		}
	}
}

// recoverTurn handles a failed RunTurn. Commit failures keep the generated
// turn in memory, so interactively the user may retry the commit without
// paying for regeneration; retryable provider failures may be rerun. A nil
// result with nil error asks the loop to run the next turn.
func recoverTurn(ctx context.Context, orch *orchestrator.Orchestrator, ui *input.UI, interactive bool, err error) (*orchestrator.TurnResult, error) {
	if !interactive || !orchestrator.IsRetryable(err) {
		return nil, err
	}

	var pe *orchestrator.PersistenceError
	if errors.As(err, &pe) {
		answer, askErr := ui.Ask("commit failed: "+pe.Error()+"\nretry commit? (y/n)", &input.Options{
			Default:   "y",
			HideOrder: true,
		})
		if askErr != nil {
			return nil, err
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			return orch.RetryCommit(ctx)
		}
		return nil, err
	}

	answer, askErr := ui.Ask("turn failed: "+err.Error()+"\ntry again? (y/n)", &input.Options{
		Default:   "y",
		HideOrder: true,
	})
	if askErr != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
		return nil, nil
	}
	return nil, err
}
