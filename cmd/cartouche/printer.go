package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/cartouche-dev/cartouche/pkg/events"
)

var (
	stepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	scoreStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// watchEvents prints progress events until the subscription context ends.
// The returned cancel detaches the watcher.
func watchEvents(ctx context.Context, bus *events.Bus) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		for msg := range ch {
			ev, err := events.Decode(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			printEvent(ev)
		}
	}()
	return cancel, nil
}

func printEvent(ev *events.Event) {
	switch ev.Type {
	case events.SessionStarted:
		fmt.Fprintln(os.Stdout, stepStyle.Render("session started")+" "+faintStyle.Render(ev.SessionID))
	case events.TurnGenerating:
		fmt.Fprintln(os.Stdout, stepStyle.Render(fmt.Sprintf("turn %d: generating %d variant(s)...", ev.TurnNumber, ev.Variants)))
	case events.TurnEvaluating:
		fmt.Fprintln(os.Stdout, stepStyle.Render(fmt.Sprintf("turn %d: evaluating %d variant(s)...", ev.TurnNumber, ev.Variants)))
	case events.TurnCommitted:
		score := "unscored"
		if ev.Score != nil {
			score = fmt.Sprintf("%.1f", *ev.Score)
		}
		fmt.Fprintln(os.Stdout, scoreStyle.Render(fmt.Sprintf("turn %d committed, score %s", ev.TurnNumber, score)))
	case events.StateRefined:
		line := "prompt refined"
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		fmt.Fprintln(os.Stdout, faintStyle.Render(line))
	case events.TurnFailed:
		fmt.Fprintln(os.Stdout, warnStyle.Render(fmt.Sprintf("turn %d failed: %s", ev.TurnNumber, ev.Message)))
	case events.SessionCompleted:
		fmt.Fprintln(os.Stdout, doneStyle.Render("session completed ("+ev.Reason+")"))
	}
}
