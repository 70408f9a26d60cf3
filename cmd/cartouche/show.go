package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's turns, scores and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			sess, err := st.Get(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session:  %s\n", sess.ID)
			fmt.Printf("Status:   %s\n", sess.Status)
			fmt.Printf("Created:  %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Request:  %s\n", sess.InitialRequest)
			fmt.Printf("Prompt:   %s\n", sess.CurrentState.Prompt)
			if r := strings.TrimSpace(sess.CurrentState.Rationale); r != "" {
				fmt.Printf("Why:      %s\n", r)
			}
			if best := sess.BestTurn(); best >= 0 {
				fmt.Printf("Best:     turn %d (%.1f)\n",
					sess.Turns[best].TurnNumber, *sess.Turns[best].Score)
			}
			if len(sess.Turns) == 0 {
				fmt.Println("\nno turns yet")
				return nil
			}

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TURN\tSCORE\tVARIANTS\tSELECTED\tARTIFACT")
			for _, t := range sess.Turns {
				score := "-"
				if t.Score != nil {
					score = fmt.Sprintf("%.1f", *t.Score)
				}
				ref := "-"
				if t.SelectedVariant >= 0 && t.SelectedVariant < len(t.Artifacts) {
					ref = t.Artifacts[t.SelectedVariant].Ref
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
					t.TurnNumber, score, len(t.Artifacts), t.SelectedVariant, ref)
			}
			return w.Flush()
		},
	}
	return cmd
}
