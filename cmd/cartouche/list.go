package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cartouche-dev/cartouche/pkg/config"
	"github.com/cartouche-dev/cartouche/pkg/store"
)

func newListCmd() *cobra.Command {
	var (
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			summaries, total, err := st.List(ctx, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTURNS\tBEST\tCREATED\tREQUEST")
			for _, s := range summaries {
				best := "-"
				if s.BestScore != nil {
					best = fmt.Sprintf("%.1f", *s.BestScore)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					s.ID, s.Status, s.TurnCount, best,
					s.CreatedAt.Format("2006-01-02 15:04"),
					ellipsize(s.InitialRequest, 48))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total > len(summaries) {
				fmt.Printf("showing %d of %d sessions\n", len(summaries), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "sessions to skip")
	return cmd
}

// openStore resolves the configured backend, creating the sqlite data
// directory on first use.
func openStore(c *config.Config) (store.Store, error) {
	dsn := c.StoreDSN
	if c.StoreBackend == store.BackendSQLite || c.StoreBackend == "" {
		if err := os.MkdirAll(filepath.Dir(c.StoreDSN), 0o755); err != nil {
			return nil, err
		}
		var err error
		dsn, err = store.SQLiteDSNForFile(c.StoreDSN)
		if err != nil {
			return nil, err
		}
	}
	return store.Open(store.Options{Backend: c.StoreBackend, DSN: dsn})
}

func ellipsize(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
