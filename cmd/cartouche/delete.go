package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cartouche-dev/cartouche/pkg/artifacts"
	"github.com/cartouche-dev/cartouche/pkg/session"
)

func newDeleteCmd() *cobra.Command {
	var keepArtifacts bool
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session, its turns and its stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			existed, err := st.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !existed {
				return errors.Wrapf(session.ErrNotFound, "session %s", args[0])
			}

			if !keepArtifacts {
				files, err := artifacts.NewFileStore(cfg.ArtifactsDir)
				if err != nil {
					return err
				}
				if err := files.DeleteSession(args[0]); err != nil {
					return err
				}
			}
			fmt.Printf("deleted session %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepArtifacts, "keep-artifacts", false, "leave artifact files on disk")
	return cmd
}
