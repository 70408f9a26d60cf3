package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cartouche-dev/cartouche/pkg/adapters"
	"github.com/cartouche-dev/cartouche/pkg/config"
	"github.com/cartouche-dev/cartouche/pkg/logging"
	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
	"github.com/cartouche-dev/cartouche/pkg/session"
)

// Exit codes, one per failure class, so scripts can branch on what broke.
const (
	exitOK          = 0
	exitGeneric     = 1
	exitNotFound    = 2
	exitAdapter     = 3
	exitPersistence = 4
	exitInvariant   = 5
	exitBusy        = 6
)

var (
	flagConfigFile string
	cfg            *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cartouche",
	Short: "cartouche iteratively refines AI-generated diagram images",
	Long: `cartouche runs a generate-evaluate-refine loop against an image model,
persisting every turn so a crashed or interrupted session picks up exactly
where it left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfigFile)
		if err != nil {
			return err
		}
		// Flags override file and environment values.
		if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
			cfg.LogLevel = f.Value.String()
		}
		return logging.Init(logging.Settings{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: cartouche.yaml in the working or user config dir)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newStartCmd(),
		newResumeCmd(),
		newListCmd(),
		newShowCmd(),
		newDeleteCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, session.ErrNotFound):
		return exitNotFound
	case errors.Is(err, session.ErrSessionBusy):
		return exitBusy
	case session.IsInvariantViolation(err):
		return exitInvariant
	}
	var pe *orchestrator.PersistenceError
	if errors.As(err, &pe) {
		return exitPersistence
	}
	var ae *orchestrator.AdapterError
	if errors.As(err, &ae) || errors.Is(err, adapters.ErrNoArtifact) {
		return exitAdapter
	}
	return exitGeneric
}
