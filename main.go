package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	// SDL and the ebiten window must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd(filepath.Base(os.Args[0]))
	cmd.SetArgs(os.Args[1:])

	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(name string) *cobra.Command {
	opts := defaultRunOptions()

	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s [PATH_TO_ROM_FILE]", name),
		Short:         "Run emulator",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		setupLogger(*verbose)
	}

	bindRunFlags(cmd.Flags(), opts)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		opts.seedSet = cmd.Flags().Changed("seed")
		return run(cmd.Context(), args[0], opts)
	}

	cmd.AddCommand(newRunCmd(), newDisasmCmd())
	return cmd
}

func setupLogger(verbose bool) {
	loggerOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		loggerOpts.Level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))
}
