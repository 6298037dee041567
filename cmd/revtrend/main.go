package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cognicore/revtrend/internal/logger"
	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitNoData     = 2
	exitCorruptRun = 3
)

type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logFile    string
}

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := rootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, internalerr.ErrCorruptState):
		return exitCorruptRun
	case errors.Is(err, internalerr.ErrEmptyWindow):
		return exitNoData
	default:
		return exitFailure
	}
}

func rootCmd(stdout io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "revtrend",
		Short:         "revtrend: app review topic trends",
		Long:          "Extracts topics from daily app-store reviews, merges paraphrases into canonical topics, and reports a rolling topic x date matrix.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(g.logLevel, g.logFile)
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "revtrend.yaml", "config file (defaults apply when missing)")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "sqlite database path (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "also append logs to this file")

	root.AddCommand(
		reportCmd(g, stdout),
		generateCmd(g, stdout),
		topicsCmd(g, stdout),
	)
	return root
}
