package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "admitpath"
	version = "v1.4.0"
)

var (
	flagConfig  string
	flagOffline bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "College application decision engine",
		Version: version,
		Long: `admitpath scores college fit, estimates admission chances, decomposes
applications into tracked tasks, and watches deadline risk.

Run 'admitpath serve' for the HTTP API, or use the one-shot subcommands
for direct queries against the configured stores.`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "Use in-memory stores (no postgres/redis)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newFitCmd())
	rootCmd.AddCommand(newChanceCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newRiskCmd())
	rootCmd.AddCommand(newExplainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
