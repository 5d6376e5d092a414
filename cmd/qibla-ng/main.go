package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "qibla-ng",
		Short: "Qibla compass daemon",
		Long: `qibla-ng reads a compass heading and a location, computes the direction
to the Kaaba and reports whether the device is facing it over HTTP,
WebSocket, MQTT, UDP, a GPIO line or the terminal.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configPath, "config", "./qibla.yaml", "Path to YAML config")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDaemon(ctx, configPath, os.Stderr)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Run the daemon with a terminal compass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, configPath)
		},
	})

	root.AddCommand(newBearingCmd())

	var logPath string
	summary := &cobra.Command{
		Use:   "log-summary",
		Short: "Summarize a recorded sensor log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLogSummary(cmd.OutOrStdout(), logPath)
		},
	}
	summary.Flags().StringVar(&logPath, "log", "", "Path to a recorded sensor log")
	_ = summary.MarkFlagRequired("log")
	root.AddCommand(summary)

	return root
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
