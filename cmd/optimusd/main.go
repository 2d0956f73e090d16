// Command optimusd runs the society simulator: the HTTP and WebSocket API,
// a headless autopilot, and read-only reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "optimusd",
		Short:         "Toy society of norms and cases",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file (default $OPTIMUS_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API and WebSocket channel",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), flags, stderr)
			},
		},
		newSimulateCmd(&flags, stdout, stderr),
		&cobra.Command{
			Use:   "stats",
			Short: "Print statistics and normative inflation as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStats(cmd.Context(), flags, stdout, stderr)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "optimusd %s (built %s)\n", version, buildTime)
			},
		},
	)
	return root
}

func newSimulateCmd(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		days     int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the autopilot against the configured store without HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return errors.New("--days must not be negative")
			}
			a, err := openApp(cmd.Context(), *flags, stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			// Continue the persisted log rather than overwrite it.
			if err := a.notifier.Load(cmd.Context()); err != nil {
				return err
			}
			if err := a.svc.RunSimulation(cmd.Context(), days, interval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return writeJSON(stdout, a.svc.DayState())
		},
	}
	cmd.Flags().IntVar(&days, "days", 1, "days to simulate (0 runs until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between days")
	return cmd
}

func runStats(ctx context.Context, flags globalFlags, stdout, stderr io.Writer) error {
	a, err := openApp(ctx, flags, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.notifier.Load(ctx); err != nil {
		return err
	}
	stats, err := a.svc.Statistics(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"statistics":          stats,
		"normative_inflation": a.svc.NormativeInflation(ctx),
		"notifications":       a.notifier.List(""),
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
