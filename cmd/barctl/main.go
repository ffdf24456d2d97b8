// Command barctl is a thin demo CLI over the archive engine: enough to run
// one backup job, list catalog history, or start a master index node from
// a terminal. It is deliberately not a full configuration-file-loading
// CLI — barconfig.Config is built directly from flags, with no config
// file format of its own.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"barchive/internal/barlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagLogLevel     string
	flagLogComponent []string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "barctl",
		Short:         "Run and inspect backup archiver jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "default log level (debug, info, warn, error)")
	root.PersistentFlags().StringArrayVar(&flagLogComponent, "log-component", nil, "per-component level override, e.g. barstorage=debug (repeatable)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newIndexServerCmd())
	return root
}

// rootLogger builds the process-wide slog.Logger: the one place global
// logging configuration (output, level, per-component overrides) is
// allowed to live (barlog's own doc comment reserves this to cmd/barctl).
func rootLogger() (*slog.Logger, error) {
	level, err := parseLevel(flagLogLevel)
	if err != nil {
		return nil, err
	}

	handler := barlog.NewComponentFilterHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		level,
	)
	for _, spec := range flagLogComponent {
		component, lvl, err := parseComponentLevel(spec)
		if err != nil {
			return nil, err
		}
		handler.SetLevel(component, lvl)
	}
	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func parseComponentLevel(spec string) (string, slog.Level, error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			lvl, err := parseLevel(spec[i+1:])
			return spec[:i], lvl, err
		}
	}
	return "", 0, fmt.Errorf("log-component %q: expected component=level", spec)
}
