package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	logFormat  string
	configPath string
	jsonOutput bool
	assumeYes  bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptvault",
	Short: "License scripts and grant confidential access scopes on the ScriptVault registry",
	Long: `ScriptVault registers works on a public registry, sells licenses for them and
grants each licensee an encrypted access scope that only the licensee can decrypt.

Configuration is read from the nearest scriptvault.yaml and SCRIPTVAULT_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(os.Stderr, logFormat, verbose)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// newLogger builds the CLI logger. Logs always go to w (stderr) so results on stdout stay clean.
func newLogger(w io.Writer, format string, debug bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&logFormat, "log-format", getEnv("SCRIPTVAULT_LOG_FORMAT", "text"), "Log format: text or json")
	flags.StringVarP(&configPath, "config", "c", "", "Path to scriptvault.yaml (default: nearest one above the working directory)")
	flags.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "Sign without asking for confirmation")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
