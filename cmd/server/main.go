// Package main is the entry point for the GitHub report server.
//
// The main package stays minimal: it parses flags, loads configuration,
// builds the logger and hands everything to internal/server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/github-report/internal/config"
	"github.com/sakif/github-report/internal/preset"
	"github.com/sakif/github-report/internal/server"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "github-report",
		Short:         "Generate LLM reports from a user's GitHub activity",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.AddCommand(presetsCmd(&configPath))

	return cmd
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if ctx == nil {
		ctx = context.Background()
	}
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT or SIGTERM.
	return srv.Start()
}

func presetsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the report presets the server would load",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			registry, err := preset.Load(cfg.PresetsFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range registry.List() {
				marker := " "
				if p.Key == registry.Default() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-18s %s\n", marker, p.Key, p.Description)
			}
			return nil
		},
	}
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
