// Package cli implements the commshub command line.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kart-io/commshub/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFiles   []string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the commshub root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "commshub",
		Short: "Route communications through configured pipelines",
		Long: `commshub resolves recipients, renders channel templates and hands
communications to providers according to the pipelines in a YAML config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	defaultConfig := os.Getenv("COMMSHUB_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "commshub.yaml"
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfig, "config file (env COMMSHUB_CONFIG)")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewPipelinesCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadEnv loads --env-file files, or ./.env when none are given, so their
// variables are visible to ${VAR} expansion in the config.
func (o *RootOptions) loadEnv() error {
	if len(o.EnvFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			_ = godotenv.Load()
		}
		return nil
	}
	if err := godotenv.Load(o.EnvFiles...); err != nil {
		return WrapExitError(ExitCommandError, "load env files", err)
	}
	return nil
}

// parseConfig reads and parses the config file without validating it.
func (o *RootOptions) parseConfig() (*config.Config, error) {
	if err := o.loadEnv(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read config", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "parse config", err)
	}
	if err := config.WithEnvDefaults()(cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, "load env", err)
	}
	return cfg, nil
}

// loadConfig loads and validates the config file.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if err := o.loadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.ConfigPath, config.WithEnvDefaults())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}
