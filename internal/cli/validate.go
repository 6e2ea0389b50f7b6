package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kart-io/commshub/pkg/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Long: `Check field values and the references between providers, channels,
pipelines and personas. Warnings are reported but do not fail validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.parseConfig()
	if err != nil {
		return err
	}
	out.VerboseLog("Validating %s: %d providers, %d channels, %d pipelines",
		opts.ConfigPath, len(cfg.Providers), len(cfg.Channels), len(cfg.Pipelines))

	res := cfg.Validate()
	if !res.Valid {
		if err := out.Failure(res.Errors[0].Code, res.Errors[0].Message, res, func(w io.Writer) {
			fmt.Fprintln(w, "✗ Validation failed")
			printIssues(w, res)
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(res.Errors)))
	}

	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", opts.ConfigPath)
		printIssues(w, res)
	})
}

func printIssues(w io.Writer, res *config.ValidationResult) {
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error   %-28s %s: %s\n", e.Field, e.Code, e.Message)
	}
	for _, wn := range res.Warnings {
		fmt.Fprintf(w, "  warning %-28s %s: %s\n", wn.Field, wn.Code, wn.Message)
	}
}
