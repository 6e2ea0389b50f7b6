package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// PipelineView is the listed form of a configured pipeline.
type PipelineView struct {
	Intent         string   `json:"intent"`
	ID             string   `json:"id,omitempty"`
	Strategy       string   `json:"strategy"`
	Channels       []string `json:"channels"`
	PersonaFilters []string `json:"persona_filters,omitempty"`
	Priority       string   `json:"priority"`
	Concurrency    int      `json:"concurrency,omitempty"`
}

// NewPipelinesCommand creates the pipelines command.
func NewPipelinesCommand(rootOpts *RootOptions) *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List configured pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(rootOpts, intent, cmd)
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "only list pipelines for this intent")
	return cmd
}

func runPipelines(opts *RootOptions, intent string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	views := make([]PipelineView, 0, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		if intent != "" && !strings.EqualFold(p.Intent, intent) {
			continue
		}
		v := PipelineView{
			Intent:         p.Intent,
			ID:             p.ID,
			Strategy:       p.Strategy,
			Channels:       p.Channels,
			PersonaFilters: p.PersonaFilters,
			Priority:       p.Priority,
			Concurrency:    p.Concurrency,
		}
		if v.Strategy == "" {
			v.Strategy = "all-matching"
		}
		if v.Priority == "" {
			v.Priority = "normal"
		}
		views = append(views, v)
	}

	return out.Success(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "no pipelines")
			return
		}
		for _, v := range views {
			name := v.Intent
			if v.ID != "" {
				name += "/" + v.ID
			}
			fmt.Fprintf(w, "%-24s %-13s %-7s %s", name, v.Strategy, v.Priority, strings.Join(v.Channels, ","))
			if len(v.PersonaFilters) > 0 {
				fmt.Fprintf(w, "  personas=%s", strings.Join(v.PersonaFilters, ","))
			}
			fmt.Fprintln(w)
		}
	})
}
