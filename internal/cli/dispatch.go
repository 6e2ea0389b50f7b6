package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/dispatch"
	"github.com/kart-io/commshub/pkg/hub"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/status"
)

// DispatchOptions holds the dispatch command flags.
type DispatchOptions struct {
	Intent     string
	PipelineID string
	To         []string
	Identities []string
	Model      string
	ModelFile  string
	Channels   []string
	Culture    string
	Properties []string
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a communication for an intent",
		Long: `Dispatch renders the pipelines registered for --intent with the given
model and hands the result to the configured providers. Recipients are
addresses (emails, E.164 phone numbers, or typed values such as
device-token:abc and topic:news) or identities declared in the config.`,
		Example: `  commshub dispatch --intent welcome --to ada@example.com --model '{"name":"Ada"}'
  commshub dispatch --intent otp --to +14155550100 --channel sms --format json
  commshub dispatch --intent announcement --identity user:ada --model '{"title":"Hi","body":"News"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Intent, "intent", "i", "", "intent to dispatch (required)")
	cmd.Flags().StringVar(&opts.PipelineID, "pipeline", "", "only run the pipeline with this id")
	cmd.Flags().StringArrayVarP(&opts.To, "to", "t", nil, "recipient address, repeatable")
	cmd.Flags().StringArrayVar(&opts.Identities, "identity", nil, "identity reference type:id, repeatable")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model as a JSON object")
	cmd.Flags().StringVar(&opts.ModelFile, "model-file", "", "read the model JSON from a file")
	cmd.Flags().StringSliceVar(&opts.Channels, "channel", nil, "only use these channel ids")
	cmd.Flags().StringVar(&opts.Culture, "culture", "", "culture used to pick templates")
	cmd.Flags().StringArrayVarP(&opts.Properties, "property", "p", nil, "dispatch property key=value, repeatable")
	_ = cmd.MarkFlagRequired("intent")
	cmd.MarkFlagsMutuallyExclusive("model", "model-file")

	return cmd
}

// Request builds the dispatch request described by the flags.
func (o *DispatchOptions) Request() (dispatch.Request, error) {
	req := dispatch.Request{
		Intent:            o.Intent,
		PipelineID:        o.PipelineID,
		AllowedChannelIDs: o.Channels,
		Culture:           o.Culture,
	}
	for _, to := range o.To {
		req.Recipients = append(req.Recipients, audience.ParseAll(strings.Split(to, ",")...)...)
	}
	for _, ref := range o.Identities {
		typ, id, ok := strings.Cut(ref, ":")
		if !ok || strings.TrimSpace(typ) == "" || strings.TrimSpace(id) == "" {
			return req, fmt.Errorf("identity %q: expected type:id", ref)
		}
		req.Identities = append(req.Identities, identity.NewReference(strings.TrimSpace(typ), strings.TrimSpace(id)))
	}

	raw := []byte(o.Model)
	if o.ModelFile != "" {
		b, err := os.ReadFile(o.ModelFile)
		if err != nil {
			return req, fmt.Errorf("read model file: %w", err)
		}
		raw = b
	}
	data := map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return req, fmt.Errorf("model must be a JSON object: %w", err)
		}
	}
	req.Model = content.Raw(data)

	if len(o.Properties) > 0 {
		req.Properties = make(map[string]any, len(o.Properties))
		for _, kv := range o.Properties {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return req, fmt.Errorf("property %q: expected key=value", kv)
			}
			req.Properties[strings.TrimSpace(k)] = v
		}
	}
	return req, nil
}

func runDispatch(ctx context.Context, rootOpts *RootOptions, opts *DispatchOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := rootOpts.formatter(cmd)

	req, err := opts.Request()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if rootOpts.Verbose {
		cfg.Log.Level = "debug"
	}

	// Console providers share stderr with logs so stdout stays parseable.
	h, err := hub.New(cfg,
		hub.WithLogger(hub.NewLogger(cfg.Log, cmd.ErrOrStderr())),
		hub.WithOutput(cmd.ErrOrStderr()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "build hub", err)
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			out.VerboseLog("close: %v", err)
		}
	}()

	res, err := h.Dispatch(ctx, req)
	if err != nil {
		_ = out.Failure("DISPATCH_ERROR", err.Error(), res, nil)
		return WrapExitError(ExitFailure, "dispatch", err)
	}

	text := func(w io.Writer) { printResults(w, res) }
	if !res.IsSuccessful() {
		if err := out.Failure("DISPATCH_FAILED", fmt.Sprintf("%d of %d result(s) failed", len(res.Failures()), len(res.Results)), res, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "dispatch was not successful")
	}
	return out.Success(res, text)
}

func printResults(w io.Writer, res *status.DispatchCommunicationResult) {
	fmt.Fprintf(w, "dispatch %s\n", res.DispatchID)
	for _, r := range res.Results {
		mark := "✓"
		if !r.Status.IsSuccess() {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %d %-10s %-10s %-24s %s\n", mark, r.Status.Code, r.ChannelID, r.ProviderID, r.Recipient, r.Status.Reason)
	}
}
