// Package dispatch orchestrates communications: it resolves recipients and
// pipelines, selects channels, renders content and hands it to providers,
// publishing a delivery report for every attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/channel"
	"github.com/kart-io/commshub/pkg/content"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/persona"
	"github.com/kart-io/commshub/pkg/pipeline"
	"github.com/kart-io/commshub/pkg/provider"
	"github.com/kart-io/commshub/pkg/report"
	"github.com/kart-io/commshub/pkg/status"
	"github.com/kart-io/commshub/pkg/telemetry"
	"github.com/kart-io/commshub/pkg/template"
)

// Client dispatches communications through configured pipelines.
// It is safe for concurrent use.
type Client struct {
	pipelines  *pipeline.Service
	providers  *provider.Registry
	identities *identity.Service
	personas   *persona.Matcher
	models     *content.Chain
	engine     template.Engine
	vocabulary *audience.Vocabulary
	bus        *report.Bus
	ownsBus    bool
	telemetry  *telemetry.Provider
	logger     logger.Logger

	preferenceFallback bool
	defaultCulture     string
}

// New creates a client over a pipeline factory and a provider registry.
func New(factory pipeline.Factory, providers *provider.Registry, opts ...Option) (*Client, error) {
	if factory == nil {
		return nil, commserrors.Argument("factory", "pipeline factory is required")
	}
	if providers == nil {
		return nil, commserrors.Argument("providers", "provider registry is required")
	}
	c := &Client{
		providers: providers,
		personas:  &persona.Matcher{},
		engine:    template.Noop{},
		logger:    logger.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = report.NewBus(report.WithLogger(c.logger))
		c.ownsBus = true
	}
	if c.identities == nil {
		c.identities = identity.NewService(nil, c.logger)
	}
	if c.vocabulary == nil {
		if reg, ok := factory.(*pipeline.Registry); ok {
			var channels []channel.Channel
			for _, p := range reg.All() {
				channels = append(channels, p.Channels...)
			}
			c.vocabulary = channel.Vocabulary(channels...)
		}
	}
	c.pipelines = pipeline.NewService(factory, c.logger)
	return c, nil
}

// Bus returns the bus reports are published to.
func (c *Client) Bus() *report.Bus {
	return c.bus
}

// Subscribe registers observer on the client's bus.
func (c *Client) Subscribe(observer report.Observer, filters ...report.Filter) *report.Subscription {
	return c.bus.Subscribe(observer, filters...)
}

// DeliverReports publishes externally sourced reports, such as provider
// delivery callbacks, to subscribers.
func (c *Client) DeliverReports(reports ...*report.Report) {
	for _, r := range reports {
		if r == nil {
			continue
		}
		c.bus.Publish(r.Normalize())
	}
}

// Close closes the bus when the client created it.
func (c *Client) Close() error {
	if c.ownsBus {
		c.bus.Close()
	}
	return nil
}

// Dispatch runs req. Guard and resolution failures are returned as errors;
// pipeline matching, generation and provider failures are reported in the
// result. On cancellation the partial result is returned with ctx.Err().
func (c *Client) Dispatch(ctx context.Context, req Request) (*status.DispatchCommunicationResult, error) {
	if err := req.validate(c.vocabulary); err != nil {
		return nil, err
	}
	dispatchID := uuid.NewString()
	ctx, span := c.telemetry.StartDispatch(ctx, dispatchID, req.Intent)

	start := time.Now()
	c.logger.Debug("Dispatch started", "dispatch_id", dispatchID, "intent", req.Intent, "pipeline_id", req.PipelineID)
	result, err := c.dispatch(ctx, dispatchID, &req)
	telemetry.End(span, err)

	if err != nil {
		c.logger.Error("Dispatch failed", "dispatch_id", dispatchID, "intent", req.Intent, "error", err)
		return result, err
	}
	if result.IsSuccessful() {
		c.logger.Info("Dispatch completed", "dispatch_id", dispatchID, "intent", req.Intent,
			"results", len(result.Results), "duration", time.Since(start))
	} else {
		c.logger.Warn("Dispatch completed with failures", "dispatch_id", dispatchID, "intent", req.Intent,
			"results", len(result.Results), "failures", len(result.Failures()))
	}
	return result, nil
}

func (c *Client) dispatch(ctx context.Context, dispatchID string, req *Request) (*status.DispatchCommunicationResult, error) {
	result := &status.DispatchCommunicationResult{DispatchID: dispatchID, Results: []*status.DispatchResult{}}

	recipients, err := c.recipients(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		result.Add(c.failure(req, status.IdentityNotResolved.WithReason("no identity could be resolved")))
		return result, nil
	}

	match, err := c.pipelines.MatchingPipelines(ctx, req.Intent, req.PipelineID, req.AllowedChannelIDs)
	if err != nil {
		return nil, err
	}
	if len(match.Pipelines) == 0 {
		for _, s := range match.Errors {
			result.Add(c.failure(req, s))
		}
		return result, nil
	}
	for _, s := range match.Errors {
		c.logger.Debug("Pipeline skipped", "dispatch_id", dispatchID, "status", s.String())
	}

	var deliveries []*delivery
	for _, p := range match.Pipelines {
		planned, err := c.plan(p, recipients, req)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, planned...)
	}
	if len(deliveries) == 0 {
		result.Add(c.failure(req, status.NoChannelMatched.WithReason("no channel can reach the recipients")))
		return result, nil
	}
	if err := c.bind(deliveries); err != nil {
		return nil, err
	}

	culture := req.Culture
	if culture == "" {
		culture = c.defaultCulture
	}

	for _, p := range match.Pipelines {
		var own []*delivery
		for _, d := range deliveries {
			if d.pipeline == p {
				own = append(own, d)
			}
		}
		if len(own) == 0 {
			continue
		}
		results, err := c.run(ctx, dispatchID, culture, req, p, own)
		result.Add(results...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// recipients returns the profiles of the request. Raw addresses become a
// single anonymous profile. Resolved addresses failing validation are dropped.
func (c *Client) recipients(ctx context.Context, req *Request) ([]*identity.Profile, error) {
	if len(req.Identities) == 0 {
		return []*identity.Profile{identity.Anonymous(req.Recipients...)}, nil
	}
	profiles, err := c.identities.ResolveProfiles(ctx, req.Identities)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, c.validAddresses(p))
	}
	return out, nil
}

// validAddresses returns p, or a copy of p without its invalid addresses.
func (c *Client) validAddresses(p *identity.Profile) *identity.Profile {
	if p == nil {
		return nil
	}
	var kept []audience.Address
	for i, a := range p.Addresses {
		if err := a.Validate(c.vocabulary); err != nil {
			c.logger.Warn("Skipping invalid profile address", "profile", p.ID, "type", p.Type, "index", i, "error", err)
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == len(p.Addresses) {
		return p
	}
	clone := *p
	clone.Addresses = kept
	return &clone
}

func (c *Client) failure(req *Request, s status.CommunicationsStatus) *status.DispatchResult {
	return &status.DispatchResult{Status: s, Intent: req.Intent, PipelineID: req.PipelineID}
}

// slot collects the outcome of one delivery so results keep channel order.
type slot struct {
	results []*status.DispatchResult
	err     error
}

// run executes the deliveries of one pipeline concurrently, bounded by the
// pipeline's concurrency.
func (c *Client) run(ctx context.Context, dispatchID, culture string, req *Request, p *pipeline.Pipeline, deliveries []*delivery) ([]*status.DispatchResult, error) {
	model := req.Model
	if c.models.HasResolvers(content.PipelineLevel) {
		rc := &content.ResolveContext{Intent: p.Intent, PipelineID: p.ID, Culture: culture, Properties: req.Properties}
		resolved, err := c.models.Resolve(ctx, rc, model.Clone(), content.PipelineLevel)
		if err != nil {
			return nil, err
		}
		model = resolved
	}

	slots := make([]slot, len(deliveries))
	var g errgroup.Group
	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}
	for i, d := range deliveries {
		g.Go(func() error {
			slots[i].results, slots[i].err = c.deliver(ctx, dispatchID, culture, req, model, d)
			return nil
		})
	}
	_ = g.Wait()

	var out []*status.DispatchResult
	var firstErr error
	for _, s := range slots {
		out = append(out, s.results...)
		if s.err != nil && firstErr == nil {
			firstErr = s.err
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return out, firstErr
}

// deliver renders and dispatches one delivery and publishes a report per
// result. The returned error is non-nil only for model resolution failures
// and cancellation.
func (c *Client) deliver(ctx context.Context, dispatchID, culture string, req *Request, model *content.Model, d *delivery) ([]*status.DispatchResult, error) {
	ctx, span := c.telemetry.StartChannel(ctx, d.pipeline.Name(), d.channel.ID(), d.provider.ID, len(d.recipients))
	var spanErr error
	defer func() { telemetry.End(span, spanErr) }()

	stamp := func(res *status.DispatchResult) *status.DispatchResult {
		if res.ChannelID == "" {
			res.ChannelID = d.channel.ID()
		}
		if res.ProviderID == "" {
			res.ProviderID = d.provider.ID
		}
		if res.Intent == "" {
			res.Intent = d.pipeline.Intent
		}
		if res.PipelineID == "" {
			res.PipelineID = d.pipeline.ID
		}
		return res
	}
	publish := func(results []*status.DispatchResult, comm channel.Communication, m *content.Model, err error, elapsed time.Duration) []*status.DispatchResult {
		for _, res := range results {
			c.telemetry.RecordResult(ctx, res.ChannelID, res.Status, elapsed)
			c.bus.Publish(report.FromResult(dispatchID, res, comm, m, err))
		}
		return results
	}
	cancelled := func(err error) ([]*status.DispatchResult, error) {
		spanErr = err
		res := stamp(status.NewResult(status.Cancelled.WithReason(err.Error())))
		return publish([]*status.DispatchResult{res}, nil, nil, err, 0), err
	}

	m := model.Clone()
	if c.models.HasResolvers(content.PerChannel) {
		rc := &content.ResolveContext{
			Intent:     d.pipeline.Intent,
			PipelineID: d.pipeline.ID,
			ChannelID:  d.channel.ID(),
			Culture:    culture,
			Properties: req.Properties,
		}
		resolved, err := c.models.Resolve(ctx, rc, m, content.PerChannel)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return cancelled(ctxErr)
			}
			spanErr = err
			return nil, err
		}
		m = resolved
	}

	dc := &channel.DispatchContext{
		DispatchID:        dispatchID,
		Intent:            d.pipeline.Intent,
		PipelineID:        d.pipeline.ID,
		ChannelID:         d.channel.ID(),
		ProviderID:        d.provider.ID,
		Culture:           culture,
		TransportPriority: d.pipeline.TransportPriority,
		Model:             m,
		Recipients:        d.recipients,
		Engine:            c.engine,
		Properties:        req.Properties,
	}

	comm, err := d.channel.Generate(ctx, dc)
	if err != nil {
		spanErr = err
		c.logger.Warn("Channel generation failed", "dispatch_id", dispatchID, "channel", d.channel.ID(), "error", err)
		res := stamp(status.NewResult(status.ChannelGenerationFailed.WithReason(err.Error())))
		return publish([]*status.DispatchResult{res}, nil, m, err, 0), nil
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	start := time.Now()
	results, err := c.send(ctx, d, comm, dc)
	elapsed := time.Since(start)
	if err != nil {
		spanErr = err
		c.logger.Warn("Provider dispatch failed", "dispatch_id", dispatchID, "channel", d.channel.ID(),
			"provider", d.provider.ID, "error", err)
		res := stamp(status.NewResult(status.DispatcherFailed.WithReason(err.Error())))
		return publish([]*status.DispatchResult{res}, comm, m, err, elapsed), nil
	}

	var out []*status.DispatchResult
	for _, res := range results {
		if res != nil {
			out = append(out, stamp(res))
		}
	}
	if len(out) == 0 {
		out = append(out, stamp(status.NewResult(status.Dispatched)))
	}
	c.logger.Debug("Provider dispatch completed", "dispatch_id", dispatchID, "channel", d.channel.ID(),
		"provider", d.provider.ID, "results", len(out), "duration", elapsed)
	return publish(out, comm, m, nil, elapsed), nil
}

// send calls the provider, converting a panic into an error.
func (c *Client) send(ctx context.Context, d *delivery, comm channel.Communication, dc *channel.DispatchContext) (results []*status.DispatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", d.provider.ID, r)
		}
	}()
	return d.dispatcher.Dispatch(ctx, comm, dc)
}
