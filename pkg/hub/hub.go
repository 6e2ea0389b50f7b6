// Package hub assembles a dispatch client from a configuration file: template
// sources and caches, channels, pipelines, personas, providers, report sinks
// and telemetry.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/channel"
	"github.com/kart-io/commshub/pkg/config"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/dispatch"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/persona"
	"github.com/kart-io/commshub/pkg/pipeline"
	"github.com/kart-io/commshub/pkg/provider"
	"github.com/kart-io/commshub/pkg/providers/console"
	"github.com/kart-io/commshub/pkg/providers/smtp"
	"github.com/kart-io/commshub/pkg/report"
	"github.com/kart-io/commshub/pkg/report/kafkasink"
	"github.com/kart-io/commshub/pkg/report/redissink"
	"github.com/kart-io/commshub/pkg/status"
	"github.com/kart-io/commshub/pkg/telemetry"
	"github.com/kart-io/commshub/pkg/template"
)

// Hub owns a configured dispatch client and the resources behind it.
type Hub struct {
	config    *config.Config
	client    *dispatch.Client
	bus       *report.Bus
	pipelines *pipeline.Registry
	providers *provider.Registry
	telemetry *telemetry.Provider
	logger    logger.Logger

	redis     redis.UniversalClient
	ownsRedis bool
	reloader  *template.HotReloader
	closers   []io.Closer
}

// Option customizes assembly.
type Option func(*options)

type options struct {
	logger      logger.Logger
	output      io.Writer
	redis       redis.UniversalClient
	kafka       kafkasink.Writer
	providers   []provider.Registration
	resolvers   []identity.Registration
	models      *content.Chain
	personas    []persona.Registration
	observers   []report.Observer
	dispatchOps []dispatch.Option
}

// WithLogger overrides the logger built from the log configuration.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOutput sets where console providers and default logs write.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithRedisClient supplies the Redis client instead of dialing redis.addr.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redis = c }
}

// WithKafkaWriter supplies the writer used by the Kafka report sink.
func WithKafkaWriter(w kafkasink.Writer) Option {
	return func(o *options) { o.kafka = w }
}

// WithProviders registers additional channel providers.
func WithProviders(regs ...provider.Registration) Option {
	return func(o *options) { o.providers = append(o.providers, regs...) }
}

// WithIdentityResolvers registers identity resolvers.
func WithIdentityResolvers(regs ...identity.Registration) Option {
	return func(o *options) { o.resolvers = append(o.resolvers, regs...) }
}

// WithModelChain sets the content model resolver chain.
func WithModelChain(chain *content.Chain) Option {
	return func(o *options) { o.models = chain }
}

// WithPersonas registers code defined personas next to configured ones.
func WithPersonas(regs ...persona.Registration) Option {
	return func(o *options) { o.personas = append(o.personas, regs...) }
}

// WithObservers subscribes observers to every report.
func WithObservers(obs ...report.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithDispatchOptions passes extra options to the dispatch client.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *options) { o.dispatchOps = append(o.dispatchOps, opts...) }
}

// New assembles a hub from cfg. cfg is expected to be validated.
func New(cfg *config.Config, opts ...Option) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub: nil config")
	}
	o := &options{output: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = NewLogger(cfg.Log, o.output)
	}

	h := &Hub{config: cfg, logger: o.logger}
	if err := h.build(o); err != nil {
		_ = h.Close(context.Background())
		return nil, err
	}
	h.logger.Info("Hub initialized", "pipelines", len(h.pipelines.All()), "providers", h.providers.IDs())
	return h, nil
}

func (h *Hub) build(o *options) error {
	cfg := h.config

	tp, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	h.telemetry = tp

	if o.redis != nil {
		h.redis = o.redis
	} else if cfg.Redis.Enabled() {
		h.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		h.ownsRedis = true
	}

	engine, err := template.NewEngine(template.EngineType(cfg.Template.Engine), h.logger)
	if err != nil {
		return err
	}

	if h.providers, err = h.buildProviders(o); err != nil {
		return err
	}

	tb, err := h.newTemplateBuilder()
	if err != nil {
		return err
	}
	channels := make(map[string]channel.Channel, len(cfg.Channels))
	declared := make([]channel.Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		ch, err := buildChannel(cc, tb)
		if err != nil {
			return err
		}
		channels[strings.ToLower(cc.ID)] = ch
		declared = append(declared, ch)
	}

	if h.pipelines, err = buildPipelines(cfg.Pipelines, channels); err != nil {
		return err
	}

	personas, err := buildPersonas(cfg.Personas, o.personas)
	if err != nil {
		return err
	}

	ids := identity.NewRegistry()
	if len(cfg.Identities) > 0 {
		profiles := buildIdentities(cfg.Identities)
		if err := ids.Register(identity.Registration{Name: "config", New: identity.Static(profiles)}); err != nil {
			return err
		}
	}
	for _, r := range o.resolvers {
		if err := ids.Register(r); err != nil {
			return err
		}
	}

	h.bus = report.NewBus(report.WithBufferSize(cfg.Report.Buffer), report.WithLogger(h.logger))
	for _, obs := range o.observers {
		h.bus.Subscribe(obs)
	}
	if err := h.attachSinks(o); err != nil {
		return err
	}

	dopts := []dispatch.Option{
		dispatch.WithLogger(h.logger),
		dispatch.WithTelemetry(h.telemetry),
		dispatch.WithBus(h.bus),
		dispatch.WithEngine(engine),
		dispatch.WithIdentityService(identity.NewService(ids, h.logger)),
		dispatch.WithPersonas(personas),
		dispatch.WithModelChain(o.models),
		dispatch.WithDefaultCulture(cfg.DefaultCulture),
		dispatch.WithPreferenceFallback(cfg.PreferenceFallback),
		dispatch.WithVocabulary(channel.Vocabulary(declared...)),
	}
	h.client, err = dispatch.New(h.pipelines, h.providers, append(dopts, o.dispatchOps...)...)
	return err
}

func (h *Hub) buildProviders(o *options) (*provider.Registry, error) {
	reg, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, pc := range h.config.Providers {
		var regs []provider.Registration
		switch pc.Type {
		case "console":
			types := make([]channel.CommunicationType, 0, len(pc.CommunicationTypes))
			for _, t := range pc.CommunicationTypes {
				types = append(types, channel.CommunicationType(t))
			}
			regs = console.New(o.output).Registrations(pc.ID, types...)
		case "smtp":
			if pc.SMTP == nil {
				return nil, fmt.Errorf("provider %s: smtp settings required", pc.ID)
			}
			p, err := smtp.New(smtp.Config{
				Host:     pc.SMTP.Host,
				Port:     pc.SMTP.Port,
				Username: pc.SMTP.Username,
				Password: pc.SMTP.Password,
				From:     pc.SMTP.From,
				TLS:      pc.SMTP.TLS,
				Timeout:  pc.SMTP.Timeout,
			}, h.logger)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
			regs = []provider.Registration{p.Registration(pc.ID)}
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", pc.ID, pc.Type)
		}
		mws := h.middleware(pc)
		for _, r := range regs {
			if err := reg.Register(provider.Wrap(r, mws...)); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range o.providers {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// middleware builds the rate limit and retry decorators for pc. The limiter
// is shared by every communication type the provider serves.
func (h *Hub) middleware(pc config.ProviderConfig) []provider.Middleware {
	var mws []provider.Middleware
	if rl := pc.RateLimit; rl != nil && rl.RequestsPerSecond > 0 {
		mws = append(mws, provider.WithRateLimit(provider.NewTokenBucket(rl.RequestsPerSecond, rl.Burst, time.Second)))
	}
	if rc := pc.Retry; rc != nil && rc.MaxAttempts > 1 {
		mws = append(mws, provider.WithRetry(provider.RetryPolicy{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay,
			MaxDelay:    rc.MaxDelay,
		}, h.logger))
	}
	return mws
}

func (h *Hub) attachSinks(o *options) error {
	cfg := h.config
	if cfg.Report.RedisStream != "" {
		if h.redis == nil {
			return errors.New("report.redis_stream requires a redis client")
		}
		sink := redissink.New(h.redis, redissink.Config{Stream: cfg.Report.RedisStream, MaxLen: cfg.Report.StreamMax}, h.logger)
		h.bus.Subscribe(sink)
		h.logger.Info("Redis report sink attached", "stream", cfg.Report.RedisStream)
	}
	if cfg.Report.KafkaTopic != "" {
		w := o.kafka
		if w == nil {
			w = kafkasink.NewWriter(kafkasink.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Report.KafkaTopic, WriteTimeout: cfg.Kafka.WriteTimeout})
		}
		sink := kafkasink.New(w, h.logger)
		h.bus.Subscribe(sink)
		h.closers = append(h.closers, sink)
		h.logger.Info("Kafka report sink attached", "topic", cfg.Report.KafkaTopic)
	}
	return nil
}

// Client returns the dispatch client.
func (h *Hub) Client() *dispatch.Client { return h.client }

// Bus returns the report bus.
func (h *Hub) Bus() *report.Bus { return h.bus }

// Pipelines returns the configured pipelines in declaration order.
func (h *Hub) Pipelines() []*pipeline.Pipeline { return h.pipelines.All() }

// Providers returns the provider registry.
func (h *Hub) Providers() *provider.Registry { return h.providers }

// Dispatch runs req bounded by the configured timeout.
func (h *Hub) Dispatch(ctx context.Context, req dispatch.Request) (*status.DispatchCommunicationResult, error) {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}
	return h.client.Dispatch(ctx, req)
}

// Close stops the reloader, closes the bus and sinks, flushes telemetry and
// closes an owned Redis client.
func (h *Hub) Close(ctx context.Context) error {
	var errs []error
	if h.reloader != nil {
		errs = append(errs, h.reloader.Close())
	}
	if h.bus != nil {
		h.bus.Close()
	}
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	if h.telemetry != nil {
		errs = append(errs, h.telemetry.Shutdown(ctx))
	}
	if h.ownsRedis && h.redis != nil {
		errs = append(errs, h.redis.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the logger described by cfg: zerolog JSON for "json",
// the standard logger otherwise.
func NewLogger(cfg config.LogConfig, w io.Writer) logger.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := logger.ParseLevel(cfg.Level)
	if cfg.Format == "json" {
		return logger.NewZerolog(zerolog.New(w).With().Timestamp().Str("service", "commshub").Logger(), level)
	}
	return logger.NewStandardLogger(log.New(w, "", log.LstdFlags), level, "[commshub]")
}

func buildIdentities(ics []config.IdentityConfig) *identity.MemoryResolver {
	mr := identity.NewMemoryResolver()
	for _, ic := range ics {
		mr.Put(&identity.Profile{
			ID:                 ic.ID,
			Type:               ic.Type,
			Addresses:          audience.ParseAll(ic.Addresses...),
			ChannelPreferences: ic.ChannelPreferences,
			Attributes:         ic.Attributes,
		})
	}
	return mr
}

func buildPipelines(pcs []config.PipelineConfig, channels map[string]channel.Channel) (*pipeline.Registry, error) {
	reg, err := pipeline.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, pc := range pcs {
		chs := make([]channel.Channel, 0, len(pc.Channels))
		for _, id := range pc.Channels {
			ch, ok := channels[strings.ToLower(id)]
			if !ok {
				return nil, fmt.Errorf("pipeline %s: unknown channel %q", pc.Intent, id)
			}
			chs = append(chs, ch)
		}
		strategy, err := pipeline.ParseStrategy(pc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", pc.Intent, err)
		}
		p, err := pipeline.New(pc.Intent,
			pipeline.WithID(pc.ID),
			pipeline.WithChannels(chs...),
			pipeline.WithStrategy(strategy),
			pipeline.WithPersonaFilters(pc.PersonaFilters...),
			pipeline.WithDispatchRequirementsAllowed(pc.DispatchRequirementsAllowed),
			pipeline.WithConcurrency(pc.Concurrency),
			pipeline.WithTransportPriority(channel.ParsePriority(pc.Priority)),
		)
		if err != nil {
			return nil, err
		}
		if err := reg.Add(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildPersonas(pcs []config.PersonaConfig, extra []persona.Registration) (*persona.Matcher, error) {
	regs := make([]persona.Registration, 0, len(pcs)+len(extra))
	for _, pc := range pcs {
		pred := persona.HasAttribute(pc.Attribute)
		if pc.Equals != "" {
			pred = persona.AttributeEquals(pc.Attribute, pc.Equals)
		}
		regs = append(regs, persona.Registration{Name: pc.Name, PlatformIdentityType: pc.IdentityType, Predicate: pred})
	}
	return persona.NewMatcher(append(regs, extra...)...)
}

// templateBuilder turns template references into sources, wrapping them in
// the configured cache and registering file sources for hot reload.
type templateBuilder struct {
	baseDir  string
	cache    template.Cache
	ttl      time.Duration
	reloader *template.HotReloader
}

func (h *Hub) newTemplateBuilder() (*templateBuilder, error) {
	tc := h.config.Template
	tb := &templateBuilder{baseDir: tc.BaseDir, ttl: tc.CacheTTL}
	if tc.CacheTTL <= 0 {
		return tb, nil
	}
	if tc.RedisCache {
		if h.redis == nil {
			return nil, errors.New("template.redis_cache requires a redis client")
		}
		tb.cache = template.NewRedisCache(h.redis, "", tc.CacheTTL, h.logger)
	} else {
		tb.cache = template.NewMemoryCache(tc.CacheTTL, tc.CacheSize)
	}
	if tc.HotReload {
		r, err := template.NewHotReloader(h.logger)
		if err != nil {
			return nil, err
		}
		h.reloader = r
		tb.reloader = r
	}
	return tb, nil
}

// source resolves ref. File wins over Text; culture variants wrap either.
func (tb *templateBuilder) source(key string, ref *config.TemplateRef) (template.Source, error) {
	if ref.IsZero() {
		return nil, nil
	}
	var src template.Source
	switch {
	case ref.File != "":
		p := ref.File
		if !filepath.IsAbs(p) && tb.baseDir != "" {
			p = filepath.Join(tb.baseDir, p)
		}
		src = template.File(p)
	case ref.Text != "":
		src = template.String(ref.Text)
	}
	if len(ref.Cultures) > 0 {
		byName := make(map[string]template.Source, len(ref.Cultures))
		for culture, text := range ref.Cultures {
			byName[culture] = template.String(text)
		}
		src = template.Cultures{Default: src, ByName: byName}
	}
	if tb.cache == nil {
		return src, nil
	}

	cached := template.Cached(src, tb.cache, key, tb.ttl)
	if _, isFile := src.(*template.FileSource); isFile && tb.reloader != nil {
		if err := tb.reloader.Watch(cached); err != nil {
			return nil, fmt.Errorf("watch template %s: %w", key, err)
		}
	}
	return cached, nil
}

func buildChannel(cc config.ChannelConfig, tb *templateBuilder) (channel.Channel, error) {
	var err error
	src := func(field string, ref *config.TemplateRef) template.Source {
		if err != nil {
			return nil
		}
		var s template.Source
		s, err = tb.source(cc.ID+"."+field, ref)
		return s
	}

	var ch channel.Channel
	switch cc.Type {
	case "email":
		ch = channel.NewEmail(cc.ID, channel.EmailConfig{
			Subject:   src("subject", cc.Subject),
			HTMLBody:  src("html_body", cc.HTMLBody),
			TextBody:  src("text_body", cc.TextBody),
			From:      cc.From,
			ReplyTo:   cc.ReplyTo,
			Providers: cc.Providers,
		})
	case "sms":
		ch = channel.NewSms(cc.ID, channel.SmsConfig{
			Message:   src("message", cc.Message),
			From:      cc.From,
			Providers: cc.Providers,
		})
	case "voice":
		ch = channel.NewVoice(cc.ID, channel.VoiceConfig{
			Message:   src("message", cc.Message),
			From:      cc.From,
			Voice:     cc.Voice,
			Language:  cc.Language,
			Providers: cc.Providers,
		})
	case "push":
		ch = channel.NewPush(cc.ID, channel.PushConfig{
			Title:     src("title", cc.Title),
			Body:      src("body", cc.Body),
			ImageURL:  src("image_url", cc.ImageURL),
			Providers: cc.Providers,
		})
	default:
		return nil, fmt.Errorf("channel %s: unsupported type %q", cc.ID, cc.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cc.ID, err)
	}
	return ch, nil
}
