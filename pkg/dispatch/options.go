package dispatch

import (
	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/identity"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/persona"
	"github.com/kart-io/commshub/pkg/report"
	"github.com/kart-io/commshub/pkg/telemetry"
	"github.com/kart-io/commshub/pkg/template"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrDiscard(l)
	}
}

// WithTelemetry enables spans and metrics.
func WithTelemetry(t *telemetry.Provider) Option {
	return func(c *Client) {
		c.telemetry = t
	}
}

// WithBus publishes reports to bus instead of a client-owned bus.
func WithBus(bus *report.Bus) Option {
	return func(c *Client) {
		if bus != nil {
			c.bus = bus
			c.ownsBus = false
		}
	}
}

// WithIdentityService sets the service used to resolve identity references.
func WithIdentityService(s *identity.Service) Option {
	return func(c *Client) {
		c.identities = s
	}
}

// WithPersonas sets the matcher used for pipeline persona filters.
func WithPersonas(m *persona.Matcher) Option {
	return func(c *Client) {
		if m != nil {
			c.personas = m
		}
	}
}

// WithModelChain sets the content model resolver chain.
func WithModelChain(chain *content.Chain) Option {
	return func(c *Client) {
		c.models = chain
	}
}

// WithEngine sets the template engine handed to channels.
func WithEngine(e template.Engine) Option {
	return func(c *Client) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithPreferenceFallback controls what happens when a non-empty channel
// preference list excludes every eligible channel. When enabled the list is
// ignored; otherwise the identity receives nothing from that pipeline.
func WithPreferenceFallback(enabled bool) Option {
	return func(c *Client) {
		c.preferenceFallback = enabled
	}
}

// WithVocabulary sets the address types recipients may carry. Without it the
// vocabulary is built from the channels of a *pipeline.Registry factory.
func WithVocabulary(v *audience.Vocabulary) Option {
	return func(c *Client) {
		c.vocabulary = v
	}
}

// WithDefaultCulture sets the culture used when a request carries none.
func WithDefaultCulture(culture string) Option {
	return func(c *Client) {
		c.defaultCulture = culture
	}
}
