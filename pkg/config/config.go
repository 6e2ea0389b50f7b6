// Package config loads the commshub configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kart-io/commshub/pkg/telemetry"
)

// Config is the root of a commshub configuration file.
type Config struct {
	// Timeout bounds one dispatch started from the CLI or the hub.
	Timeout            time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	DefaultCulture     string        `yaml:"default_culture" json:"default_culture"`
	PreferenceFallback bool          `yaml:"preference_fallback" json:"preference_fallback"`

	Log       LogConfig        `yaml:"log" json:"log"`
	Template  TemplateConfig   `yaml:"template" json:"template"`
	Report    ReportConfig     `yaml:"report" json:"report"`
	Redis     RedisConfig      `yaml:"redis" json:"redis"`
	Kafka     KafkaConfig      `yaml:"kafka" json:"kafka"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`

	Providers []ProviderConfig `yaml:"providers" json:"providers" validate:"dive"`
	Channels  []ChannelConfig  `yaml:"channels" json:"channels" validate:"dive"`
	Pipelines []PipelineConfig `yaml:"pipelines" json:"pipelines" validate:"dive"`
	Personas  []PersonaConfig  `yaml:"personas" json:"personas" validate:"dive"`
	// Identities are static profiles resolvable by type and id.
	Identities []IdentityConfig `yaml:"identities" json:"identities" validate:"dive"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=silent error warn info debug"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json text"`
}

// TemplateConfig configures the template engine and template caching.
type TemplateConfig struct {
	Engine    string        `yaml:"engine" json:"engine" validate:"omitempty,oneof=go mustache none"`
	BaseDir   string        `yaml:"base_dir" json:"base_dir"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl" validate:"gte=0"`
	CacheSize int           `yaml:"cache_size" json:"cache_size" validate:"gte=0"`
	// RedisCache shares rendered template text through Redis instead of memory.
	RedisCache bool `yaml:"redis_cache" json:"redis_cache"`
	HotReload  bool `yaml:"hot_reload" json:"hot_reload"`
}

// ReportConfig configures the delivery report bus and its sinks.
type ReportConfig struct {
	Buffer      int    `yaml:"buffer" json:"buffer" validate:"gte=0"`
	RedisStream string `yaml:"redis_stream" json:"redis_stream"`
	StreamMax   int64  `yaml:"stream_max_len" json:"stream_max_len" validate:"gte=0"`
	KafkaTopic  string `yaml:"kafka_topic" json:"kafka_topic"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db" validate:"gte=0"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig configures the Kafka report sink.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers" validate:"dive,hostname_port"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
}

// ProviderConfig declares a channel provider.
type ProviderConfig struct {
	ID                 string           `yaml:"id" json:"id" validate:"required"`
	Type               string           `yaml:"type" json:"type" validate:"required,oneof=console smtp"`
	CommunicationTypes []string         `yaml:"communication_types" json:"communication_types" validate:"dive,oneof=email sms voice push"`
	SMTP               *SMTPConfig      `yaml:"smtp,omitempty" json:"smtp,omitempty" validate:"required_if=Type smtp"`
	Retry              *RetryConfig     `yaml:"retry,omitempty" json:"retry,omitempty"`
	RateLimit          *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// RetryConfig retries failed provider calls with exponential backoff.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=0,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" validate:"gte=0"`
}

// RateLimitConfig caps provider calls with a token bucket.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int `yaml:"burst" json:"burst" validate:"gte=0"`
}

// SMTPConfig configures the SMTP provider.
type SMTPConfig struct {
	Host     string        `yaml:"host" json:"host" validate:"required,hostname|ip"`
	Port     int           `yaml:"port" json:"port" validate:"required,gt=0,lte=65535"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"-"`
	From     string        `yaml:"from" json:"from" validate:"omitempty,email"`
	TLS      string        `yaml:"tls" json:"tls" validate:"omitempty,oneof=none starttls mandatory ssl"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// TemplateRef points at template text: inline, a file under the template
// base directory, or per-culture inline variants.
type TemplateRef struct {
	Text     string            `yaml:"text" json:"text"`
	File     string            `yaml:"file" json:"file"`
	Cultures map[string]string `yaml:"cultures" json:"cultures"`
}

// IsZero reports whether the reference names no template.
func (t *TemplateRef) IsZero() bool {
	return t == nil || (t.Text == "" && t.File == "" && len(t.Cultures) == 0)
}

// ChannelConfig declares a channel.
type ChannelConfig struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Type      string   `yaml:"type" json:"type" validate:"required,oneof=email sms voice push"`
	Providers []string `yaml:"providers" json:"providers"`
	From      string   `yaml:"from" json:"from"`
	ReplyTo   string   `yaml:"reply_to" json:"reply_to"`
	Voice     string   `yaml:"voice" json:"voice"`
	Language  string   `yaml:"language" json:"language"`

	Subject  *TemplateRef `yaml:"subject,omitempty" json:"subject,omitempty"`
	HTMLBody *TemplateRef `yaml:"html_body,omitempty" json:"html_body,omitempty"`
	TextBody *TemplateRef `yaml:"text_body,omitempty" json:"text_body,omitempty"`
	Message  *TemplateRef `yaml:"message,omitempty" json:"message,omitempty"`
	Title    *TemplateRef `yaml:"title,omitempty" json:"title,omitempty"`
	Body     *TemplateRef `yaml:"body,omitempty" json:"body,omitempty"`
	ImageURL *TemplateRef `yaml:"image_url,omitempty" json:"image_url,omitempty"`
}

// PipelineConfig declares a pipeline over named channels.
type PipelineConfig struct {
	Intent                      string   `yaml:"intent" json:"intent" validate:"required"`
	ID                          string   `yaml:"id" json:"id"`
	Channels                    []string `yaml:"channels" json:"channels" validate:"required,min=1,dive,required"`
	Strategy                    string   `yaml:"strategy" json:"strategy" validate:"omitempty,oneof=all-matching first-match"`
	PersonaFilters              []string `yaml:"persona_filters" json:"persona_filters"`
	DispatchRequirementsAllowed bool     `yaml:"dispatch_requirements_allowed" json:"dispatch_requirements_allowed"`
	Concurrency                 int      `yaml:"concurrency" json:"concurrency" validate:"gte=0"`
	Priority                    string   `yaml:"priority" json:"priority" validate:"omitempty,oneof=low normal high"`
}

// PersonaConfig declares an attribute based persona.
type PersonaConfig struct {
	Name         string `yaml:"name" json:"name" validate:"required"`
	IdentityType string `yaml:"identity_type" json:"identity_type"`
	Attribute    string `yaml:"attribute" json:"attribute" validate:"required"`
	// Equals requires the attribute to hold this value; empty only requires presence.
	Equals string `yaml:"equals" json:"equals"`
}

// IdentityConfig declares a profile served by the built-in identity resolver.
// Addresses use the dispatch recipient syntax, e.g. "device-token:abc".
type IdentityConfig struct {
	Type               string            `yaml:"type" json:"type" validate:"required"`
	ID                 string            `yaml:"id" json:"id" validate:"required"`
	Addresses          []string          `yaml:"addresses" json:"addresses" validate:"required,min=1"`
	ChannelPreferences []string          `yaml:"channel_preferences" json:"channel_preferences"`
	Attributes         map[string]string `yaml:"attributes" json:"attributes"`
}

// Option adjusts a configuration.
type Option func(*Config) error

// Default returns a configuration with defaults applied and nothing declared.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// New builds a configuration from defaults and opts, then validates it.
func New(opts ...Option) (*Config, error) {
	c := Default()
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if res := c.Validate(); !res.Valid {
		return nil, res
	}
	return c, nil
}

// Load reads a YAML file, expanding ${VAR} references from the process
// environment.
func Load(path string, opts ...Option) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if res := c.Validate(); !res.Valid {
		return nil, res
	}
	return c, nil
}

// Parse decodes YAML text with environment expansion and applies defaults.
// It does not validate.
func Parse(raw []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DefaultCulture == "" {
		c.DefaultCulture = "en"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Template.Engine == "" {
		c.Template.Engine = "go"
	}
	if c.Report.Buffer == 0 {
		c.Report.Buffer = 256
	}
	if c.Kafka.WriteTimeout == 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "commshub"
	}
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = "localhost:4318"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	for i := range c.Providers {
		if s := c.Providers[i].SMTP; s != nil {
			if s.Port == 0 {
				s.Port = 587
			}
			if s.Timeout == 0 {
				s.Timeout = 30 * time.Second
			}
		}
	}
}

// Channel returns the channel declaration with id.
func (c *Config) Channel(id string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
