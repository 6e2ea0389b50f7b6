package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationResult represents the result of configuration validation.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationWarning represents a validation warning.
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error so an invalid result can be returned directly.
func (r *ValidationResult) Error() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (r *ValidationResult) addError(field, code, msg string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Code: code, Message: msg})
}

func (r *ValidationResult) addWarning(field, code, msg string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Code: code, Message: msg})
}

// Validate checks struct tags and cross references between providers,
// channels, pipelines and personas.
func (c *Config) Validate() *ValidationResult {
	res := &ValidationResult{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				res.addError(fieldPath(fe.Namespace()), "INVALID_"+strings.ToUpper(fe.Tag()),
					fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value()))
			}
		} else {
			res.addError("", "INVALID", err.Error())
		}
	}

	c.validateReferences(res)
	c.validateConnections(res)

	if c.Timeout > 5*time.Minute {
		res.addWarning("timeout", "LONG_TIMEOUT", "timeout is unusually long, consider reducing it")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (c *Config) validateReferences(res *ValidationResult) {
	providers := make(map[string]ProviderConfig)
	for i, p := range c.Providers {
		key := strings.ToLower(p.ID)
		if _, dup := providers[key]; dup {
			res.addError(fmt.Sprintf("providers[%d].id", i), "DUPLICATE", "provider "+p.ID+" declared twice")
		}
		providers[key] = p
	}

	channels := make(map[string]bool)
	for i, ch := range c.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		key := strings.ToLower(ch.ID)
		if channels[key] {
			res.addError(field+".id", "DUPLICATE", "channel "+ch.ID+" declared twice")
		}
		channels[key] = true

		for _, id := range ch.Providers {
			p, ok := providers[strings.ToLower(id)]
			if !ok {
				res.addError(field+".providers", "UNKNOWN_PROVIDER", "provider "+id+" is not declared")
				continue
			}
			if len(p.CommunicationTypes) > 0 && !containsFold(p.CommunicationTypes, ch.Type) {
				res.addError(field+".providers", "TYPE_MISMATCH",
					fmt.Sprintf("provider %s does not serve %s channels", id, ch.Type))
			}
		}
		if len(ch.Providers) == 0 && !c.servesType(ch.Type) {
			res.addWarning(field+".providers", "NO_PROVIDER", "no declared provider serves "+ch.Type+" channels")
		}
		c.validateTemplates(field, ch, res)
	}

	personas := make(map[string]bool)
	for _, p := range c.Personas {
		personas[strings.ToLower(p.Name)] = true
	}

	identities := make(map[string]bool)
	for i, id := range c.Identities {
		key := strings.ToLower(id.Type) + "/" + strings.ToLower(id.ID)
		if identities[key] {
			res.addError(fmt.Sprintf("identities[%d]", i), "DUPLICATE", "identity "+key+" declared twice")
		}
		identities[key] = true
		for _, pref := range id.ChannelPreferences {
			if !channels[strings.ToLower(pref)] {
				res.addWarning(fmt.Sprintf("identities[%d].channel_preferences", i), "UNKNOWN_CHANNEL",
					"channel "+pref+" is not declared")
			}
		}
	}

	pipelines := make(map[string]bool)
	for i, p := range c.Pipelines {
		field := fmt.Sprintf("pipelines[%d]", i)
		key := strings.ToLower(p.Intent) + "/" + strings.ToLower(p.ID)
		if pipelines[key] {
			res.addError(field, "DUPLICATE", "pipeline "+key+" declared twice")
		}
		pipelines[key] = true

		for _, id := range p.Channels {
			if !channels[strings.ToLower(id)] {
				res.addError(field+".channels", "UNKNOWN_CHANNEL", "channel "+id+" is not declared")
			}
		}
		for _, name := range p.PersonaFilters {
			if !personas[strings.ToLower(name)] {
				res.addWarning(field+".persona_filters", "UNKNOWN_PERSONA",
					"persona "+name+" is not declared and will match nobody")
			}
		}
	}
}

func (c *Config) validateTemplates(field string, ch ChannelConfig, res *ValidationResult) {
	require := func(name string, ref *TemplateRef) {
		if ref.IsZero() {
			res.addError(field+"."+name, "MISSING_TEMPLATE", ch.Type+" channels require a "+name+" template")
		}
	}
	switch ch.Type {
	case "email":
		require("subject", ch.Subject)
		if ch.HTMLBody.IsZero() && ch.TextBody.IsZero() {
			res.addWarning(field, "EMPTY_BODY", "email channel has no body template")
		}
	case "sms", "voice":
		require("message", ch.Message)
	case "push":
		if ch.Title.IsZero() && ch.Body.IsZero() {
			res.addError(field, "MISSING_TEMPLATE", "push channels require a title or body template")
		}
	}
}

func (c *Config) validateConnections(res *ValidationResult) {
	if c.Template.RedisCache && !c.Redis.Enabled() {
		res.addError("template.redis_cache", "REDIS_REQUIRED", "redis cache requires redis.addr")
	}
	if c.Report.RedisStream != "" && !c.Redis.Enabled() {
		res.addError("report.redis_stream", "REDIS_REQUIRED", "redis stream sink requires redis.addr")
	}
	if c.Report.KafkaTopic != "" && len(c.Kafka.Brokers) == 0 {
		res.addError("report.kafka_topic", "KAFKA_REQUIRED", "kafka sink requires kafka.brokers")
	}
	if c.Template.HotReload && c.Template.BaseDir == "" {
		res.addWarning("template.hot_reload", "NO_BASE_DIR", "hot reload only watches file templates")
	}
}

func (c *Config) servesType(t string) bool {
	for _, p := range c.Providers {
		if len(p.CommunicationTypes) == 0 || containsFold(p.CommunicationTypes, t) {
			return true
		}
	}
	return false
}

// fieldPath turns "Config.Channels[0].Type" into "channels[0].type".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
