// Package template provides the content sources and rendering engines used by
// channels to turn a content model into channel text.
package template

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/cbroglie/mustache"

	"github.com/kart-io/commshub/pkg/logger"
)

// EngineType names a built-in engine.
type EngineType string

const (
	EngineGo       EngineType = "go"
	EngineMustache EngineType = "mustache"
	EngineNone     EngineType = "none"
)

// Engine renders template text against a data value.
type Engine interface {
	// Name returns the engine name
	Name() string

	// Render renders text with data
	Render(ctx context.Context, text string, data any) (string, error)
}

// NewEngine creates a built-in engine by type. An empty type selects Go templates.
func NewEngine(t EngineType, log logger.Logger) (Engine, error) {
	switch EngineType(strings.ToLower(string(t))) {
	case EngineGo, "":
		return NewGoEngine(log), nil
	case EngineMustache:
		return NewMustacheEngine(log), nil
	case EngineNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported template engine: %s", t)
	}
}

// GoEngine renders with text/template. Missing map keys render as empty text.
type GoEngine struct {
	logger logger.Logger
	funcs  template.FuncMap
}

// NewGoEngine creates a Go template engine.
func NewGoEngine(log logger.Logger) *GoEngine {
	return &GoEngine{
		logger: logger.OrDiscard(log),
		funcs: template.FuncMap{
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
		},
	}
}

// Name returns the engine name
func (e *GoEngine) Name() string {
	return string(EngineGo)
}

// Render renders text with data using Go templates
func (e *GoEngine) Render(_ context.Context, text string, data any) (string, error) {
	tmpl, err := template.New("content").Funcs(e.funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		e.logger.Error("Failed to parse Go template", "error", err)
		return "", fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		e.logger.Error("Failed to execute Go template", "error", err)
		return "", fmt.Errorf("template execution error: %w", err)
	}

	out := strings.ReplaceAll(buf.String(), "<no value>", "")
	e.logger.Debug("Go template rendered", "length", len(out))
	return out, nil
}

// MustacheEngine renders logic-less Mustache templates.
type MustacheEngine struct {
	logger logger.Logger
}

// NewMustacheEngine creates a Mustache engine.
func NewMustacheEngine(log logger.Logger) *MustacheEngine {
	return &MustacheEngine{logger: logger.OrDiscard(log)}
}

// Name returns the engine name
func (e *MustacheEngine) Name() string {
	return string(EngineMustache)
}

// Render renders text with data using Mustache
func (e *MustacheEngine) Render(_ context.Context, text string, data any) (string, error) {
	out, err := mustache.Render(text, data)
	if err != nil {
		e.logger.Error("Failed to render Mustache template", "error", err)
		return "", fmt.Errorf("mustache render error: %w", err)
	}
	e.logger.Debug("Mustache template rendered", "length", len(out))
	return out, nil
}

// Noop returns template text unchanged.
type Noop struct{}

// Name returns the engine name
func (Noop) Name() string { return string(EngineNone) }

// Render returns text.
func (Noop) Render(_ context.Context, text string, _ any) (string, error) { return text, nil }
