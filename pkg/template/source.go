package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Source supplies template text for a culture. ok is false when the source has
// no content, which channels treat as an empty template.
type Source interface {
	Content(ctx context.Context, culture string) (text string, ok bool, err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, culture string) (string, bool, error)

// Content calls f.
func (f SourceFunc) Content(ctx context.Context, culture string) (string, bool, error) {
	return f(ctx, culture)
}

// String is a literal template.
type String string

// Content returns the literal; an empty literal reports no content.
func (s String) Content(context.Context, string) (string, bool, error) {
	return string(s), s != "", nil
}

// Cultures maps culture names to sources, falling back through the neutral
// culture ("fr" for "fr-CA") to Default.
type Cultures struct {
	Default Source
	ByName  map[string]Source
}

// Content resolves the most specific registered culture.
func (c Cultures) Content(ctx context.Context, culture string) (string, bool, error) {
	for _, name := range cultureChain(culture) {
		for k, src := range c.ByName {
			if strings.EqualFold(k, name) && src != nil {
				return src.Content(ctx, culture)
			}
		}
	}
	if c.Default == nil {
		return "", false, nil
	}
	return c.Default.Content(ctx, culture)
}

// FileSource reads a template file from disk. For a culture "fr-CA" and path
// "welcome.tmpl" it tries welcome.fr-CA.tmpl, welcome.fr.tmpl, welcome.tmpl.
type FileSource struct {
	Path string
}

// File creates a file-backed source.
func File(p string) *FileSource {
	return &FileSource{Path: filepath.Clean(p)}
}

// Content reads the first existing culture variant.
func (f *FileSource) Content(_ context.Context, culture string) (string, bool, error) {
	for _, candidate := range Variants(f.Path, culture) {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read template %s: %w", candidate, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// EmbeddedSource reads a template from an fs.FS such as an embed.FS.
type EmbeddedSource struct {
	FS   fs.FS
	Path string
}

// Embedded creates an fs.FS backed source.
func Embedded(fsys fs.FS, p string) *EmbeddedSource {
	return &EmbeddedSource{FS: fsys, Path: p}
}

// Content reads the first existing culture variant.
func (e *EmbeddedSource) Content(_ context.Context, culture string) (string, bool, error) {
	for _, candidate := range variants(e.Path, culture, path.Ext) {
		data, err := fs.ReadFile(e.FS, candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read embedded template %s: %w", candidate, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// Variants lists the culture-specific file names for p, most specific first.
func Variants(p, culture string) []string {
	return variants(p, culture, filepath.Ext)
}

func variants(p, culture string, ext func(string) string) []string {
	e := ext(p)
	base := strings.TrimSuffix(p, e)
	var out []string
	for _, c := range cultureChain(culture) {
		out = append(out, base+"."+c+e)
	}
	return append(out, p)
}

// cultureChain returns "fr-CA", "fr" for "fr-CA"; nothing for an empty culture.
func cultureChain(culture string) []string {
	culture = strings.TrimSpace(culture)
	if culture == "" {
		return nil
	}
	out := []string{culture}
	if i := strings.IndexAny(culture, "-_"); i > 0 {
		out = append(out, culture[:i])
	}
	return out
}

// Render fetches src for culture and renders it with engine. A nil source or
// one without content renders as the empty string.
func Render(ctx context.Context, engine Engine, src Source, culture string, data any) (string, error) {
	if src == nil {
		return "", nil
	}
	text, ok, err := src.Content(ctx, culture)
	if err != nil {
		return "", err
	}
	if !ok || text == "" {
		return "", nil
	}
	if engine == nil {
		engine = Noop{}
	}
	return engine.Render(ctx, text, data)
}
