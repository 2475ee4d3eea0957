// Package render turns Asciidoc source into HTML.
//
// A Renderer is built once at startup and shared by every request handler.
// Implementations must be safe for concurrent use and must not keep state
// between calls.
package render

import "context"

// Renderer converts Asciidoc source to HTML.
type Renderer interface {
	Render(ctx context.Context, source string) (string, error)
}

// RenderFunc adapts a plain function to the Renderer interface.
type RenderFunc func(ctx context.Context, source string) (string, error)

// Render calls f.
func (f RenderFunc) Render(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// Fingerprinter is implemented by renderers whose output depends on options
// beyond the source text. The fingerprint is mixed into cache keys.
type Fingerprinter interface {
	Fingerprint() string
}

// FingerprintOf returns r's fingerprint, or a constant when r has none.
func FingerprintOf(r Renderer) string {
	if fp, ok := r.(Fingerprinter); ok {
		return fp.Fingerprint()
	}
	return "static"
}
