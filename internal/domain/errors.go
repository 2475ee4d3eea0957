// Package domain holds the conversion service's core error vocabulary. It is
// free of HTTP and infrastructure concerns.
package domain

import "errors"

var (
	// ErrEmptySource signals a request without Asciidoc input.
	ErrEmptySource = errors.New("empty source")
	// ErrSourceTooLarge signals input above the configured byte limit.
	ErrSourceTooLarge = errors.New("source too large")
	// ErrRenderFailed wraps any failure inside the rendering library.
	ErrRenderFailed = errors.New("render failed")
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)
