package domain

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is matched by every *ConfigurationError via errors.Is.
var ErrNotConfigured = errors.New("provider not configured")

// UnresolvedSymbolError reports input that maps to no known token.
type UnresolvedSymbolError struct {
	Input      string
	Suggestion string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unresolved token symbol %q", e.Input)
}

// ProviderError is a failure of one external source.
type ProviderError struct {
	Provider   string
	Reason     string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a missing credential or endpoint for a provider.
type ConfigurationError struct {
	Provider string
	Setting  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing configuration %s", e.Provider, e.Setting)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotConfigured
}
