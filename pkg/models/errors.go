package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnreadableSource is wrapped by SourceError when the input cannot be
// opened or its container is not recognised by the configured decoder.
var ErrUnreadableSource = errors.New("unreadable source")

// SourceError is fatal and happens before any processing starts.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Unreadable builds a SourceError that matches ErrUnreadableSource.
func Unreadable(path string, cause error) *SourceError {
	if cause == nil {
		return &SourceError{Path: path, Err: ErrUnreadableSource}
	}
	return &SourceError{Path: path, Err: fmt.Errorf("%w: %w", ErrUnreadableSource, cause)}
}

// DecodeError marks a single corrupt packet. The pipeline skips it.
type DecodeError struct {
	Block int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode block %d: %v", e.Block, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedFormat is returned for streams the reducers cannot handle.
type UnsupportedFormat struct {
	Reason string
}

func (e *UnsupportedFormat) Error() string {
	return "unsupported format: " + e.Reason
}

// ConfigError reports one invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ConfigErrors collects violations found while validating a configuration.
type ConfigErrors []*ConfigError

// Add records a violation.
func (c *ConfigErrors) Add(field, format string, args ...any) {
	*c = append(*c, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Err returns nil when empty, otherwise the joined violations.
func (c ConfigErrors) Err() error {
	if len(c) == 0 {
		return nil
	}
	errs := make([]error, len(c))
	for i, e := range c {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// PipelineError means a pipeline stage stopped unexpectedly. Output of the
// run is not usable.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsConfigError reports whether err contains at least one ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ConfigFields lists the offending fields of every ConfigError inside err.
func ConfigFields(err error) []string {
	var fields []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ce, ok := e.(*ConfigError); ok {
			fields = append(fields, ce.Field)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		walk(errors.Unwrap(e))
	}
	walk(err)
	return fields
}

// Describe renders a one-line summary of an error chain for CLI output.
func Describe(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
