// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrStopped           = errors.New("stopped by coordinator")
	ErrCoordinatorGone   = errors.New("coordinator hung up")
	ErrDestinationExists = errors.New("destination already exists")
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	ErrInvalidDelimiter  = errors.New("invalid delimiter")
	ErrSinkClosed        = errors.New("sink is closed")
	ErrNoProgress        = errors.New("multiple writes made no progress")
	ErrWriterStuck       = errors.New("writer did not stop")
)

// Kind classifies errors for exit codes, logs and metric labels.
type Kind string

const (
	KindConfig   Kind = "config"
	KindSource   Kind = "source"
	KindRead     Kind = "read"
	KindWrite    Kind = "write"
	KindInternal Kind = "internal"
	KindCanceled Kind = "canceled"
	KindUnknown  Kind = "unknown"
)

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field=%s: %s", e.Field, e.Reason)
}

// Unwrap makes every ConfigError match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// SourceError represents a failure to open an input source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error: source=%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ReadError represents an I/O failure while reading input.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read error: source=%s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError represents an I/O failure while writing output.
type WriteError struct {
	Sink string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write error: sink=%s op=%s: %v", e.Sink, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// CoordinationError reports a broken invariant between the reader, the writer
// and the coordinator: one side exited while the other still expected to talk to it.
type CoordinationError struct {
	Task string
	Op   string
	Err  error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("bug: %s: coordinator hung up while %s: %v", e.Task, e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}

// Classify returns the Kind of err.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var configErr *ConfigError
	if errors.As(err, &configErr) || errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidDelimiter) {
		return KindConfig
	}

	var coordErr *CoordinationError
	if errors.As(err, &coordErr) {
		return KindInternal
	}

	var writeErr *WriteError
	if errors.As(err, &writeErr) {
		return KindWrite
	}

	var readErr *ReadError
	if errors.As(err, &readErr) {
		return KindRead
	}

	var sourceErr *SourceError
	if errors.As(err, &sourceErr) || errors.Is(err, ErrDestinationExists) || errors.Is(err, ErrUnsupportedScheme) {
		return KindSource
	}

	if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindUnknown
}

// ExitCode maps an error to the process exit status.
// Configuration problems exit 2, everything else 1.
func ExitCode(err error) int {
	switch Classify(err) {
	case "":
		return 0
	case KindConfig:
		return 2
	default:
		return 1
	}
}

// Is, As and New mirror the standard library so callers importing this
// package under the name errors keep working.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
