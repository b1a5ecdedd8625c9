package common

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Sentinels for the pipeline error taxonomy. Typed errors below match them with errors.Is.
var (
	ErrConfiguration       = errors.New("invalid configuration")
	ErrUnknownLabel        = errors.New("unknown label")
	ErrAlignmentMismatch   = errors.New("sub-word alignment mismatch")
	ErrEmptyVocabulary     = errors.New("cannot build vocabulary from empty data")
	ErrResourceUnavailable = errors.New("resource unavailable")
)

// ConfigurationError reports a missing or invalid setting, such as an unknown architecture.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnknownLabelError is returned when a label absent from the fitted tag vocabulary is transformed.
type UnknownLabelError struct {
	Label    string
	Sequence int
	Position int
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("%s %q at sequence %d position %d", ErrUnknownLabel, e.Label, e.Sequence, e.Position)
}

func (e *UnknownLabelError) Is(target error) bool { return target == ErrUnknownLabel }

// AlignmentMismatchError reports an example whose sub-word alignment lost word tokens.
// It is never fatal; callers count it and continue with the truncated alignment.
type AlignmentMismatchError struct {
	Example int
	Words   int // word tokens in the input
	Aligned int // word tokens that received at least one piece
	Clipped int // words whose piece list was cut short
}

func (e *AlignmentMismatchError) Error() string {
	return fmt.Sprintf("%s: example %d aligned %d of %d words (%d clipped)",
		ErrAlignmentMismatch, e.Example, e.Aligned, e.Words, e.Clipped)
}

func (e *AlignmentMismatchError) Is(target error) bool { return target == ErrAlignmentMismatch }

// EmptyVocabularyError is returned when fitting on zero sequences.
type EmptyVocabularyError struct {
	Vocabulary string
}

func (e *EmptyVocabularyError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrEmptyVocabulary, e.Vocabulary)
}

func (e *EmptyVocabularyError) Is(target error) bool { return target == ErrEmptyVocabulary }

// ResourceUnavailableError is returned when a collaborator cannot serve anything for a whole batch.
type ResourceUnavailableError struct {
	Resource string
	Batch    int
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s resolved nothing for batch %d", ErrResourceUnavailable, e.Resource, e.Batch)
}

func (e *ResourceUnavailableError) Is(target error) bool { return target == ErrResourceUnavailable }

// IsFatal reports whether err must abort processing. Alignment mismatches are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAlignmentMismatch)
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// LogAndWrapError logs an error at the given level and wraps it with context
func LogAndWrapError(logger zerolog.Logger, err error, level zerolog.Level, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(message, args...)
	logger.WithLevel(level).Err(err).Msg(context)
	return fmt.Errorf("%s: %w", context, err)
}
