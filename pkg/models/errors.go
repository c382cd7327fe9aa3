package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindInput    ErrorKind = "input_error"
	KindDecode   ErrorKind = "decode_error"
	KindModel    ErrorKind = "model_error"
	KindPool     ErrorKind = "pool_error"
	KindTimeout  ErrorKind = "timeout"
	KindInternal ErrorKind = "internal_error"
)

// JobError is the failure recorded on a job. It travels across the worker
// boundary as plain JSON, so the cause is kept only in-process.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	cause error
}

// NewJobError wraps cause with a kind. A nil cause yields a message-less error.
func NewJobError(kind ErrorKind, cause error) *JobError {
	e := &JobError{Kind: kind, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Errorf builds a JobError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *JobError {
	return NewJobError(kind, fmt.Errorf(format, args...))
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.cause }

// AsJobError extracts the JobError carried by err. Errors without one are
// reported as internal errors.
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return NewJobError(KindInternal, err)
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) ErrorKind {
	return AsJobError(err).Kind
}
