// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"
)

// Stable error kinds. Every error surfaced by datavault matches exactly one
// of these through errors.Is, whichever backend produced it.
var (
	// ErrValidation indicates malformed input. It never reaches a backend.
	ErrValidation = errors.New("validation error")

	// ErrSizeLimitExceeded indicates a payload above the absolute ceiling of
	// the active backend.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConnectivity indicates the backend could not be reached.
	ErrConnectivity = errors.New("backend unreachable")

	// ErrConstraintViolation indicates a structural rejection by the backend.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrSwitchFailure indicates an aborted backend switch. The previous
	// backend stays active.
	ErrSwitchFailure = errors.New("backend switch failed")
)

// Refinements of the stable kinds.
var (
	// ErrBackendUnavailable is returned while a backend switch is draining or
	// reinitializing. It is transient and never retried internally.
	ErrBackendUnavailable = fmt.Errorf("%w: backend switch in progress", ErrConnectivity)

	// ErrClosed is returned by adapters after Close.
	ErrClosed = fmt.Errorf("%w: adapter is closed", ErrConnectivity)

	// ErrBackendFailure marks a backend error no adapter could classify. It
	// is not known to be transient and is never retried.
	ErrBackendFailure = fmt.Errorf("%w: unclassified backend failure", ErrConnectivity)

	// ErrConflict is returned when concurrent writers collide. It is retried.
	ErrConflict = fmt.Errorf("%w: write conflict", ErrConnectivity)

	// ErrBlobCorrupted indicates missing, out-of-order or mismatched blob data.
	ErrBlobCorrupted = fmt.Errorf("%w: blob data missing or corrupted", ErrConstraintViolation)

	// ErrDuplicateKey indicates an id or unique key already in use.
	ErrDuplicateKey = fmt.Errorf("%w: duplicate key", ErrConstraintViolation)

	// ErrDuplicatePrediction indicates a second feedback for a prediction id.
	ErrDuplicatePrediction = fmt.Errorf("%w: duplicate prediction id", ErrConstraintViolation)

	// ErrMissingReference indicates a reference to an entity that does not exist.
	ErrMissingReference = fmt.Errorf("%w: referenced entity does not exist", ErrConstraintViolation)

	// ErrBlobInUse indicates a blob that is still referenced by its owner.
	ErrBlobInUse = fmt.Errorf("%w: blob is referenced by its owner", ErrConstraintViolation)
)

var kinds = []error{
	ErrValidation,
	ErrSizeLimitExceeded,
	ErrNotFound,
	ErrConnectivity,
	ErrConstraintViolation,
	ErrSwitchFailure,
}

// KindOf returns the stable kind of err, or nil when err matches none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short label for the kind of err, suitable for metrics.
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "internal"
	case ErrValidation:
		return "validation"
	case ErrSizeLimitExceeded:
		return "size_limit_exceeded"
	case ErrNotFound:
		return "not_found"
	case ErrConnectivity:
		return "connectivity"
	case ErrConstraintViolation:
		return "constraint_violation"
	default:
		return "switch_failure"
	}
}

// IsRetryable reports whether err is a transient connectivity failure that
// may be retried. Switch-in-progress and unclassified failures are excluded.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectivity) &&
		!errors.Is(err, ErrBackendUnavailable) &&
		!errors.Is(err, ErrBackendFailure)
}

// ValidationError reports the offending field of a rejected entity.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SizeLimitError reports a payload above a backend ceiling.
type SizeLimitError struct {
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("size limit exceeded: payload of %d bytes exceeds ceiling of %d bytes", e.Size, e.Limit)
}

// Is matches ErrSizeLimitExceeded.
func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}

// StorageError carries backend-reported detail alongside a stable kind.
type StorageError struct {
	Backend   string // Backend name ("document", "relational")
	Operation string // Operation that failed ("dataset.create", ...)
	Kind      error  // One of the stable kinds or a refinement of one
	Cause     error  // Backend-reported error, may be nil
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Kind == nil {
		return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Kind)
	}
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v: %v", e.Backend, e.Operation, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the backend cause to errors.Is/As.
func (e *StorageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, kind, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Kind:      kind,
		Cause:     cause,
	}
}

// SwitchError describes why a backend switch was aborted.
type SwitchError struct {
	From   string
	To     string
	Reason error
}

// Error implements the error interface.
func (e *SwitchError) Error() string {
	return fmt.Sprintf("backend switch %s -> %s failed: %v", e.From, e.To, e.Reason)
}

// Is matches ErrSwitchFailure only, so a failed probe is not mistaken for a
// connectivity error of the active backend.
func (e *SwitchError) Is(target error) bool {
	return target == ErrSwitchFailure
}
