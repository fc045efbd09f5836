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

package storage

import (
	"context"
	"errors"

	"github.com/poiesic/datavault/core"
)

// Wrap attaches backend and operation detail to err. Errors that already
// carry that detail are returned unchanged. Context expiry is reported as a
// connectivity failure since the backend did not answer in time. Errors
// with no stable kind become core.ErrBackendFailure.
func Wrap(backend, operation string, err error) error {
	if err == nil {
		return nil
	}
	var serr *core.StorageError
	if errors.As(err, &serr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewStorageError(backend, operation, core.ErrConnectivity, err)
	}
	if kind := core.KindOf(err); kind != nil {
		return core.NewStorageError(backend, operation, err, nil)
	}
	return core.NewStorageError(backend, operation, core.ErrBackendFailure, err)
}

// NotFound returns a not-found error for one entity.
func NotFound(backend, operation string, kind core.EntityKind, id string) error {
	return core.NewStorageError(backend, operation, core.ErrNotFound, &missingError{kind: kind, id: id})
}

type missingError struct {
	kind core.EntityKind
	id   string
}

func (e *missingError) Error() string {
	return string(e.kind) + " " + e.id
}
