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

// Package tiering decides whether a payload is stored inline in its owning
// record or in blob storage.
//
// The decision depends only on the payload size, the configured threshold and
// the ceilings reported by the target backend. It never inspects which
// backend is active.
package tiering

import (
	"fmt"

	"github.com/poiesic/datavault/core"
)

// DefaultThreshold is the payload size at and above which payloads go to
// blob storage when no threshold is configured.
const DefaultThreshold int64 = 5 << 20

// Limits are the per-record ceilings of a backend.
type Limits struct {
	// MaxInlineBytes is the largest payload the backend accepts inline.
	MaxInlineBytes int64
	// MaxBlobBytes is the largest payload the backend accepts at all.
	MaxBlobBytes int64
}

// Validate checks that the limits are usable.
func (l Limits) Validate() error {
	if l.MaxInlineBytes <= 0 {
		return fmt.Errorf("max inline bytes must be positive, got %d", l.MaxInlineBytes)
	}
	if l.MaxBlobBytes < l.MaxInlineBytes {
		return fmt.Errorf("max blob bytes (%d) must be at least max inline bytes (%d)", l.MaxBlobBytes, l.MaxInlineBytes)
	}
	return nil
}

// Policy maps payload sizes to storage tiers.
type Policy struct {
	Threshold int64
}

// NewPolicy returns a policy with the given threshold. A non-positive
// threshold selects DefaultThreshold.
func NewPolicy(threshold int64) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// Decide returns the tier for a payload of n bytes on a backend with the
// given limits. A payload exactly at the threshold goes to blob storage.
// Payloads above the absolute ceiling are rejected with a
// *core.SizeLimitError, never truncated.
func (p Policy) Decide(n int64, limits Limits) (core.StorageType, error) {
	if n < 0 {
		return "", &core.ValidationError{Field: "payload", Reason: fmt.Sprintf("negative size %d", n)}
	}
	if n > limits.MaxBlobBytes {
		return "", &core.SizeLimitError{Size: n, Limit: limits.MaxBlobBytes}
	}
	if n >= p.EffectiveThreshold(limits) {
		return core.StorageBlob, nil
	}
	return core.StorageDirect, nil
}

// EffectiveThreshold is the configured threshold lowered, when needed, so
// that every inline payload fits the backend's inline ceiling.
func (p Policy) EffectiveThreshold(limits Limits) int64 {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ceiling := limits.MaxInlineBytes + 1; ceiling < threshold {
		return ceiling
	}
	return threshold
}
