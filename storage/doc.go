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

// Package storage defines the contract every datavault backend satisfies.
//
// An Adapter persists canonical records (see package core) and raw blob bytes.
// Two implementations exist:
//
//   - badger: a document store that keeps records under key prefixes and
//     splits blobs into ordered chunks.
//   - sqlite: a relational store with BLOB columns, JSON-checked text columns
//     and schema-level cascades.
//
// Callers never branch on which adapter is active. Anything that differs
// between backends (size ceilings, cascade mechanics, constraint
// enforcement) stays inside the adapter and is proven equivalent by the
// shared suite in storagetest.
//
// # Semantics
//
// Deletes are idempotent: deleting a missing id returns nil. Gets of missing
// ids return an error matching core.ErrNotFound. Lists return records without
// their inline payload, most recently created first, optionally restricted
// to one dataset.
//
// A record that references a blob is only written after the blob's bytes are
// fully stored, so an interrupted write leaves at most an unreferenced blob
// for the orphan sweeper.
//
// # Errors
//
// Every returned error matches exactly one stable kind from package core.
// Adapters wrap backend detail in a *core.StorageError via Wrap.
//
// # Thread Safety
//
// Adapters must be safe for concurrent use. Close is called once, after all
// in-flight operations have returned.
package storage
