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

package badger

// NewMemoryAdapter opens an in-memory document adapter for testing. Zero
// fields of opts take their defaults. Caller must close the adapter.
func NewMemoryAdapter(opts Options) (*Adapter, error) {
	opts.InMemory = true
	opts.Path = ""
	return Open(opts)
}
