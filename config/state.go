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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// stateDoc is the on-disk form of the persisted backend choice.
type stateDoc struct {
	Backend string `yaml:"backend"`
}

// FileState persists the active backend name in a small YAML file. Editing
// the file by hand is a supported way to request a switch.
type FileState struct {
	path string
	mu   sync.Mutex
}

// NewFileState returns a FileState for path. The file is created on the
// first Save.
func NewFileState(path string) *FileState {
	return &FileState{path: path}
}

// Path returns the state file location.
func (s *FileState) Path() string {
	return s.path
}

// Load returns the persisted backend name, or "" when nothing has been
// saved yet.
func (s *FileState) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state file: %w", err)
	}
	var doc stateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return doc.Backend, nil
}

// Save atomically replaces the state file with name.
func (s *FileState) Save(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(stateDoc{Backend: name})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// MemoryState keeps the backend choice for the life of the process.
type MemoryState struct {
	mu      sync.Mutex
	backend string
	// FailSave, when set, is returned by Save.
	FailSave error
}

// Load implements coordinator.StateStore.
func (s *MemoryState) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend, nil
}

// Save implements coordinator.StateStore.
func (s *MemoryState) Save(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.backend = name
	return nil
}
