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

package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const defaultPreviewRows = 10

// csvSummary is the dataset metadata derived from a CSV file.
type csvSummary struct {
	columns []string
	types   map[string]string
	preview []map[string]any
	rows    int64
}

// columnKind narrows as values are seen: integer, float, boolean, then
// string, which accepts anything.
type columnKind int

const (
	kindUnknown columnKind = iota
	kindInteger
	kindFloat
	kindBoolean
	kindString
)

func (k columnKind) String() string {
	switch k {
	case kindInteger:
		return "integer"
	case kindFloat:
		return "float"
	case kindBoolean:
		return "boolean"
	default:
		return "string"
	}
}

func classify(value string) columnKind {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return kindInteger
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return kindFloat
	}
	if _, err := strconv.ParseBool(value); err == nil {
		return kindBoolean
	}
	return kindString
}

// widen merges an observed kind into the column's current kind.
func widen(current, seen columnKind) columnKind {
	switch {
	case current == kindUnknown:
		return seen
	case current == seen:
		return current
	case (current == kindInteger && seen == kindFloat) || (current == kindFloat && seen == kindInteger):
		return kindFloat
	default:
		return kindString
	}
}

// typed converts a preview cell to the column's kind. Empty cells are nil.
func typed(value string, kind columnKind) any {
	if value == "" {
		return nil
	}
	switch kind {
	case kindInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case kindFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case kindBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

// inspectCSV reads the header, infers a type per column and keeps the first
// previewRows rows. Every row must have as many fields as the header.
func inspectCSV(data []byte, previewRows int) (*csvSummary, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("column %d has no name", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		columns[i] = name
	}

	kinds := make([]columnKind, len(columns))
	var raw [][]string
	var rows int64
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows++
		for i, value := range record {
			if value == "" {
				continue
			}
			kinds[i] = widen(kinds[i], classify(value))
		}
		if len(raw) < previewRows {
			raw = append(raw, record)
		}
	}

	summary := &csvSummary{
		columns: columns,
		types:   make(map[string]string, len(columns)),
		preview: make([]map[string]any, 0, len(raw)),
		rows:    rows,
	}
	for i, name := range columns {
		summary.types[name] = kinds[i].String()
	}
	for _, record := range raw {
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = typed(record[i], kinds[i])
		}
		summary.preview = append(summary.preview, row)
	}
	return summary, nil
}
