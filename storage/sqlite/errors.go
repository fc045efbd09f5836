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

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/datavault/core"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// classify maps database/sql and SQLite errors onto the stable error kinds.
// Errors that already carry a kind pass through.
func classify(err error) error {
	if err == nil || core.KindOf(err) != nil {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	}
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	code := serr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %w", constraintKind(code, serr.Error()), err)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_PROTOCOL, sqlite3.SQLITE_INTERRUPT:
		return fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	case sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", core.ErrSizeLimitExceeded, err)
	default:
		return err
	}
}

func constraintKind(code int, msg string) error {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		if strings.Contains(msg, "feedback.prediction_id") {
			return core.ErrDuplicatePrediction
		}
		return core.ErrDuplicateKey
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return core.ErrMissingReference
	default:
		return core.ErrConstraintViolation
	}
}
