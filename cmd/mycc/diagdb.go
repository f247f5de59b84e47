// Copyright 2025 The mycc Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/mycelial-lang/mycc/internal/debug"
	"github.com/mycelial-lang/mycc/internal/report"
)

// diagRow is one persisted report.Diagnostic, for --diag-db: a local
// SQLite sink downstream tooling (an editor's problems pane, a CI step)
// can query without re-parsing mycc's stderr output. The core
// report.Collector itself has no database dependency; only this CLI layer
// does.
type diagRow struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	Code      string
	File      string
	Line      int
	Col       int
	Message   string
	Hint      string
	Warning   bool
}

// persistDiagnostics writes every diagnostic in errs to the SQLite file at
// path, creating the table if needed. A no-op when path is empty. Failures
// are reported to stderr rather than changing the process's exit code:
// losing the diagnostic log is not itself a compile failure.
func persistDiagnostics(path string, errs *report.Collector) {
	if path == "" {
		return
	}
	diags := errs.Diagnostics()
	if len(diags) == 0 {
		return
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mycc: --diag-db: opening %s: %v\n", path, err)
		return
	}
	if err := db.AutoMigrate(&diagRow{}); err != nil {
		fmt.Fprintf(os.Stderr, "mycc: --diag-db: migrating %s: %v\n", path, err)
		return
	}

	rows := make([]diagRow, len(diags))
	for i, d := range diags {
		rows[i] = diagRow{
			Code:    d.Code.String(),
			File:    d.Pos.File,
			Line:    d.Pos.Line,
			Col:     d.Pos.Col,
			Message: d.Message,
			Hint:    d.Hint,
			Warning: d.Warning,
		}
	}
	if err := db.Create(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "mycc: --diag-db: writing %s: %v\n", path, err)
		return
	}
	debug.Log("diag-db", "persisted %d diagnostics to %s", len(rows), path)
}
