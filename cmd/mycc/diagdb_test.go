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
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mycelial-lang/mycc/internal/report"
)

func TestPersistDiagnosticsIsANoOpWithoutAPath(t *testing.T) {
	var errs report.Collector
	errs.Errorf(report.Code{Family: report.Parse, Digit: 1}, report.Pos{File: "x.m", Line: 1}, "boom")

	// No path means no database file should even be attempted; nothing to
	// assert beyond "this does not panic or block".
	persistDiagnostics("", &errs)
}

func TestPersistDiagnosticsWritesEveryDiagnostic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "diags.sqlite")

	var errs report.Collector
	errs.ErrorHint(report.Code{Family: report.Semantic, Digit: 3}, report.Pos{File: "n.m", Line: 4, Col: 2}, "declare it first", "undefined symbol %q", "foo")
	errs.Warnf(report.Code{Family: report.Compilation, Digit: 9}, report.Pos{File: "n.m"}, "rule dropped: no incoming socket")

	persistDiagnostics(dbPath, &errs)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)

	var rows []diagRow
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)

	var sawError, sawWarning bool
	for _, r := range rows {
		if r.Warning {
			sawWarning = true
		} else {
			sawError = true
			require.Equal(t, "declare it first", r.Hint)
		}
	}
	require.True(t, sawError)
	require.True(t, sawWarning)
}

func TestPersistDiagnosticsIsANoOpWithZeroDiagnostics(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "diags.sqlite")
	var errs report.Collector
	persistDiagnostics(dbPath, &errs)

	// persistDiagnostics returns before ever opening dbPath when there is
	// nothing to write, so the file must not exist.
	_, err := os.Stat(dbPath)
	require.Error(t, err)
}
