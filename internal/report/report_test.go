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

package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mycelial-lang/mycc/internal/report"
)

func TestDiagnostic_Error(t *testing.T) {
	t.Parallel()

	d := report.Diagnostic{
		Code:    report.Code{Family: report.Parse, Digit: 2},
		Pos:     report.Pos{File: "net.m", Line: 4, Col: 9},
		Message: "unexpected token '}'",
	}
	assert.Equal(t, "ERROR EP02 at net.m:4:9: unexpected token '}'", d.Error())

	d.Hint = "did you forget a semicolon?"
	assert.Equal(t, "ERROR EP02 at net.m:4:9: unexpected token '}'\n  Hint: did you forget a semicolon?", d.Error())
}

func TestCollector_ExitCode(t *testing.T) {
	t.Parallel()

	var c report.Collector
	assert.False(t, c.Failed())
	assert.Equal(t, 0, c.ExitCode())

	c.Errorf(report.Code{Family: report.Semantic, Digit: 1}, report.Pos{File: "a.m", Line: 1, Col: 1}, "undefined symbol %q", "foo")
	assert.True(t, c.Failed())
	assert.Equal(t, 2, c.ExitCode())

	c.Errorf(report.Code{Family: report.Compilation, Digit: 3}, report.Pos{File: "a.m", Line: 1, Col: 1}, "internal error")
	assert.Equal(t, 3, c.ExitCode())
}

func TestCollector_BoundedLimit(t *testing.T) {
	t.Parallel()

	var c report.Collector
	for i := 0; i < 150; i++ {
		c.Errorf(report.Code{Family: report.Parse, Digit: 1}, report.Pos{}, "error %d", i)
	}
	assert.Equal(t, 101, c.Count())
	assert.Contains(t, c.Diagnostics()[100].Message, "max errors exceeded")
}
