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

package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/lexer"
	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/token"
)

func scanAll(t *testing.T, src string) ([]token.Token, *report.Collector) {
	t.Helper()
	var errs report.Collector
	l := lexer.New("t.m", src, &errs)
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return toks, &errs
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexer_Keywords(t *testing.T) {
	t.Parallel()
	toks, errs := scanAll(t, `network hyphae on signal rest`)
	require.False(t, errs.Failed())
	assert.Equal(t, []token.Kind{token.Network, token.Hyphae, token.On, token.Signal, token.Rest, token.EOF}, kinds(toks))
}

func TestLexer_Operators(t *testing.T) {
	t.Parallel()
	toks, errs := scanAll(t, `a..b -> => == != <= >= && ||`)
	require.False(t, errs.Failed())
	assert.Equal(t, []token.Kind{
		token.Ident, token.DotDot, token.Ident,
		token.Arrow, token.FatArrow, token.Eq, token.Ne, token.Le, token.Ge, token.AmpAmp, token.PipePipe,
		token.EOF,
	}, kinds(toks))
}

func TestLexer_StringEscape(t *testing.T) {
	t.Parallel()
	toks, errs := scanAll(t, `"Hello, \"World\"!\n"`)
	require.False(t, errs.Failed())
	require.Len(t, toks, 2)
	assert.Equal(t, "Hello, \"World\"!\n", toks[0].Text)
}

func TestLexer_UnterminatedString(t *testing.T) {
	t.Parallel()
	_, errs := scanAll(t, `"unterminated`)
	assert.True(t, errs.Failed())
	assert.Equal(t, "EL01", errs.Diagnostics()[0].Code.String())
}

func TestLexer_Comment(t *testing.T) {
	t.Parallel()
	toks, errs := scanAll(t, "let x = 1 // trailing comment\nlet y = 2")
	require.False(t, errs.Failed())
	assert.Equal(t, []token.Kind{
		token.Let, token.Ident, token.Assign, token.Int,
		token.Let, token.Ident, token.Assign, token.Int,
		token.EOF,
	}, kinds(toks))
}
