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

// Package lexer turns mycelial source text into a stream of tokens.
//
// It is a hand-advanced, rune-at-a-time scanner rather than a regex or
// text/scanner-based one -- the same style the pack's small hand-rolled
// assembly lexers use (a switch over the current byte, explicit lookahead
// for two-character operators, manual line/column bookkeeping) rather than
// building a generic tokenizer on top of regexp, which is a poor fit for a
// language with its own keyword set and operator grammar.
package lexer

import (
	"strings"
	"unicode/utf8"

	"github.com/mycelial-lang/mycc/internal/report"
	"github.com/mycelial-lang/mycc/internal/token"
)

// Lexer scans one source file into tokens on demand.
type Lexer struct {
	file string
	src  string
	pos  int // byte offset of the next unread rune
	line int
	col  int

	errs *report.Collector
}

// New returns a Lexer over src, attributing diagnostics to file.
func New(file, src string, errs *report.Collector) *Lexer {
	return &Lexer{file: file, src: src, line: 1, col: 1, errs: errs}
}

func (l *Lexer) errPos() report.Pos {
	return report.Pos{File: l.file, Line: l.line, Col: l.col}
}

// peek returns the current rune without consuming it, or 0 at EOF.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

// peekAt returns the rune n bytes ahead of the current one (ASCII
// lookahead only, which is all the grammar's two-character operators need).
func (l *Lexer) peekAt(n int) rune {
	if l.pos+n >= len(l.src) {
		return 0
	}
	return rune(l.src[l.pos+n])
}

// advance consumes and returns the current rune, updating line/col.
func (l *Lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// Next scans and returns the next token. At end of input it returns an
// EOF token forever.
func (l *Lexer) Next() token.Token {
	l.skipTrivia()

	startLine, startCol := l.line, l.col
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.EOF, Line: startLine, Col: startCol}
	}

	c := l.peek()
	switch {
	case isIdentStart(c):
		return l.scanIdent(startLine, startCol)
	case isDigit(c):
		return l.scanNumber(startLine, startCol)
	case c == '"':
		return l.scanString(startLine, startCol)
	default:
		return l.scanOperator(startLine, startCol)
	}
}

// skipTrivia consumes whitespace and line comments ("// ...").
func (l *Lexer) skipTrivia() {
	for {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekAt(1) == '/':
			for l.peek() != '\n' && l.pos < len(l.src) {
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentCont(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func (l *Lexer) scanIdent(line, col int) token.Token {
	var b strings.Builder
	for isIdentCont(l.peek()) {
		b.WriteRune(l.advance())
	}
	text := b.String()
	kind, ok := token.Keywords[text]
	if !ok {
		kind = token.Ident
	}
	return token.Token{Kind: kind, Text: text, Line: line, Col: col}
}

func (l *Lexer) scanNumber(line, col int) token.Token {
	var b strings.Builder
	isFloat := false
	for isDigit(l.peek()) {
		b.WriteRune(l.advance())
	}
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		b.WriteRune(l.advance())
		for isDigit(l.peek()) {
			b.WriteRune(l.advance())
		}
	}
	kind := token.Int
	if isFloat {
		kind = token.Float
	}
	return token.Token{Kind: kind, Text: b.String(), Line: line, Col: col}
}

func (l *Lexer) scanString(line, col int) token.Token {
	l.advance() // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			l.errs.Errorf(report.Code{Family: report.Lexical, Digit: 1}, l.errPos(), "unterminated string literal")
			break
		}
		c := l.peek()
		if c == '"' {
			l.advance()
			break
		}
		if c == '\\' {
			l.advance()
			b.WriteRune(l.unescape(l.advance()))
			continue
		}
		b.WriteRune(l.advance())
	}
	return token.Token{Kind: token.String, Text: b.String(), Line: line, Col: col}
}

func (l *Lexer) unescape(c rune) rune {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '"':
		return '"'
	case '\\':
		return '\\'
	default:
		l.errs.Errorf(report.Code{Family: report.Lexical, Digit: 2}, l.errPos(), "malformed escape sequence '\\%c'", c)
		return c
	}
}

// two matches a two-character operator starting with first; if the second
// character matches second it consumes both and returns yes, otherwise it
// consumes only first and returns no.
func (l *Lexer) two(second rune, yes, no token.Kind, line, col int) token.Token {
	l.advance()
	if l.peek() == second {
		l.advance()
		return token.Token{Kind: yes, Line: line, Col: col}
	}
	return token.Token{Kind: no, Line: line, Col: col}
}

func (l *Lexer) scanOperator(line, col int) token.Token {
	c := l.peek()
	switch c {
	case '{':
		l.advance()
		return token.Token{Kind: token.LBrace, Line: line, Col: col}
	case '}':
		l.advance()
		return token.Token{Kind: token.RBrace, Line: line, Col: col}
	case '(':
		l.advance()
		return token.Token{Kind: token.LParen, Line: line, Col: col}
	case ')':
		l.advance()
		return token.Token{Kind: token.RParen, Line: line, Col: col}
	case '[':
		l.advance()
		return token.Token{Kind: token.LBracket, Line: line, Col: col}
	case ']':
		l.advance()
		return token.Token{Kind: token.RBracket, Line: line, Col: col}
	case ',':
		l.advance()
		return token.Token{Kind: token.Comma, Line: line, Col: col}
	case ':':
		l.advance()
		return token.Token{Kind: token.Colon, Line: line, Col: col}
	case ';':
		l.advance()
		return token.Token{Kind: token.Semi, Line: line, Col: col}
	case '.':
		return l.two('.', token.DotDot, token.Dot, line, col)
	case '|':
		return l.two('|', token.PipePipe, token.Pipe, line, col)
	case '&':
		return l.two('&', token.AmpAmp, token.Amp, line, col)
	case '=':
		l.advance()
		switch l.peek() {
		case '=':
			l.advance()
			return token.Token{Kind: token.Eq, Line: line, Col: col}
		case '>':
			l.advance()
			return token.Token{Kind: token.FatArrow, Line: line, Col: col}
		default:
			return token.Token{Kind: token.Assign, Line: line, Col: col}
		}
	case '!':
		return l.two('=', token.Ne, token.Bang, line, col)
	case '<':
		return l.two('=', token.Le, token.Lt, line, col)
	case '>':
		return l.two('=', token.Ge, token.Gt, line, col)
	case '+':
		l.advance()
		return token.Token{Kind: token.Plus, Line: line, Col: col}
	case '-':
		l.advance()
		if l.peek() == '>' {
			l.advance()
			return token.Token{Kind: token.Arrow, Line: line, Col: col}
		}
		return token.Token{Kind: token.Minus, Line: line, Col: col}
	case '*':
		l.advance()
		return token.Token{Kind: token.Star, Line: line, Col: col}
	case '/':
		l.advance()
		return token.Token{Kind: token.Slash, Line: line, Col: col}
	case '%':
		l.advance()
		return token.Token{Kind: token.Percent, Line: line, Col: col}
	default:
		l.errs.Errorf(report.Code{Family: report.Lexical, Digit: 3}, l.errPos(), "invalid character %q", c)
		l.advance()
		return token.Token{Kind: token.Invalid, Line: line, Col: col}
	}
}
