// Package gosrc wraps go/scanner behind the token contract the static
// analyzer's source pass needs: kind, text, and a line span per token.
//
// It is the one place in this module where reaching for the standard
// library instead of a third-party lexer is the idiomatic call — Go's
// own compiler-grade scanner has no ecosystem replacement, the same way
// coveragepy treats its own tokenizer as swappable only "if an
// equivalent exists" (see DESIGN.md).
package gosrc

import (
	"bytes"
	"fmt"
	"go/scanner"
	"go/token"
	"strings"
)

// Kind is the closed set of token categories the source analyzer cares
// about. Go has no significant indentation: Scan never produces Indent
// or Dedent tokens, and the consumer (pragma's suite walk) tracks brace
// depth itself.
type Kind int

const (
	Other Kind = iota
	Indent
	Dedent
	Op
	String
	Newline
	Name
	Number
	Comment
)

func (k Kind) String() string {
	switch k {
	case Indent:
		return "INDENT"
	case Dedent:
		return "DEDENT"
	case Op:
		return "OP"
	case String:
		return "STRING"
	case Newline:
		return "NEWLINE"
	case Name:
		return "NAME"
	case Number:
		return "NUMBER"
	case Comment:
		return "COMMENT"
	default:
		return "OTHER"
	}
}

// Token is the spec's (kind, text, start_line, end_line, line_text)
// tuple. Scan returns all of a file's tokens at once, as a slice.
type Token struct {
	Kind      Kind
	Text      string
	StartLine int
	EndLine   int
	LineText  string
}

// ErrCouldNotParse mirrors the spec's CouldNotParse failure mode: the
// scanner rejected the source outright.
type ErrCouldNotParse struct {
	Path string
	Line int
	Msg  string
}

func (e *ErrCouldNotParse) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// Normalize applies the external-interface rule from spec §6: CRLF is
// normalized to LF before any analysis, and a missing trailing newline
// is tolerated by appending one (spec §8 boundary behavior).
func Normalize(src []byte) []byte {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	if len(src) > 0 && src[len(src)-1] != '\n' {
		src = append(src, '\n')
	}
	return src
}

// Scan tokenizes normalized source text rooted at path, returning every
// token in file order. A scan error is reported through errHandler by
// go/scanner and surfaces here as ErrCouldNotParse.
func Scan(path string, src []byte) ([]Token, *token.FileSet, error) {
	fset := token.NewFileSet()
	file := fset.AddFile(path, fset.Base(), len(src))
	lines := bytes.Split(src, []byte("\n"))

	var scanErr *ErrCouldNotParse
	var s scanner.Scanner
	s.Init(file, src, func(pos token.Position, msg string) {
		if scanErr == nil {
			scanErr = &ErrCouldNotParse{Path: path, Line: pos.Line, Msg: msg}
		}
	}, scanner.ScanComments)

	var toks []Token
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		p := fset.Position(pos)
		line := p.Line
		lineText := ""
		if line-1 >= 0 && line-1 < len(lines) {
			lineText = string(lines[line-1])
		}
		text := lit
		if text == "" {
			text = tok.String()
		}
		endLine := line
		if tok == token.STRING || tok == token.COMMENT {
			endLine += strings.Count(lit, "\n")
		}
		toks = append(toks, Token{
			Kind:      classify(tok),
			Text:      text,
			StartLine: line,
			EndLine:   endLine,
			LineText:  lineText,
		})
	}
	if scanErr != nil {
		return nil, nil, scanErr
	}
	return toks, fset, nil
}

func classify(tok token.Token) Kind {
	switch {
	case tok == token.COMMENT:
		return Comment
	case tok == token.STRING:
		return String
	case tok == token.IDENT:
		return Name
	case tok == token.INT || tok == token.FLOAT || tok == token.IMAG || tok == token.CHAR:
		return Number
	case tok == token.SEMICOLON:
		return Newline
	case tok.IsOperator() || tok.IsKeyword():
		return Op
	default:
		return Other
	}
}
