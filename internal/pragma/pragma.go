// Package pragma implements the spec's Source Analyzer (§4.2): it walks
// the token stream to compute excluded lines (propagated over braced
// suites), and reads the parsed AST for doc-comment lines and the
// per-line multi-line statement map.
//
// Go has no significant indentation, so "suite" exclusion is anchored
// on the opening brace of a block rather than a trailing colon, and
// "indent" is tracked as brace depth instead of an INDENT/DEDENT count.
package pragma

import (
	"go/ast"
	"go/token"
	"regexp"
	"sort"
	"strings"

	"github.com/wharflab/covstatic/internal/gosrc"
)

// LineSets holds the two line-number sets the source pass produces.
// Statement starts come from the structural pass (internal/cfg).
type LineSets struct {
	Excluded   map[int]struct{}
	Docstrings map[int]struct{}
}

// NewLineSets returns an empty, ready-to-use LineSets.
func NewLineSets() LineSets {
	return LineSets{
		Excluded:   make(map[int]struct{}),
		Docstrings: make(map[int]struct{}),
	}
}

// Span is one multi-line statement's [First, Last] line range.
type Span struct {
	First, Last int
}

// MultilineMap maps every line of a multi-line statement to its span.
// Stored as a sorted slice of spans (spec §9's "arena of spans" note)
// rather than one map entry per line.
type MultilineMap struct {
	spans []Span
}

// Add records a span. Analyze only records spans that cover more than
// one physical line, so Lookup reports false for a line of a
// single-line statement.
func (m *MultilineMap) Add(first, last int) {
	m.spans = append(m.spans, Span{First: first, Last: last})
}

func (m *MultilineMap) finalize() {
	sort.Slice(m.spans, func(i, j int) bool { return m.spans[i].First < m.spans[j].First })
}

// Lookup returns the span containing line, or (line, line, false) if
// no multi-line span was recorded for it (a line stands for itself).
func (m *MultilineMap) Lookup(line int) (int, int, bool) {
	idx := sort.Search(len(m.spans), func(i int) bool { return m.spans[i].First > line })
	if idx > 0 {
		s := m.spans[idx-1]
		if line >= s.First && line <= s.Last {
			return s.First, s.Last, true
		}
	}
	return line, line, false
}

// FirstLine collapses line to the first line of its multi-line
// statement, or returns line unchanged if it is not part of one.
func (m *MultilineMap) FirstLine(line int) int {
	first, _, _ := m.Lookup(line)
	return first
}

// Result is the source analyzer's output for one file.
type Result struct {
	Lines     LineSets
	Multiline MultilineMap
}

// Analyze runs the source pass over src (already CRLF-normalized) using
// tokens from gosrc.Scan and doc comments from the parsed AST. exclude
// may be nil, meaning no lines are excluded by pragma.
func Analyze(path string, src []byte, file *ast.File, fset *token.FileSet, exclude *regexp.Regexp) (*Result, error) {
	toks, _, err := gosrc.Scan(path, src)
	if err != nil {
		return nil, err
	}

	res := &Result{Lines: NewLineSets()}

	prescanExcluded(src, exclude, res.Lines.Excluded)
	walkSuites(toks, res.Lines.Excluded)
	if file != nil {
		multilineFromAST(file, fset, &res.Multiline)
		harvestDocComments(file, fset, res.Lines.Docstrings)
	}
	res.Multiline.finalize()

	return res, nil
}

// prescanExcluded matches the exclusion regex against every raw line
// (spec §4.2's "pragma pre-scan"), independent of tokenization.
func prescanExcluded(src []byte, exclude *regexp.Regexp, excluded map[int]struct{}) {
	if exclude == nil {
		return
	}
	lines := strings.Split(string(src), "\n")
	for i, l := range lines {
		if exclude.MatchString(l) {
			excluded[i+1] = struct{}{}
		}
	}
}

// walkSuites implements suite-exclusion propagation, anchored on `{`
// instead of `:` (spec §4.2).
//
// Multi-line statement detection is deliberately NOT done here: Go's
// scanner only auto-inserts the NEWLINE-equivalent semicolon after
// specific token kinds (identifiers, literals, certain keywords, and
// `)`/`]`/`}`), never after a block-opening `{`. A token-only "first
// line of statement" tracker would therefore leak the enclosing
// header's line into the block's first statement (e.g. `func F() {`
// followed by `x := 1` would misreport as one multi-line statement
// spanning both). go/ast already carries exact statement boundaries,
// so multilineFromAST below computes that span directly from the AST
// instead of reconstructing it from the brace-depth token stream.
func walkSuites(toks []gosrc.Token, excluded map[int]struct{}) {
	indent := 0
	excludeIndent := -1
	excluding := false
	atStatementStart := true

	for _, t := range toks {
		if t.Kind == gosrc.Comment {
			continue
		}

		if t.Kind == gosrc.Op && t.Text == "{" {
			if _, hit := excluded[t.EndLine]; hit && !excluding {
				excludeIndent = indent
				excluding = true
			}
		}

		if excluding {
			excluded[t.EndLine] = struct{}{}
		}

		if t.Kind == gosrc.Op && t.Text == "{" {
			indent++
		} else if t.Kind == gosrc.Op && t.Text == "}" {
			indent--
		}

		if excluding && atStatementStart && indent <= excludeIndent {
			excluding = false
		}

		atStatementStart = t.Kind == gosrc.Newline
	}
}

// multilineFromAST records, for every "leaf" statement (one that isn't
// itself a block/compound construct), the [first,last] line span of
// its own tokens when that span crosses more than one physical line —
// the spec §4.2 multi-line statement map, re-grounded on exact AST
// positions instead of semicolon-token reconstruction.
func multilineFromAST(file *ast.File, fset *token.FileSet, multiline *MultilineMap) {
	ast.Inspect(file, func(n ast.Node) bool {
		var stmt ast.Stmt
		switch s := n.(type) {
		case *ast.ReturnStmt:
			stmt = s
		case *ast.BranchStmt:
			stmt = s
		case *ast.ExprStmt:
			stmt = s
		case *ast.AssignStmt:
			stmt = s
		case *ast.DeclStmt:
			stmt = s
		case *ast.IncDecStmt:
			stmt = s
		case *ast.SendStmt:
			stmt = s
		case *ast.GoStmt:
			stmt = s
		case *ast.DeferStmt:
			stmt = s
		default:
			return true
		}
		first := fset.Position(stmt.Pos()).Line
		last := fset.Position(stmt.End()).Line
		if last > first {
			multiline.Add(first, last)
		}
		return true
	})
}

// harvestDocComments records, for every top-level FuncDecl/GenDecl, the
// lines of the comment block immediately preceding it — the Go
// analogue of a Python docstring (see DESIGN.md Open Question 4). These
// lines are never statement lines, so they need no suppression from
// the executable set beyond simply never appearing in it.
func harvestDocComments(file *ast.File, fset *token.FileSet, docstrings map[int]struct{}) {
	cmap := ast.NewCommentMap(fset, file, file.Comments)
	for _, decl := range file.Decls {
		var doc *ast.CommentGroup
		switch d := decl.(type) {
		case *ast.FuncDecl:
			doc = d.Doc
		case *ast.GenDecl:
			doc = d.Doc
		}
		if doc == nil {
			if groups := cmap[decl]; len(groups) > 0 {
				doc = groups[0]
			}
		}
		if doc == nil {
			continue
		}
		start := fset.Position(doc.Pos()).Line
		end := fset.Position(doc.End()).Line
		for l := start; l <= end; l++ {
			docstrings[l] = struct{}{}
		}
	}
}
