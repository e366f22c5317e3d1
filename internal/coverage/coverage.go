// Package coverage is the spec's Analyzer Façade (§4.4): it joins the
// source pass (internal/pragma) and the structural pass (internal/cfg)
// per file and exposes the façade operations, including the diff
// operations against a runtime-collected execution record.
package coverage

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v5"
	digest "github.com/opencontainers/go-digest"

	"github.com/wharflab/covstatic/internal/cfg"
	"github.com/wharflab/covstatic/internal/diag"
	"github.com/wharflab/covstatic/internal/gosrc"
	"github.com/wharflab/covstatic/internal/pragma"
)

// ErrNoSource is the spec's IoError: the source file is missing or
// unreadable.
type ErrNoSource struct{ Path string }

func (e *ErrNoSource) Error() string { return fmt.Sprintf("no source for code: %s", e.Path) }

// ErrCouldNotParse is the spec's CouldNotParse: the host parser
// rejected the source outright.
type ErrCouldNotParse struct {
	Path    string
	Line    int
	Message string
}

func (e *ErrCouldNotParse) Error() string {
	return fmt.Sprintf("could not parse %s:%d: %s", e.Path, e.Line, e.Message)
}

// ErrInternalConsistency is the spec's fatal InternalConsistency: the
// two passes disagree about line numbering in a way that should be
// structurally impossible for valid Go.
type ErrInternalConsistency struct{ Detail string }

func (e *ErrInternalConsistency) Error() string {
	return "internal consistency error: " + e.Detail
}

// Unit is the spec's CodeUnit: one file's canonical path, normalized
// source, parsed AST, and a stable content-addressed identity used as
// the Analyzer's result-cache key. Created once via Load; immutable
// afterward.
type Unit struct {
	Path     string
	Source   []byte
	File     *ast.File
	FSet     *token.FileSet
	Identity digest.Digest
}

// Load reads path, normalizes it (CRLF→LF, trailing newline), parses it
// as Go source, and computes its content identity. Every read error
// other than fs.ErrNotExist is retried with exponential backoff (at
// most 3 tries); fs.ErrNotExist maps straight to ErrNoSource, and an
// error still present after the last try maps to ErrNoSource too.
func Load(path string) (*Unit, error) {
	src, err := readWithRetry(path)
	if err != nil {
		return nil, &ErrNoSource{Path: path}
	}
	return LoadSource(path, src)
}

// LoadSource builds a Unit from already-read source bytes, the spec §2
// "caller hands the façade either a path or pre-loaded source+code"
// entry point — used directly by callers that already have the bytes
// (embedded files, a virtual filesystem) and by tests, which never
// touch a real file.
func LoadSource(path string, src []byte) (*Unit, error) {
	src = gosrc.Normalize(src)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		line := 0
		if el, ok := err.(scanner.ErrorList); ok && len(el) > 0 {
			line = el[0].Pos.Line
		}
		return nil, &ErrCouldNotParse{Path: path, Line: line, Message: err.Error()}
	}

	return &Unit{
		Path:     path,
		Source:   src,
		File:     file,
		FSet:     fset,
		Identity: digest.FromBytes(src),
	}, nil
}

func readWithRetry(path string) ([]byte, error) {
	op := func() ([]byte, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return b, nil
	}
	return backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
}

// Result is the spec's AnalysisResult: sorted executable statement
// starts, sorted excluded lines, the multi-line map, and the full arc
// set.
type Result struct {
	Statements []int
	Excluded   []int
	Multiline  pragma.MultilineMap
	Arcs       map[cfg.Arc]struct{}
}

// Analyzer is the façade: one exclusion regex and diagnostics sink
// shared across every Unit it analyzes, with a per-Analyzer result
// cache keyed by content identity (spec §9's "no shared mutable
// state" note — this replaces coveragepy's module-level cache).
type Analyzer struct {
	Exclude *regexp.Regexp
	Sink    *diag.Sink

	mu    sync.Mutex
	cache map[digest.Digest]*Result
}

// NewAnalyzer builds a façade. exclude may be nil (no exclusions);
// sink may be nil (diagnostics discarded).
func NewAnalyzer(exclude *regexp.Regexp, sink *diag.Sink) *Analyzer {
	return &Analyzer{Exclude: exclude, Sink: sink, cache: map[digest.Digest]*Result{}}
}

// Analyze runs both passes over u and joins their outputs, caching by
// content identity so re-analyzing byte-identical content is free.
func (a *Analyzer) Analyze(u *Unit) (*Result, error) {
	a.mu.Lock()
	if cached, ok := a.cache[u.Identity]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	srcRes, err := pragma.Analyze(u.Path, u.Source, u.File, u.FSet, a.Exclude)
	if err != nil {
		return nil, err
	}

	cfgRes := &cfg.Result{Statements: map[int]struct{}{}, Arcs: map[cfg.Arc]struct{}{}}
	for _, fn := range cfg.Reachable(u.File) {
		onUnknown := func(line int, kind string) {
			if a.Sink != nil {
				a.Sink.Record(diag.KindUnknownNode, u.Path, line, "unclassified statement kind %s in %s", kind, fn.Name)
			}
		}
		cfgRes.Merge(cfg.Build(u.FSet, fn.Body, onUnknown))
	}

	srcLines := strings.Split(string(u.Source), "\n")
	for l := range srcRes.Lines.Excluded {
		if _, ok := cfgRes.Statements[l]; ok {
			continue
		}
		if a.Exclude == nil || l-1 >= len(srcLines) || !a.Exclude.MatchString(srcLines[l-1]) {
			continue // excluded by suite propagation, not matched by the pragma
		}
		if !partOfStatementSpan(l, &srcRes.Multiline, cfgRes.Statements) {
			if a.Sink != nil {
				a.Sink.Record(diag.KindAmbiguousExclusion, u.Path, l, "exclusion pragma matched a line that is not a statement start")
			}
		}
	}

	// cfg.Build's blocks are always keyed by a statement's own first
	// line (s.Pos(), or a construct's leading keyword token), so
	// cfgRes.Statements never needs multiline collapsing — doing so
	// would be actively wrong for a closure literal embedded inside an
	// enclosing multi-line statement (e.g. `go func() {...}()`): the
	// closure body's own statement lines fall inside the outer
	// statement's span and would wrongly collapse onto its first line.
	// Excluded lines, by contrast, come from raw per-token end lines
	// and genuinely need collapsing: a pragma comment on a continuation
	// line should exclude the whole statement, anchored at its start.
	statements := setFromMap(cfgRes.Statements)
	excluded := collapseLines(setFromMap(srcRes.Lines.Excluded), &srcRes.Multiline)
	excludedSet := toSet(excluded)
	statements = subtractSorted(statements, excludedSet)
	statements = subtractSorted(statements, setFromMap(srcRes.Lines.Docstrings))

	res := &Result{
		Statements: statements,
		Excluded:   excluded,
		Multiline:  srcRes.Multiline,
		Arcs:       cfgRes.Arcs,
	}

	a.mu.Lock()
	a.cache[u.Identity] = res
	a.mu.Unlock()
	return res, nil
}

// partOfStatementSpan reports whether excluded line l lies within some
// multi-line statement's span whose first line is a real statement
// start — i.e. the exclusion pragma landed on a continuation line of
// an actual statement rather than on, say, a stray comment or a brace
// of its own.
func partOfStatementSpan(l int, m *pragma.MultilineMap, statements map[int]struct{}) bool {
	first, _, ok := m.Lookup(l)
	if !ok {
		return false
	}
	_, isStmt := statements[first]
	return isStmt
}

func setFromMap(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for l := range m {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

func collapseLines(lines []int, m *pragma.MultilineMap) []int {
	set := map[int]struct{}{}
	for _, l := range lines {
		set[m.FirstLine(l)] = struct{}{}
	}
	out := setFromMap(set)
	return out
}

func toSet(lines []int) map[int]struct{} {
	set := make(map[int]struct{}, len(lines))
	for _, l := range lines {
		set[l] = struct{}{}
	}
	return set
}

func subtractSorted(lines []int, remove map[int]struct{}) []int {
	out := lines[:0:0]
	for _, l := range lines {
		if _, ok := remove[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// ExecutableStatements returns executable_statements(unit): statement
// starts minus docstrings minus excluded lines. The lines are not
// collapsed onto the first line of an enclosing multi-line span: a
// closure's statements inside a multi-line statement keep their own
// lines (see Analyze).
func (r *Result) ExecutableStatements() []int { return r.Statements }

// ExcludedLines returns excluded_lines(unit): the excluded set,
// collapsed to each span's first line.
func (r *Result) ExcludedLines() []int { return r.Excluded }

// ArcPossibilities returns arc_possibilities(unit): every recovered
// arc, sorted.
func (r *Result) ArcPossibilities() []cfg.Arc {
	out := make([]cfg.Arc, 0, len(r.Arcs))
	for a := range r.Arcs {
		out = append(out, a)
	}
	sortArcs(out)
	return out
}

func sortArcs(arcs []cfg.Arc) {
	sort.Slice(arcs, func(i, j int) bool {
		if arcs[i].From != arcs[j].From {
			return arcs[i].From < arcs[j].From
		}
		return arcs[i].To < arcs[j].To
	})
}

// Missing returns missing(executed_lines): executable lines that were
// not in the runtime-collected executed set.
func (r *Result) Missing(executed map[int]struct{}) []int {
	var out []int
	for _, l := range r.Statements {
		if _, ok := executed[l]; !ok {
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

// ArcsMissing returns arcs_missing(executed_arcs): possible arcs not
// observed at runtime, restricted to arcs whose endpoints are both in
// the executable set (or the entry/exit sentinel).
func (r *Result) ArcsMissing(executed map[cfg.Arc]struct{}) []cfg.Arc {
	exec := toSet(r.Statements)
	var out []cfg.Arc
	for a := range r.Arcs {
		if _, ok := executed[a]; ok {
			continue
		}
		if !endpointExecutable(a.From, exec) || !endpointExecutable(a.To, exec) {
			continue
		}
		out = append(out, a)
	}
	sortArcs(out)
	return out
}

// ArcsUnpredicted returns arcs_unpredicted(executed_arcs): arcs that
// were observed at runtime but the static pass never predicted — used
// to catch analyzer bugs or compiler/runtime surprises, never expected
// to be non-empty for a faithful trace (spec §8 invariant 6).
func (r *Result) ArcsUnpredicted(executed map[cfg.Arc]struct{}) []cfg.Arc {
	var out []cfg.Arc
	for a := range executed {
		if _, ok := r.Arcs[a]; !ok {
			out = append(out, a)
		}
	}
	sortArcs(out)
	return out
}

func endpointExecutable(line int, exec map[int]struct{}) bool {
	if line == cfg.Exit {
		return true
	}
	_, ok := exec[line]
	return ok
}

// MissingFormatted compresses a sorted set of missing lines into
// comma-separated ranges, e.g. {4,5,6,9} -> "4-6, 9".
func MissingFormatted(missing []int) string {
	if len(missing) == 0 {
		return ""
	}
	var parts []string
	start, prev := missing[0], missing[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(end))
		}
	}
	for _, l := range missing[1:] {
		if l == prev+1 {
			prev = l
			continue
		}
		flush(prev)
		start, prev = l, l
	}
	flush(prev)
	return strings.Join(parts, ", ")
}

// ParseMissingFormatted is the inverse of MissingFormatted, used by
// spec §8 invariant 7's round-trip test.
func ParseMissingFormatted(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, err
			}
			b, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, err
			}
			for l := a; l <= b; l++ {
				out = append(out, l)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
