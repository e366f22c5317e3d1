package coverage

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharflab/covstatic/internal/cfg"
)

func mustLoad(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := LoadSource("f.go", []byte(src))
	require.NoError(t, err)
	return u
}

func analyze(t *testing.T, u *Unit, exclude *regexp.Regexp) *Result {
	t.Helper()
	res, err := NewAnalyzer(exclude, nil).Analyze(u)
	require.NoError(t, err)
	return res
}

// S1: an if/else, the baseline branching scenario.
func TestS1IfElse(t *testing.T) {
	src := `package p

func F(cond bool) {
	if cond {
		x := 1
		_ = x
	} else {
		y := 2
		_ = y
	}
	z := 3
	_ = z
}
`
	res := analyze(t, mustLoad(t, src), nil)
	assert.Equal(t, []int{4, 5, 6, 8, 9, 11, 12}, res.ExecutableStatements())
	assert.Contains(t, res.Arcs, cfg.Arc{From: 4, To: 5})
	assert.Contains(t, res.Arcs, cfg.Arc{From: 4, To: 8})
}

// S2: a pragma-excluded block.
func TestS2PragmaExcludedBlock(t *testing.T) {
	src := `package p

func F() {
	if false { // no cover
		a := 4
		_ = a
	}
	c := 9
	_ = c
}
`
	res := analyze(t, mustLoad(t, src), regexp.MustCompile("no cover"))
	assert.Equal(t, []int{4, 5, 6, 7}, res.ExcludedLines())
	assert.Equal(t, []int{8, 9}, res.ExecutableStatements())
	for _, l := range res.ExcludedLines() {
		assert.NotContains(t, res.ExecutableStatements(), l)
	}
}

// S3: a multi-line call/expression statement.
func TestS3MultilineStatement(t *testing.T) {
	src := `package p

func F() {
	x := 1 +
		2 +
		3
	_ = x
}
`
	res := analyze(t, mustLoad(t, src), nil)
	assert.Equal(t, []int{4, 7}, res.ExecutableStatements())
	first, last, ok := res.Multiline.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, 4, first)
	assert.Equal(t, 6, last)
	assert.NotContains(t, res.ExecutableStatements(), 5)
	assert.NotContains(t, res.ExecutableStatements(), 6)
}

// S4: a doc-commented function declaration.
func TestS4DocCommentedFunction(t *testing.T) {
	src := `package p

// F does something useful.
func F() {
	return
}
`
	res := analyze(t, mustLoad(t, src), nil)
	assert.Equal(t, []int{5}, res.ExecutableStatements())
	assert.NotContains(t, res.ExecutableStatements(), 3)
}

// S5: a for/break inside a defer-guarded block, standing in for the
// original's try/finally scenario — defer never terminates its block.
func TestS5ForBreakUnderDefer(t *testing.T) {
	src := `package p

func F(items []int) {
	defer cleanup()
	for _, v := range items {
		if v < 0 {
			break
		}
	}
}
`
	res := analyze(t, mustLoad(t, src), nil)
	assert.Equal(t, []int{4, 5, 6, 7}, res.ExecutableStatements())
	assert.Contains(t, res.Arcs, cfg.Arc{From: 4, To: 5}, "defer falls through to the next statement ordinarily")
	assert.Contains(t, res.Arcs, cfg.Arc{From: 6, To: 7}, "if-true branches into the break")
	assert.Contains(t, res.Arcs, cfg.Arc{From: 7, To: cfg.Exit}, "break exits the function directly")
	assert.Contains(t, res.Arcs, cfg.Arc{From: 6, To: 5}, "if-false loops back to the range header")
}

// S6: nested closures — a closure literal embedded inside another
// multi-line statement must keep its own statement-start line rather
// than being collapsed into the enclosing statement's first line.
func TestS6NestedClosures(t *testing.T) {
	src := `package p

func F() []func() int {
	var fns []func() int
	for i := 0; i < 3; i++ {
		fns = append(fns, func() int {
			return i
		})
	}
	return fns
}
`
	res := analyze(t, mustLoad(t, src), nil)
	assert.Equal(t, []int{4, 5, 6, 7, 10}, res.ExecutableStatements())
	assert.Contains(t, res.Arcs, cfg.Arc{From: 7, To: cfg.Exit}, "the closure's own return must exit independently")
}

// Invariant: excluded lines never overlap the executable set.
func TestInvariantExcludedDisjointFromExecutable(t *testing.T) {
	src := `package p

func F() {
	if false { // no cover
		a := 4
		_ = a
	}
	c := 9
	_ = c
}
`
	res := analyze(t, mustLoad(t, src), regexp.MustCompile("no cover"))
	excluded := toSet(res.ExcludedLines())
	for _, l := range res.ExecutableStatements() {
		assert.NotContains(t, excluded, l)
	}
}

// Invariant: a doc comment's lines never appear in the executable set.
func TestInvariantDocstringsDisjointFromExecutable(t *testing.T) {
	src := `package p

// F does something useful across
// two whole lines.
func F() {
	return
}
`
	res := analyze(t, mustLoad(t, src), nil)
	for _, l := range []int{3, 4} {
		assert.NotContains(t, res.ExecutableStatements(), l)
	}
}

// Invariant: every executable line is the first line of its own span.
func TestInvariantExecutableLinesAreSpanStarts(t *testing.T) {
	src := `package p

func F() {
	x := 1 +
		2
	_ = x
}
`
	res := analyze(t, mustLoad(t, src), nil)
	for _, l := range res.ExecutableStatements() {
		first := res.Multiline.FirstLine(l)
		assert.Equal(t, l, first, "executable line %d is not the first line of its span", l)
	}
}

// Invariant: every arc's endpoints are executable or the entry/exit
// sentinel, and an arc never has identical endpoints.
func TestInvariantArcEndpointsExecutableOrSentinel(t *testing.T) {
	src := `package p

func F(cond bool) {
	for i := 0; i < 3; i++ {
		if cond {
			break
		}
	}
	done := true
	_ = done
}
`
	res := analyze(t, mustLoad(t, src), nil)
	exec := toSet(res.ExecutableStatements())
	for _, a := range res.ArcPossibilities() {
		assert.NotEqual(t, a.From, a.To)
		if a.From != cfg.Exit {
			assert.Contains(t, exec, a.From)
		}
		if a.To != cfg.Exit {
			assert.Contains(t, exec, a.To)
		}
	}
}

// Invariant: a non-empty function always has at least one entry arc
// from the sentinel.
func TestInvariantNonEmptyEntryArcSet(t *testing.T) {
	src := `package p

func F() {
	x := 1
	_ = x
}
`
	res := analyze(t, mustLoad(t, src), nil)
	hasEntry := false
	for _, a := range res.ArcPossibilities() {
		if a.From == cfg.Exit {
			hasEntry = true
			break
		}
	}
	assert.True(t, hasEntry)
}

// Invariant: MissingFormatted/ParseMissingFormatted round-trip losslessly.
func TestInvariantMissingFormattedRoundTrip(t *testing.T) {
	cases := [][]int{
		nil,
		{4},
		{4, 5, 6, 9, 12, 13, 14},
		{1, 3, 5, 7},
	}
	for _, missing := range cases {
		formatted := MissingFormatted(missing)
		parsed, err := ParseMissingFormatted(formatted)
		require.NoError(t, err)
		if len(missing) == 0 {
			assert.Empty(t, parsed)
			continue
		}
		assert.Equal(t, missing, parsed)
	}
}

// Invariant: repeated Analyze calls for the same content are idempotent
// (and served from the per-Analyzer cache).
func TestInvariantAnalyzeIdempotent(t *testing.T) {
	src := `package p

func F() {
	x := 1
	_ = x
}
`
	u := mustLoad(t, src)
	an := NewAnalyzer(nil, nil)
	first, err := an.Analyze(u)
	require.NoError(t, err)
	second, err := an.Analyze(u)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, first.ExecutableStatements(), second.ExecutableStatements())
}

func TestLoadSourceCouldNotParse(t *testing.T) {
	_, err := LoadSource("f.go", []byte("package p\nfunc ( {\n"))
	require.Error(t, err)
	var parseErr *ErrCouldNotParse
	require.ErrorAs(t, err, &parseErr)
}

func TestLoadNoSourceForMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/does-not-exist.go")
	require.Error(t, err)
	var noSource *ErrNoSource
	require.ErrorAs(t, err, &noSource)
}
