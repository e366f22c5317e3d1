package cfg

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFunc(t *testing.T, src string) (*token.FileSet, *ast.BlockStmt) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "f.go", "package p\n"+src, 0)
	require.NoError(t, err)
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			return fset, fd.Body
		}
	}
	t.Fatal("no function declaration found")
	return nil, nil
}

func assertArcs(t *testing.T, got map[Arc]struct{}, want []Arc) {
	t.Helper()
	wantSet := make(map[Arc]struct{}, len(want))
	for _, a := range want {
		wantSet[a] = struct{}{}
	}
	assert.Equal(t, wantSet, got)
}

func TestBuildLinearSequence(t *testing.T) {
	fset, body := parseFunc(t, `
func F() {
	x := 1
	y := 2
	_ = x
	_ = y
}
`)
	res := Build(fset, body, nil)
	// lines: 3 func header, 4 x:=1, 5 y:=2, 6 _=x, 7 _=y
	assertArcs(t, res.Arcs, []Arc{
		{From: Exit, To: 4},
		{From: 4, To: 5},
		{From: 5, To: 6},
		{From: 6, To: 7},
		{From: 7, To: Exit},
	})
}

func TestBuildIfElse(t *testing.T) {
	fset, body := parseFunc(t, `
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
`)
	res := Build(fset, body, nil)
	// lines: 4 if, 5 x:=1, 6 _=x, 8 y:=2, 9 _=y, 11 z:=3, 12 _=z
	assertArcs(t, res.Arcs, []Arc{
		{From: Exit, To: 4},
		{From: 4, To: 5},
		{From: 4, To: 8},
		{From: 5, To: 6},
		{From: 6, To: 11},
		{From: 8, To: 9},
		{From: 9, To: 11},
		{From: 11, To: 12},
		{From: 12, To: Exit},
	})
}

func TestBuildIfNoElseFallsThrough(t *testing.T) {
	fset, body := parseFunc(t, `
func F(cond bool) {
	if cond {
		x := 1
		_ = x
	}
	y := 2
	_ = y
}
`)
	res := Build(fset, body, nil)
	// lines: 4 if, 5 x:=1, 6 _=x, 8 y:=2, 9 _=y
	assertArcs(t, res.Arcs, []Arc{
		{From: Exit, To: 4},
		{From: 4, To: 5},
		{From: 4, To: 8},
		{From: 5, To: 6},
		{From: 6, To: 8},
		{From: 8, To: 9},
		{From: 9, To: Exit},
	})
}

func TestBuildForLoopBreakContinue(t *testing.T) {
	fset, body := parseFunc(t, `
func F(items []int) {
	for _, v := range items {
		if v == 0 {
			continue
		}
		if v < 0 {
			break
		}
		_ = v
	}
	done := true
	_ = done
}
`)
	res := Build(fset, body, nil)

	// The range header (line 4) loops back into itself via the body's
	// fall-through and continue paths, and exits to line 13 ("done :=
	// true") on loop completion or break.
	assert.Contains(t, res.Arcs, Arc{From: Exit, To: 4})
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 5})
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 13})
	// continue (line 6) jumps back to the range header
	assert.Contains(t, res.Arcs, Arc{From: 6, To: 4})
	// break (line 9) exits the loop to the statement after it
	assert.Contains(t, res.Arcs, Arc{From: 9, To: 13})
	// falling off the body's last statement (line 11) also loops back
	assert.Contains(t, res.Arcs, Arc{From: 11, To: 4})
	for a := range res.Arcs {
		assert.NotEqual(t, a.From, a.To, "self-loop arc %v must not be emitted", a)
	}
}

func TestBuildSwitchFallthrough(t *testing.T) {
	fset, body := parseFunc(t, `
func F(n int) {
	switch n {
	case 1:
		a := 1
		_ = a
		fallthrough
	case 2:
		b := 2
		_ = b
	default:
		c := 3
		_ = c
	}
	done := true
	_ = done
}
`)
	res := Build(fset, body, nil)
	// lines: 4 switch, 6 a:=1, 7 _=a, 8 fallthrough, 10 b:=2, 11 _=b,
	// 13 c:=3, 14 _=c, 16 done:=true
	assert.Contains(t, res.Arcs, Arc{From: 8, To: 10}, "fallthrough jumps straight into case 2's body")
	assert.Contains(t, res.Arcs, Arc{From: 10, To: 11})
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 6})
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 10})
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 13})
	// a default clause is present, so the header never falls straight
	// through to the line after the switch.
	assert.NotContains(t, res.Arcs, Arc{From: 4, To: 16})
}

func TestBuildSwitchNoDefaultFallsThrough(t *testing.T) {
	fset, body := parseFunc(t, `
func F(n int) {
	switch n {
	case 1:
		a := 1
		_ = a
	}
	done := true
	_ = done
}
`)
	res := Build(fset, body, nil)
	// lines: 4 switch, 6 a:=1, 7 _=a, 9 done:=true
	assert.Contains(t, res.Arcs, Arc{From: 4, To: 9}, "no default clause means the header can fall through past the switch")
}

func TestBuildGotoBackward(t *testing.T) {
	fset, body := parseFunc(t, `
func F(n int) bool {
loop:
	if n == 0 {
		return true
	}
	n--
	goto loop
}
`)
	res := Build(fset, body, nil)
	// goto (line 9) must resolve to the labeled if-statement's own block (line 5).
	assert.Contains(t, res.Arcs, Arc{From: 9, To: 5})
	assert.Contains(t, res.Arcs, Arc{From: 8, To: 9})
	assert.Contains(t, res.Arcs, Arc{From: 5, To: 6})
}

func TestBuildPanicExitsFunction(t *testing.T) {
	fset, body := parseFunc(t, `
func F() {
	panic("boom")
}
`)
	res := Build(fset, body, nil)
	assertArcs(t, res.Arcs, []Arc{
		{From: Exit, To: 4},
		{From: 4, To: Exit},
	})
}

func TestBuildEmptyBodyNoSelfLoop(t *testing.T) {
	// An empty body never reaches a real statement, so buildList leaves
	// entry == Exit; the entry-arc loop must not emit Arc{Exit, Exit}.
	fset, body := parseFunc(t, `
func F() {
}
`)
	res := Build(fset, body, nil)
	assertArcs(t, res.Arcs, nil)
	for a := range res.Arcs {
		assert.NotEqual(t, a.From, a.To)
	}
}

func TestBuildUnknownNodeCallback(t *testing.T) {
	// go/ast has no statement kind this builder fails to classify when
	// reached through the normal buildStmt dispatch (CaseClause and
	// CommClause, the only two kinds unknownKind names, are consumed
	// directly by buildSwitchLike and never handed to buildStmt). This
	// pins that onUnknown stays silent for ordinary, well-formed source.
	fset, body := parseFunc(t, `
func F() {
	x := 1
	_ = x
}
`)
	called := false
	Build(fset, body, func(line int, kind string) { called = true })
	assert.False(t, called)
}

func TestSelfLoopsNeverEmitted(t *testing.T) {
	fset, body := parseFunc(t, `
func F() {
	for {
		x := 1
		_ = x
		break
	}
}
`)
	res := Build(fset, body, nil)
	for a := range res.Arcs {
		assert.NotEqual(t, a.From, a.To, "self-loop arc %v must not be emitted", a)
	}
}
