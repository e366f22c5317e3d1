// Package testutil provides test helpers shared across covstatic's
// package-level test suites: building analyzer Units from in-memory Go
// source without touching the filesystem, and asserting on the
// resulting statement/arc sets.
package testutil

import (
	"sort"
	"testing"

	"github.com/wharflab/covstatic/internal/cfg"
	"github.com/wharflab/covstatic/internal/coverage"
)

// BuildUnit parses src as an in-memory Go file named path and returns
// the resulting Unit, failing the test on any parse error.
func BuildUnit(tb testing.TB, path, src string) *coverage.Unit {
	tb.Helper()
	u, err := coverage.LoadSource(path, []byte(src))
	if err != nil {
		tb.Fatalf("parse %s: %v", path, err)
	}
	return u
}

// Analyze is a one-shot helper: build a fresh Analyzer (no exclusion
// regex, no diagnostics sink) and analyze src in one call.
func Analyze(tb testing.TB, path, src string) *coverage.Result {
	tb.Helper()
	u := BuildUnit(tb, path, src)
	res, err := coverage.NewAnalyzer(nil, nil).Analyze(u)
	if err != nil {
		tb.Fatalf("analyze %s: %v", path, err)
	}
	return res
}

// AssertIntSet fails the test if got and want don't contain the same
// line numbers, independent of order.
func AssertIntSet(tb testing.TB, what string, got, want []int) {
	tb.Helper()
	g := append([]int(nil), got...)
	w := append([]int(nil), want...)
	sort.Ints(g)
	sort.Ints(w)
	if !equalInts(g, w) {
		tb.Errorf("%s = %v, want %v", what, g, w)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AssertArcSet fails the test unless want is exactly the set of arcs
// present in got (extras and omissions are both reported).
func AssertArcSet(tb testing.TB, got map[cfg.Arc]struct{}, want []cfg.Arc) {
	tb.Helper()
	wantSet := make(map[cfg.Arc]struct{}, len(want))
	for _, a := range want {
		wantSet[a] = struct{}{}
	}
	for a := range wantSet {
		if _, ok := got[a]; !ok {
			tb.Errorf("missing expected arc %v", a)
		}
	}
	for a := range got {
		if _, ok := wantSet[a]; !ok {
			tb.Errorf("unexpected arc %v", a)
		}
	}
}
