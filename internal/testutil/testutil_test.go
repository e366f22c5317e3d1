package testutil

import (
	"testing"

	"github.com/wharflab/covstatic/internal/cfg"
)

const sample = `package p

func F() {
	x := 1
	if x == 1 {
		x = 2
	}
}
`

func TestBuildUnit(t *testing.T) {
	u := BuildUnit(t, "sample.go", sample)
	if u.File == nil {
		t.Fatal("File is nil")
	}
	if u.Identity == "" {
		t.Error("Identity is empty")
	}
}

func TestAnalyze(t *testing.T) {
	res := Analyze(t, "sample.go", sample)
	AssertIntSet(t, "statements", res.ExecutableStatements(), []int{4, 5, 6})
}

func TestAssertIntSetOrderIndependent(t *testing.T) {
	AssertIntSet(t, "x", []int{3, 1, 2}, []int{1, 2, 3})
}

func TestAssertArcSet(t *testing.T) {
	got := map[cfg.Arc]struct{}{
		{From: 1, To: 2}: {},
		{From: 2, To: -1}: {},
	}
	AssertArcSet(t, got, []cfg.Arc{{From: 1, To: 2}, {From: 2, To: -1}})
}
