// Package fanout resolves a glob pattern to a set of Go source files
// and analyzes them over a bounded worker pool (spec §5: multiple
// CodeUnits may be analyzed concurrently as long as each goroutine owns
// its own Unit and result sets, with no shared mutable state across
// units). Discovery itself — resolving "**/*.go" style patterns — is
// the minimal surface a runnable CLI needs; full module/plugin
// discovery remains out of scope per spec §1.
package fanout

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wharflab/covstatic/internal/coverage"
)

// Discover resolves pattern (a doublestar glob, e.g. "**/*.go") rooted
// at root to a sorted list of matching file paths.
func Discover(root, pattern string) ([]string, error) {
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(root, m)
	}
	sort.Strings(out)
	return out, nil
}

// FileResult pairs one discovered path with its analysis outcome.
type FileResult struct {
	Path   string
	Result *coverage.Result
	Err    error
}

// AnalyzeAll fans paths out over a bounded pool of workers (capped at
// GOMAXPROCS, matching the teacher's sizing convention for CPU-bound
// fan-out) and returns one FileResult per input path, in input order.
// Each worker owns its own Unit and result set; the Analyzer's cache is
// the only shared state, and it is internally synchronized.
func AnalyzeAll(a *coverage.Analyzer, paths []string) []FileResult {
	results := make([]FileResult, len(paths))
	jobs := make(chan int)
	workers := runtime.GOMAXPROCS(0)
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers < 1 {
		workers = 1
	}

	done := make(chan struct{})
	for range workers {
		go func() {
			for i := range jobs {
				path := paths[i]
				unit, err := coverage.Load(path)
				if err != nil {
					results[i] = FileResult{Path: path, Err: err}
					continue
				}
				res, err := a.Analyze(unit)
				results[i] = FileResult{Path: path, Result: res, Err: err}
			}
			done <- struct{}{}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	for range workers {
		<-done
	}
	return results
}
