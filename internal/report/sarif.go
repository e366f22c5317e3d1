// Package report renders analysis results for external consumption.
// Deliberately thin per spec §1 (full reporting front-ends — HTML,
// annotated source, XML — stay out of scope): one SARIF exporter,
// mirroring the teacher's reporter/sarif.go almost mechanically but
// emitting missing-line/missing-arc findings instead of Dockerfile
// rule violations.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/wharflab/covstatic/internal/cfg"
)

// Default SARIF tool information.
const (
	defaultToolName = "covstatic"
	defaultToolURI  = "https://github.com/wharflab/covstatic"

	ruleMissingLine = "missing-line"
	ruleMissingArc  = "missing-arc"
)

// FileFinding is one file's diff against a runtime execution record,
// the façade's Missing/ArcsMissing output re-shaped for rendering.
type FileFinding struct {
	Path         string
	MissingLines []int
	MissingArcs  []cfg.Arc
}

// SARIFReporter formats coverage findings as SARIF (Static Analysis
// Results Interchange Format), widely supported by CI/CD systems
// including GitHub Code Scanning.
//
// See: https://docs.oasis-open.org/sarif/sarif/v2.1.0/
type SARIFReporter struct {
	writer      io.Writer
	toolName    string
	toolVersion string
	toolURI     string
}

// NewSARIFReporter creates a new SARIF reporter.
func NewSARIFReporter(w io.Writer, toolName, toolVersion, toolURI string) *SARIFReporter {
	if toolName == "" {
		toolName = defaultToolName
	}
	if toolURI == "" {
		toolURI = defaultToolURI
	}
	return &SARIFReporter{writer: w, toolName: toolName, toolVersion: toolVersion, toolURI: toolURI}
}

// Report writes one SARIF run covering every file's findings.
func (r *SARIFReporter) Report(findings []FileFinding) error {
	sarifReport := sarif.NewReport()
	run := sarif.NewRunWithInformationURI(r.toolName, r.toolURI)
	if r.toolVersion != "" {
		run.Tool.Driver.WithVersion(r.toolVersion)
	}

	run.AddRule(ruleMissingLine).
		WithShortDescription(sarif.NewMultiformatMessageString().WithText("Executable line never observed in the runtime execution record."))
	run.AddRule(ruleMissingArc).
		WithShortDescription(sarif.NewMultiformatMessageString().WithText("Possible control-flow arc never observed in the runtime execution record."))

	paths := make([]string, 0, len(findings))
	byPath := make(map[string]FileFinding, len(findings))
	for _, f := range findings {
		paths = append(paths, f.Path)
		byPath[f.Path] = f
	}
	sort.Strings(paths)

	for _, path := range paths {
		f := byPath[path]
		filePath := filepath.ToSlash(f.Path)
		run.AddDistinctArtifact(filePath)

		for _, line := range f.MissingLines {
			region := sarif.NewRegion().WithStartLine(line)
			loc := sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewSimpleArtifactLocation(filePath)).
				WithRegion(region)
			result := sarif.NewRuleResult(ruleMissingLine).
				WithMessage(sarif.NewTextMessage(fmt.Sprintf("line %d has no recorded execution", line))).
				WithLevel("warning").
				WithLocations([]*sarif.Location{sarif.NewLocationWithPhysicalLocation(loc)})
			run.AddResult(result)
		}

		for _, arc := range f.MissingArcs {
			startLine := arc.From
			if startLine == cfg.Exit {
				startLine = arc.To
			}
			region := sarif.NewRegion().WithStartLine(startLine)
			loc := sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewSimpleArtifactLocation(filePath)).
				WithRegion(region)
			result := sarif.NewRuleResult(ruleMissingArc).
				WithMessage(sarif.NewTextMessage(fmt.Sprintf("arc (%d -> %d) never taken", arc.From, arc.To))).
				WithLevel("note").
				WithLocations([]*sarif.Location{sarif.NewLocationWithPhysicalLocation(loc)})
			run.AddResult(result)
		}
	}

	sarifReport.AddRun(run)
	return sarifReport.PrettyWrite(r.writer)
}
