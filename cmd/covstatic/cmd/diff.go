package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/covstatic/internal/cfg"
	"github.com/wharflab/covstatic/internal/config"
	"github.com/wharflab/covstatic/internal/coverage"
	"github.com/wharflab/covstatic/internal/diag"
	"github.com/wharflab/covstatic/internal/execdata"
	"github.com/wharflab/covstatic/internal/fanout"
	"github.com/wharflab/covstatic/internal/report"

	"github.com/sirupsen/logrus"
)

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Diff statically predicted coverage against a runtime execution record",
		ArgsUsage: "[PATH...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: auto-discover)",
			},
			&cli.StringFlag{
				Name:     "exec-data",
				Usage:    "Path to a JSON execution record produced by a runtime tracer",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "exclude",
				Usage:   "Regular expression matching lines to exclude from coverage",
				Sources: cli.EnvVars("COVSTATIC_EXCLUDE"),
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, sarif",
				Sources: cli.EnvVars("COVSTATIC_OUTPUT_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Path for the SARIF report: stdout, stderr, or a file path",
				Sources: cli.EnvVars("COVSTATIC_OUTPUT_PATH"),
			},
			&cli.FloatFlag{
				Name:  "fail-under",
				Usage: "Minimum statement-coverage percentage (0 disables the check)",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfgFile, err := loadConfig(cmd, diffOverrides(cmd))
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error loading config:", err)
				return cli.Exit("", ExitConfigError)
			}

			raw, err := os.ReadFile(cmd.String("exec-data"))
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error reading execution record:", err)
				return cli.Exit("", ExitConfigError)
			}
			record, err := execdata.Unmarshal(raw)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error parsing execution record:", err)
				return cli.Exit("", ExitConfigError)
			}

			paths, err := resolvePaths(cmd.Args().Slice(), cfgFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return cli.Exit("", ExitConfigError)
			}
			if len(paths) == 0 {
				fmt.Fprintln(os.Stderr, "Error: no Go files matched")
				return cli.Exit("", ExitNoFiles)
			}

			exclude, err := compileExclude(cfgFile.Exclude)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error: invalid --exclude pattern:", err)
				return cli.Exit("", ExitConfigError)
			}

			log := logrus.New()
			sink := diag.NewSink(log)
			analyzer := coverage.NewAnalyzer(exclude, sink)

			results := fanout.AnalyzeAll(analyzer, paths)

			var findings []report.FileFinding
			var totalStatements, totalMissing int
			hadErr := false
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "Error analyzing %s: %v\n", r.Path, r.Err)
					hadErr = true
					continue
				}
				canonical := canonicalPath(r.Path)
				executed := record.Lines[canonical]
				missing := r.Result.Missing(executed)
				executedArcs := record.Arcs[canonical]
				missingArcs := r.Result.ArcsMissing(executedArcs)
				unpredicted := r.Result.ArcsUnpredicted(executedArcs)

				totalStatements += len(r.Result.ExecutableStatements())
				totalMissing += len(missing)

				printDiff(os.Stdout, r.Path, missing, missingArcs, unpredicted)
				findings = append(findings, report.FileFinding{
					Path:         r.Path,
					MissingLines: missing,
					MissingArcs:  missingArcs,
				})
			}

			if cfgFile.Output.Format == "sarif" {
				w, closeFn, err := openOutput(cfgFile.Output.Path)
				if err != nil {
					fmt.Fprintln(os.Stderr, "Error opening output:", err)
					return cli.Exit("", ExitConfigError)
				}
				defer closeFn()
				reporter := report.NewSARIFReporter(w, "covstatic", cmd.Root().Version, "")
				if err := reporter.Report(findings); err != nil {
					fmt.Fprintln(os.Stderr, "Error writing SARIF report:", err)
					return cli.Exit("", ExitConfigError)
				}
			}

			if sink.Count() > 0 {
				fmt.Fprintf(os.Stderr, "%d diagnostic(s):\n%s\n", sink.Count(), sink.String())
			}
			if hadErr {
				return cli.Exit("", ExitConfigError)
			}
			if cfgFile.FailUnder > 0 && totalStatements > 0 {
				pct := 100 * float64(totalStatements-totalMissing) / float64(totalStatements)
				if pct < cfgFile.FailUnder {
					fmt.Fprintf(os.Stderr, "coverage %.1f%% is below fail-under threshold %.1f%%\n", pct, cfgFile.FailUnder)
					return cli.Exit("", ExitBelowFloor)
				}
			}
			return nil
		},
	}
}

func printDiff(w *os.File, path string, missing []int, missingArcs, unpredicted []cfg.Arc) {
	fmt.Fprintf(w, "%s\n", path)
	if len(missing) == 0 {
		fmt.Fprintf(w, "  missing:    (none)\n")
	} else {
		fmt.Fprintf(w, "  missing:    %s\n", coverage.MissingFormatted(missing))
	}
	fmt.Fprintf(w, "  arcs:       %d missing\n", len(missingArcs))
	if len(unpredicted) > 0 {
		fmt.Fprintf(w, "  unpredicted arcs: %d\n", len(unpredicted))
	}
}

// diffOverrides builds a config-shaped overrides map from whichever of
// diffCommand's flags were explicitly set, the same precedence-on-top
// role analyzeOverrides plays for the analyze command.
func diffOverrides(cmd *cli.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.IsSet("exclude") {
		overrides["exclude"] = cmd.String("exclude")
	}
	if cmd.IsSet("fail-under") {
		overrides["fail-under"] = cmd.Float("fail-under")
	}
	output := map[string]any{}
	if cmd.IsSet("format") {
		output["format"] = cmd.String("format")
	}
	if cmd.IsSet("output") {
		output["path"] = cmd.String("output")
	}
	if len(output) > 0 {
		overrides["output"] = output
	}
	return overrides
}

// canonicalPath normalizes a path the same way a runtime execution
// record's keys are expected to be normalized: absolute, OS-native
// separators.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
