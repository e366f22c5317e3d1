package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/wharflab/covstatic/internal/config"
	"github.com/wharflab/covstatic/internal/coverage"
	"github.com/wharflab/covstatic/internal/diag"
	"github.com/wharflab/covstatic/internal/fanout"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Print executable statements, excluded lines, and arcs for Go source",
		ArgsUsage: "[PATH...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: auto-discover)",
			},
			&cli.StringFlag{
				Name:    "exclude",
				Usage:   "Regular expression matching lines to exclude from coverage",
				Sources: cli.EnvVars("COVSTATIC_EXCLUDE"),
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored text output",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, analyzeOverrides(cmd))
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error loading config:", err)
				return cli.Exit("", ExitConfigError)
			}

			paths, err := resolvePaths(cmd.Args().Slice(), cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return cli.Exit("", ExitConfigError)
			}
			if len(paths) == 0 {
				fmt.Fprintln(os.Stderr, "Error: no Go files matched")
				return cli.Exit("", ExitNoFiles)
			}

			exclude, err := compileExclude(cfg.Exclude)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error: invalid --exclude pattern:", err)
				return cli.Exit("", ExitConfigError)
			}

			log := logrus.New()
			sink := diag.NewSink(log)
			analyzer := coverage.NewAnalyzer(exclude, sink)

			results := fanout.AnalyzeAll(analyzer, paths)

			hadErr := false
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "Error analyzing %s: %v\n", r.Path, r.Err)
					hadErr = true
					continue
				}
				printResult(os.Stdout, r.Path, r.Result, colorEnabled(cfg))
			}

			if sink.Count() > 0 {
				fmt.Fprintf(os.Stderr, "%d diagnostic(s):\n%s\n", sink.Count(), sink.String())
			}
			if hadErr {
				return cli.Exit("", ExitConfigError)
			}
			return nil
		},
	}
}

func printResult(w *os.File, path string, res *coverage.Result, color bool) {
	bold := func(s string) string { return s }
	if color {
		bold = func(s string) string { return "\x1b[1m" + s + "\x1b[0m" }
	}
	fmt.Fprintf(w, "%s\n", bold(path))
	fmt.Fprintf(w, "  executable: %s\n", coverage.MissingFormatted(res.ExecutableStatements()))
	if len(res.ExcludedLines()) > 0 {
		fmt.Fprintf(w, "  excluded:   %s\n", coverage.MissingFormatted(res.ExcludedLines()))
	}
	fmt.Fprintf(w, "  arcs:       %d possible\n", len(res.ArcPossibilities()))
}

// loadConfig discovers (or reads, if --config was given) the config
// file for cmd's target path and layers overrides on top of it at the
// highest precedence, the same way the teacher's LSP integration layers
// editor settings over filesystem config (internal/config/overrides.go)
// — here the "editor" is the CLI's own flags.
func loadConfig(cmd *cli.Command, overrides map[string]any) (*config.Config, error) {
	configPath := cmd.String("config")
	if configPath == "" {
		target := "."
		if cmd.Args().Len() > 0 {
			target = cmd.Args().First()
		}
		configPath = config.Discover(target)
	}
	return config.LoadWithOverrides(configPath, overrides)
}

// analyzeOverrides builds a config-shaped overrides map from whichever
// of analyzeCommand's flags were explicitly set.
func analyzeOverrides(cmd *cli.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.IsSet("exclude") {
		overrides["exclude"] = cmd.String("exclude")
	}
	if cmd.IsSet("no-color") && cmd.Bool("no-color") {
		overrides["output"] = map[string]any{"color": "never"}
	}
	return overrides
}

func compileExclude(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// resolvePaths resolves explicit file/directory arguments, or falls
// back to the config's include globs rooted at the working directory
// when none are given.
func resolvePaths(args []string, cfg *config.Config) ([]string, error) {
	if len(args) > 0 {
		var out []string
		for _, a := range args {
			info, err := os.Stat(a)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				out = append(out, a)
				continue
			}
			for _, pattern := range cfg.Include {
				matches, err := fanout.Discover(a, pattern)
				if err != nil {
					return nil, err
				}
				out = append(out, matches...)
			}
		}
		return out, nil
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, pattern := range cfg.Include {
		matches, err := fanout.Discover(root, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func openOutput(path string) (*os.File, func(), error) {
	switch path {
	case "", "stdout":
		return os.Stdout, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	default:
		f, err := os.Create(filepath.Clean(path))
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
}

// colorEnabled resolves the already-overrides-merged config's color
// preference; "auto" defers to whether stdout is a terminal.
func colorEnabled(cfg *config.Config) bool {
	switch cfg.Output.Color {
	case "always":
		return true
	case "never":
		return false
	default:
		return isatty.IsTerminal(os.Stdout.Fd())
	}
}
