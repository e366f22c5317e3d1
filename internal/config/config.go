// Package config provides configuration loading and discovery for
// covstatic, following the same cascading-discovery + koanf-layered
// idiom the teacher used for Dockerfile-lint configuration, carried
// over unchanged as ambient stack and re-scoped to this analyzer's
// much smaller surface: an exclusion regex, file-discovery globs,
// output format, and a fail-on-missing threshold.
//
// Priority (highest to lowest):
//  1. Overrides passed to LoadWithOverrides (the CLI's explicit flags)
//  2. Environment variables (COVSTATIC_* prefix)
//  3. Config file (closest .covstatic.toml or covstatic.toml)
//  4. Built-in defaults
package config

import (
	jsonv2 "encoding/json/v2"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gjsonschema "github.com/google/jsonschema-go/jsonschema"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigFileNames defines the config file names to search for, in
// priority order.
var ConfigFileNames = []string{".covstatic.toml", "covstatic.toml"}

// EnvPrefix is the prefix for environment variables.
const EnvPrefix = "COVSTATIC_"

// Config is covstatic's complete configuration.
type Config struct {
	// Exclude is the exclusion regex matched against raw source lines
	// (spec §4.2's pragma pre-scan). Empty means no lines are excluded.
	Exclude string `koanf:"exclude"`

	// Include lists doublestar glob patterns resolved against the
	// working directory to discover files for `covstatic analyze`/`diff`
	// when no explicit paths are given on the command line.
	Include []string `koanf:"include"`

	// Output configures how results are rendered.
	Output OutputConfig `koanf:"output"`

	// FailUnder sets the minimum statement-coverage percentage
	// (0 disables the threshold) below which the CLI exits non-zero.
	FailUnder float64 `koanf:"fail-under"`

	// ConfigFile is the path to the config file that was loaded (if
	// any). Metadata, not itself loaded from config.
	ConfigFile string `koanf:"-"`
}

// OutputConfig configures output formatting and behavior.
type OutputConfig struct {
	// Format specifies the output format: "text", "sarif", "json".
	// The diff command always prints its text summary to stdout and,
	// for "sarif", also writes a SARIF report; "json" passes schema
	// validation but produces no JSON output.
	Format string `koanf:"format"`

	// Path specifies where the diff command writes its SARIF report:
	// "stdout", "stderr", or a file path. Text output always goes to
	// stdout.
	Path string `koanf:"path"`

	// Color controls ANSI color in text output: "auto", "always",
	// "never". "auto" detects a TTY on stdout (colorEnabled in
	// cmd/covstatic/cmd).
	Color string `koanf:"color"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Exclude: "",
		Include: []string{"**/*.go"},
		Output: OutputConfig{
			Format: "text",
			Path:   "stdout",
			Color:  "auto",
		},
		FailUnder: 0,
	}
}

// rootSchemaJSON is the hand-written JSON Schema covering Config's
// shape, parsed and resolved once at package init. The Dockerfile
// linter loads its schemas from embedded files because it has dozens
// of per-rule schemas to route between; covstatic has exactly one, so
// it lives inline rather than as a separate embedded asset.
const rootSchemaJSON = `{
	"type": "object",
	"properties": {
		"exclude": {"type": "string"},
		"include": {"type": "array", "items": {"type": "string"}},
		"fail-under": {"type": "number", "minimum": 0, "maximum": 100},
		"output": {
			"type": "object",
			"properties": {
				"format": {"type": "string", "enum": ["text", "sarif", "json"]},
				"path": {"type": "string"},
				"color": {"type": "string", "enum": ["auto", "always", "never"]}
			}
		}
	}
}`

// rootResolved is built once from rootSchemaJSON and used to validate
// decoded configuration before it reaches the rest of the program
// (teacher precedent: internal/schemas/runtime validated the
// equivalent koanf-decoded map for the Dockerfile linter, by parsing a
// gjsonschema.Schema and calling CloneSchemas().Resolve before
// Validate; covstatic follows the same sequence against a single
// inline schema instead of an embedded-file set).
var rootResolved = mustResolveRootSchema()

func mustResolveRootSchema() *gjsonschema.Resolved {
	var schema gjsonschema.Schema
	if err := jsonv2.Unmarshal([]byte(rootSchemaJSON), &schema); err != nil {
		panic(fmt.Sprintf("config: parse root schema: %v", err))
	}
	resolved, err := schema.CloneSchemas().Resolve(&gjsonschema.ResolveOptions{
		BaseURI: "covstatic://config",
	})
	if err != nil {
		panic(fmt.Sprintf("config: resolve root schema: %v", err))
	}
	return resolved
}

func validate(raw map[string]any) error {
	jsonValue, err := toJSONValue(raw)
	if err != nil {
		return fmt.Errorf("convert config to JSON value: %w", err)
	}
	if err := rootResolved.Validate(jsonValue); err != nil {
		return fmt.Errorf("config schema validation failed: %w", err)
	}
	return nil
}

func toJSONValue(value any) (any, error) {
	data, err := jsonv2.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := jsonv2.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Load discovers the closest config file starting from targetPath's
// directory, loads it layered under defaults, and applies environment
// overrides.
func Load(targetPath string) (*Config, error) {
	return LoadFromFile(Discover(targetPath))
}

// LoadFromFile loads configuration from a specific config file path
// (or no file at all, if configPath is empty), skipping discovery.
func LoadFromFile(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides layers configuration the same way LoadFromFile does
// (defaults, then configPath's file, then COVSTATIC_* env vars) and
// then applies overrides on top of all of it, at the highest
// precedence. overrides uses the same nested shape as the TOML config
// file (e.g. map[string]any{"output": map[string]any{"format":
// "sarif"}}) — the CLI layer uses this to let explicit flags win over
// file and environment configuration.
func LoadWithOverrides(configPath string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{Prefix: EnvPrefix, TransformFunc: envKeyTransform}), nil); err != nil {
		return nil, err
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, ""), nil); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := validate(rawFor(cfg)); err != nil {
		return nil, err
	}

	cfg.ConfigFile = configPath
	return cfg, nil
}

// rawFor re-decodes cfg through koanf's struct provider so the
// jsonschema validator sees the same key shape rootSchemaJSON describes.
func rawFor(cfg *Config) map[string]any {
	k := koanf.New(".")
	_ = k.Load(structs.Provider(cfg, "koanf"), nil)
	return k.Raw()
}

// envKeyTransform converts environment variable names to config keys.
// COVSTATIC_FAIL_UNDER -> fail-under
// COVSTATIC_OUTPUT_FORMAT -> output.format
func envKeyTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", ".")
	for pattern, replacement := range knownHyphenatedKeys {
		s = strings.ReplaceAll(s, pattern, replacement)
	}
	return s
}

var knownHyphenatedKeys = map[string]string{
	"fail.under": "fail-under",
}

// Discover finds the closest config file for a target file path,
// walking up the directory tree from the target's directory.
func Discover(targetPath string) string {
	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return ""
	}

	dir := filepath.Dir(absPath)
	for {
		for _, name := range ConfigFileNames {
			configPath := filepath.Join(dir, name)
			if fileExists(configPath) {
				return configPath
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
