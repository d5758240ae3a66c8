package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pathwatch/internal/schema"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	file, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !file.Watch.Persistent || !file.Watch.FollowSymlinks {
		t.Fatal("expected persistent and follow-symlinks by default")
	}
	if file.Watch.Depth != -1 {
		t.Fatalf("expected unlimited depth, got %d", file.Watch.Depth)
	}
	if file.Watch.Atomic != nil {
		t.Fatal("expected atomic to be left to the watcher default")
	}
	if file.Watch.Coalesce.Std() != 50*time.Millisecond {
		t.Fatalf("unexpected coalesce %s", file.Watch.Coalesce)
	}
	if file.Log.Level != "info" || file.Server.History != 256 {
		t.Fatalf("unexpected log/server defaults %+v %+v", file.Log, file.Server)
	}
	if file.Source != "" {
		t.Fatalf("expected no source, got %q", file.Source)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	file, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Source != "" || file.Log.Level != "info" {
		t.Fatalf("expected defaults, got %+v", file)
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	path := writeConfig(t, "pathwatch.toml", `
[watch]
paths = ["src", "!src/gen"]
depth = 2
atomic = "250ms"
ignore_initial = true
cwd = "project"

[[watch.swap-patterns]]
pattern = "*.bak"
marker = ".bak"
`)
	file, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(file.Watch.Paths, ",") != "src,!src/gen" {
		t.Fatalf("unexpected paths %v", file.Watch.Paths)
	}
	if file.Watch.Depth != 2 || !file.Watch.IgnoreInitial {
		t.Fatalf("unexpected watch section %+v", file.Watch)
	}
	if file.Watch.Atomic == nil || file.Watch.Atomic.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected atomic %v", file.Watch.Atomic)
	}
	if want := filepath.Join(filepath.Dir(path), "project"); file.Watch.Cwd != want {
		t.Fatalf("expected cwd relative to the config file %q, got %q", want, file.Watch.Cwd)
	}
	if len(file.Watch.SwapPatterns) != 1 || file.Watch.SwapPatterns[0].Marker != ".bak" {
		t.Fatalf("unexpected swap patterns %+v", file.Watch.SwapPatterns)
	}
	if !file.Watch.Persistent {
		t.Fatal("expected unset keys to keep their defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	path := writeConfig(t, "pathwatch.yaml", `
watch:
  paths: [docs]
  use-polling: true
  interval: 500
log:
  level: debug
`)
	file, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !file.Watch.UsePolling || file.Watch.Interval.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected polling settings %+v", file.Watch)
	}
	if file.Log.Level != "debug" || file.Source != path {
		t.Fatalf("unexpected log section %+v", file.Log)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "pathwatch.toml", "[watch]\ndpeth = 3\n")
	_, err := Load(path, nil)
	var validation *schema.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Path != "watch.dpeth" {
		t.Fatalf("expected error at watch.dpeth, got %q", validation.Path)
	}
}

func TestLoadLocatesErrorsInsideLists(t *testing.T) {
	path := writeConfig(t, "pathwatch.toml", "[[watch.swap-patterns]]\npattern = 3\n")
	_, err := Load(path, nil)
	var validation *schema.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Path != "watch.swap-patterns[0].pattern" {
		t.Fatalf("expected error at watch.swap-patterns[0].pattern, got %q", validation.Path)
	}
	if validation.Expected != "string" || validation.Actual != "integer" {
		t.Fatalf("expected string/integer mismatch, got %+v", validation)
	}
}

func TestLoadRejectsWrongTypes(t *testing.T) {
	path := writeConfig(t, "pathwatch.toml", "[watch]\npersistent = \"yes\"\n")
	if _, err := Load(path, nil); err == nil || !strings.Contains(err.Error(), "watch.persistent") {
		t.Fatalf("expected type error for watch.persistent, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "pathwatch.toml", "[watch]\ninterval = \"soon\"\n")
	if _, err := Load(path, nil); err == nil || !strings.Contains(err.Error(), "watch.interval") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "pathwatch.toml", "[log]\nlevel = \"warning\"\n")

	t.Setenv(LogLevelEnvVar, "error")
	file, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Log.Level != "error" {
		t.Fatalf("expected environment to beat the file, got %q", file.Log.Level)
	}

	file, err = Load(path, map[string]any{"log.level": "debug", "watch.depth": 0})
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	if file.Log.Level != "debug" || file.Watch.Depth != 0 {
		t.Fatalf("expected overrides to win, got %+v", file)
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "loud")
	_, err := Load("", map[string]any{"watch.depth": -4})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"log.level", "watch.depth"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %s in %v", fragment, err)
		}
	}
}

func TestWatcherOptions(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	file, err := Load("", map[string]any{
		"watch.depth":              3,
		"watch.atomic":             "0s",
		"watch.coalesce":           "0s",
		"watch.await-write-finish": true,
		"watch.ignored":            []string{"**/*.log"},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	options := file.WatcherOptions()
	if options.Depth == nil || *options.Depth != 3 {
		t.Fatalf("unexpected depth %v", options.Depth)
	}
	if options.Atomic == nil || *options.Atomic != 0 {
		t.Fatalf("expected atomic disabled, got %v", options.Atomic)
	}
	if options.Coalesce >= 0 {
		t.Fatalf("expected coalescing disabled, got %s", options.Coalesce)
	}
	if options.AwaitWriteFinish == nil || options.AwaitWriteFinish.StabilityThreshold != 2*time.Second {
		t.Fatalf("unexpected await-write-finish %+v", options.AwaitWriteFinish)
	}
	if len(options.Ignored) != 1 {
		t.Fatalf("expected one ignore rule, got %d", len(options.Ignored))
	}
	if options.SwapPatterns != nil {
		t.Fatal("expected default swap patterns to be left to the watcher")
	}

	unlimited, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if unlimited.WatcherOptions().Depth != nil {
		t.Fatal("expected -1 depth to mean unlimited")
	}
}

func TestSchemaDescribesSections(t *testing.T) {
	payload, err := SchemaJSON()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var document map[string]any
	if err := json.Unmarshal(payload, &document); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	properties, ok := document["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties, got %v", document)
	}
	for _, section := range []string{"watch", "log", "server"} {
		if _, ok := properties[section]; !ok {
			t.Fatalf("expected %s section in schema", section)
		}
	}
	if !strings.Contains(string(payload), "stability-threshold") {
		t.Fatal("expected kebab-case keys in schema")
	}
}
