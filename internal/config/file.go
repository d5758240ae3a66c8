package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"pathwatch"
	"pathwatch/internal/config/keys"
	"pathwatch/internal/logging"
	"pathwatch/internal/schema"
)

const (
	DefaultsPath   = "config/pathwatch.toml"
	DefaultName    = "pathwatch.toml"
	LogLevelEnvVar = "PATHWATCH_LOG_LEVEL"
)

// File is the on-disk configuration. TOML and YAML share the kebab-case keys.
type File struct {
	Watch  WatchSection  `toml:"watch" yaml:"watch" json:"watch,omitempty"`
	Log    LogSection    `toml:"log" yaml:"log" json:"log,omitempty"`
	Server ServerSection `toml:"server" yaml:"server" json:"server,omitempty"`

	// Source is the file the values were read from, if any.
	Source string `toml:"-" yaml:"-" json:"-"`
}

type WatchSection struct {
	Paths                  []string      `toml:"paths" yaml:"paths" json:"paths,omitempty" jsonschema:"description=Paths and glob patterns; a leading ! excludes"`
	Cwd                    string        `toml:"cwd" yaml:"cwd" json:"cwd,omitempty" jsonschema:"description=Base for relative paths; emitted paths are relative to it when set"`
	Persistent             bool          `toml:"persistent" yaml:"persistent" json:"persistent,omitempty"`
	IgnoreInitial          bool          `toml:"ignore-initial" yaml:"ignore-initial" json:"ignore-initial,omitempty"`
	FollowSymlinks         bool          `toml:"follow-symlinks" yaml:"follow-symlinks" json:"follow-symlinks,omitempty"`
	Depth                  int           `toml:"depth" yaml:"depth" json:"depth,omitempty" jsonschema:"minimum=-1,description=Levels to recurse below each root; -1 is unlimited"`
	Ignored                []string      `toml:"ignored" yaml:"ignored" json:"ignored,omitempty"`
	IgnorePermissionErrors bool          `toml:"ignore-permission-errors" yaml:"ignore-permission-errors" json:"ignore-permission-errors,omitempty"`
	Atomic                 *Duration     `toml:"atomic" yaml:"atomic" json:"atomic,omitempty"`
	DisableGlobbing        bool          `toml:"disable-globbing" yaml:"disable-globbing" json:"disable-globbing,omitempty"`
	UsePolling             bool          `toml:"use-polling" yaml:"use-polling" json:"use-polling,omitempty"`
	Interval               Duration      `toml:"interval" yaml:"interval" json:"interval,omitempty"`
	BinaryInterval         Duration      `toml:"binary-interval" yaml:"binary-interval" json:"binary-interval,omitempty"`
	Coalesce               Duration      `toml:"coalesce" yaml:"coalesce" json:"coalesce,omitempty"`
	AwaitWriteFinish       bool          `toml:"await-write-finish" yaml:"await-write-finish" json:"await-write-finish,omitempty"`
	StabilityThreshold     Duration      `toml:"stability-threshold" yaml:"stability-threshold" json:"stability-threshold,omitempty"`
	PollInterval           Duration      `toml:"poll-interval" yaml:"poll-interval" json:"poll-interval,omitempty"`
	MaxWatches             int           `toml:"max-watches" yaml:"max-watches" json:"max-watches,omitempty" jsonschema:"minimum=0"`
	SwapPatterns           []SwapPattern `toml:"swap-patterns" yaml:"swap-patterns" json:"swap-patterns,omitempty"`
}

type SwapPattern struct {
	Pattern string `toml:"pattern" yaml:"pattern" json:"pattern"`
	Prefix  string `toml:"prefix" yaml:"prefix" json:"prefix,omitempty"`
	Marker  string `toml:"marker" yaml:"marker" json:"marker,omitempty"`
}

type LogSection struct {
	Level     string `toml:"level" yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warning,enum=error"`
	File      string `toml:"file" yaml:"file" json:"file,omitempty"`
	MaxSizeMB int    `toml:"max-size-mb" yaml:"max-size-mb" json:"max-size-mb,omitempty" jsonschema:"minimum=0"`
}

type ServerSection struct {
	Addr    string `toml:"addr" yaml:"addr" json:"addr,omitempty"`
	History int    `toml:"history" yaml:"history" json:"history,omitempty" jsonschema:"minimum=0"`
}

// Load reads path over the embedded defaults. A missing file leaves the
// defaults in place. PATHWATCH_LOG_LEVEL and then overrides are applied last.
func Load(path string, overrides map[string]any) (File, error) {
	defaults, err := fs.ReadFile(pathwatch.EmbeddedConfigFS, DefaultsPath)
	if err != nil {
		return File{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	return LoadWithDefaults(path, defaults, overrides)
}

func LoadWithDefaults(path string, defaultsPayload []byte, overrides map[string]any) (File, error) {
	defaults, err := keys.DecodeTOML(defaultsPayload)
	if err != nil {
		return File{}, fmt.Errorf("decode defaults: %w", err)
	}
	store := defaults
	source := ""

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return File{}, err
		default:
			raw, err := decode(path, payload)
			if err != nil {
				return File{}, fmt.Errorf("%s: %w", path, err)
			}
			if err := schema.Validate(Schema(), raw); err != nil {
				return File{}, fmt.Errorf("%s: %w", path, err)
			}
			store = store.Merge(keys.FromRaw(raw).Flat())
			source = path
		}
	}

	if level := strings.TrimSpace(os.Getenv(LogLevelEnvVar)); level != "" {
		store = store.Merge(map[string]any{"log.level": level})
	}
	store = store.Merge(overrides)

	file, err := fromStore(store)
	if err != nil {
		return File{}, err
	}
	file.Source = source
	if source != "" && file.Watch.Cwd != "" && !filepath.IsAbs(file.Watch.Cwd) {
		file.Watch.Cwd = filepath.Join(filepath.Dir(source), file.Watch.Cwd)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

// decode picks the format from the file extension; anything that is not
// YAML is read as TOML.
func decode(path string, payload []byte) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(payload, &raw); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(payload), &raw); err != nil {
			return nil, err
		}
	}
	return keys.Normalize(raw), nil
}

func fromStore(store keys.Store) (File, error) {
	var file File
	var errs []error
	duration := func(key string) Duration {
		value, _, err := store.GetDuration(key)
		if err != nil {
			errs = append(errs, err)
		}
		return Duration(value)
	}

	file.Watch.Paths = stringsSetting(store, "watch.paths")
	file.Watch.Cwd = stringSetting(store, "watch.cwd", "")
	file.Watch.Persistent = boolSetting(store, "watch.persistent", true)
	file.Watch.IgnoreInitial = boolSetting(store, "watch.ignore-initial", false)
	file.Watch.FollowSymlinks = boolSetting(store, "watch.follow-symlinks", true)
	file.Watch.Depth = int(intSetting(store, "watch.depth", -1))
	file.Watch.Ignored = stringsSetting(store, "watch.ignored")
	file.Watch.IgnorePermissionErrors = boolSetting(store, "watch.ignore-permission-errors", false)
	if store.Has("watch.atomic") {
		atomic := duration("watch.atomic")
		file.Watch.Atomic = &atomic
	}
	file.Watch.DisableGlobbing = boolSetting(store, "watch.disable-globbing", false)
	file.Watch.UsePolling = boolSetting(store, "watch.use-polling", false)
	file.Watch.Interval = duration("watch.interval")
	file.Watch.BinaryInterval = duration("watch.binary-interval")
	file.Watch.Coalesce = duration("watch.coalesce")
	file.Watch.AwaitWriteFinish = boolSetting(store, "watch.await-write-finish", false)
	file.Watch.StabilityThreshold = duration("watch.stability-threshold")
	file.Watch.PollInterval = duration("watch.poll-interval")
	file.Watch.MaxWatches = int(intSetting(store, "watch.max-watches", 0))
	if tables, ok := store.GetTables("watch.swap-patterns"); ok {
		file.Watch.SwapPatterns = make([]SwapPattern, 0, len(tables))
		for _, table := range tables {
			rule := keys.FromRaw(table)
			file.Watch.SwapPatterns = append(file.Watch.SwapPatterns, SwapPattern{
				Pattern: stringSetting(rule, "pattern", ""),
				Prefix:  stringSetting(rule, "prefix", ""),
				Marker:  stringSetting(rule, "marker", ""),
			})
		}
	}

	file.Log.Level = strings.ToLower(stringSetting(store, "log.level", string(logging.LevelInfo)))
	file.Log.File = stringSetting(store, "log.file", "")
	file.Log.MaxSizeMB = int(intSetting(store, "log.max-size-mb", 0))

	file.Server.Addr = stringSetting(store, "server.addr", "")
	file.Server.History = int(intSetting(store, "server.history", 0))

	return file, errors.Join(errs...)
}

// Validate checks values that the file format alone cannot rule out.
func (f File) Validate() error {
	var errs []error
	if _, ok := logging.ParseLevel(f.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", f.Log.Level))
	}
	if f.Watch.Depth < -1 {
		errs = append(errs, fmt.Errorf("watch.depth: must be -1 or greater, got %d", f.Watch.Depth))
	}
	for key, value := range map[string]Duration{
		"watch.interval":            f.Watch.Interval,
		"watch.binary-interval":     f.Watch.BinaryInterval,
		"watch.stability-threshold": f.Watch.StabilityThreshold,
		"watch.poll-interval":       f.Watch.PollInterval,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", key))
		}
	}
	if f.Watch.MaxWatches < 0 {
		errs = append(errs, fmt.Errorf("watch.max-watches: must not be negative"))
	}
	for index, rule := range f.Watch.SwapPatterns {
		if strings.TrimSpace(rule.Pattern) == "" {
			errs = append(errs, fmt.Errorf("watch.swap-patterns[%d].pattern: required", index))
		}
	}
	if f.Log.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("log.max-size-mb: must not be negative"))
	}
	if f.Server.History < 0 {
		errs = append(errs, fmt.Errorf("server.history: must not be negative"))
	}
	return errors.Join(errs...)
}

// Duration reads Go duration strings or integer milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func intSetting(store keys.Store, key string, fallback int64) int64 {
	if value, ok := store.GetInt(key); ok {
		return value
	}
	return fallback
}

func stringSetting(store keys.Store, key string, fallback string) string {
	if value, ok := store.GetString(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func boolSetting(store keys.Store, key string, fallback bool) bool {
	if value, ok := store.GetBool(key); ok {
		return value
	}
	return fallback
}

func stringsSetting(store keys.Store, key string) []string {
	values, ok := store.GetStrings(key)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
