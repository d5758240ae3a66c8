package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"pathwatch/internal/config"
	"pathwatch/internal/logging"
	"pathwatch/internal/metrics"
	"pathwatch/internal/version"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	format     string

	file      config.File
	logger    atomic.Pointer[logging.Logger]
	registry  *metrics.Registry
	logOutput io.Closer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		registry: metrics.NewRegistry(),
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pathwatch",
		Short: "Watch files and directories and report what changes",
		Long: `pathwatch reports add, addDir, change, unlink and unlinkDir events for
files and directories matched by paths and glob patterns.

Settings come from pathwatch.toml (or --config, TOML or YAML), then the
PATHWATCH_LOG_LEVEL environment variable, then flags.`,
		Version:       version.Current().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultName, "config file (.toml, .yaml or .yml)")
	flags.String("log-level", "", "log level: debug, info, warning or error")
	flags.String("log-file", "", "write logs to this file, rotated by size, instead of stderr")

	root.AddCommand(
		a.watchCommand(),
		a.listCommand(),
		a.serveCommand(),
		a.schemaCommand(),
		a.initCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads the configuration with the flags set on cmd applied over it,
// and opens the log output.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(a.configPath); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", a.configPath)
		}
	}
	file, err := config.Load(a.configPath, flagOverrides(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.file = file

	level, _ := logging.ParseLevel(file.Log.Level)
	output := a.stderr
	if file.Log.File != "" {
		writer, err := logging.NewFileOutput(file.Log.File, file.Log.MaxSizeMB)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logOutput = writer
		output = writer
	}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, output)
	a.logger.Store(logger)
	if file.Source != "" {
		logger.Debug("config loaded", map[string]string{"path": file.Source})
	}
	return nil
}

func (a *app) loggerFor() *logging.Logger {
	if logger := a.logger.Load(); logger != nil {
		return logger
	}
	return logging.Discard()
}

func (a *app) close() {
	if a.logOutput != nil {
		_ = a.logOutput.Close()
		a.logOutput = nil
	}
}

// paths prefers command line arguments over watch.paths.
func (a *app) paths(args []string) ([]string, error) {
	paths := args
	if len(paths) == 0 {
		paths = a.file.Watch.Paths
	}
	var cleaned []string
	for _, path := range paths {
		if path = strings.TrimSpace(path); path != "" {
			cleaned = append(cleaned, path)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("no paths to watch: pass them as arguments or set watch.paths")
	}
	return cleaned, nil
}
