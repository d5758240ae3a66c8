package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"pathwatch"
	"pathwatch/internal/api"
	"pathwatch/internal/config"
	"pathwatch/internal/schema"
	"pathwatch/internal/version"
	"pathwatch/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func (a *app) newWatcher(configure func(*watcher.Options)) (*watcher.Watcher, error) {
	options := a.file.WatcherOptions()
	options.Logger = a.loggerFor()
	options.Registry = a.registry
	options.HistorySize = a.file.Server.History
	if configure != nil {
		configure(&options)
	}
	return watcher.NewWithOptions(options)
}

func (a *app) watchCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Print events for paths and glob patterns until interrupted",
		Example: `  pathwatch watch src 'docs/**/*.md'
  pathwatch watch --format json --ignore '*.tmp' .`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			out, err := newFormatter(a.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			paths, err := a.paths(args)
			if err != nil {
				return err
			}
			w, err := a.newWatcher(nil)
			if err != nil {
				return err
			}
			defer w.Close()

			ops := append([]watcher.Op{}, watcher.SemanticOps...)
			ops = append(ops, watcher.OpReady, watcher.OpError)
			if raw {
				ops = append(ops, watcher.OpRaw)
			}
			events, cancel := w.Subscribe(ops...)
			defer cancel()
			if err := w.Add(paths...); err != nil {
				return err
			}
			return a.stream(cmd.Context(), w, events, out)
		},
	}
	addWatchFlags(cmd)
	addFormatFlag(cmd, &a.format)
	cmd.Flags().Bool("persistent", true, "keep watching after the initial scan")
	cmd.Flags().BoolVar(&raw, "raw", false, "also print raw backend notifications")
	return cmd
}

// stream prints events until ctx is cancelled or the watcher stops.
func (a *app) stream(ctx context.Context, w *watcher.Watcher, events <-chan watcher.Event, out formatter) error {
	defer out.Close()
	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := out.Event(event); err != nil {
				return err
			}
		}
	}
}

func (a *app) listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [path...]",
		Short: "Scan paths once and print the watched directories and their entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			out, err := newFormatter(a.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer out.Close()
			paths, err := a.paths(args)
			if err != nil {
				return err
			}
			w, err := a.newWatcher(func(options *watcher.Options) {
				options.Persistent = false
			})
			if err != nil {
				return err
			}
			defer w.Close()

			logger := a.loggerFor()
			stop := w.On(watcher.OpError, func(event watcher.Event) {
				logger.Warn("scan error", map[string]string{"path": event.Path, "error": event.Err.Error()})
			})
			defer stop()
			if err := w.Add(paths...); err != nil {
				return err
			}
			select {
			case <-w.Done():
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			return out.Watched(w.GetWatched())
		},
	}
	addWatchFlags(cmd)
	addFormatFlag(cmd, &a.format)
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "serve [path...]",
		Short: "Watch paths and serve events over HTTP and websocket",
		Long: `serve watches paths and exposes them over HTTP:

  /events    websocket stream, ?ops=add,change&replay=N
  /watched   watched directories, ?dir= for one directory
  /logs      recent log entries, ?level=&limit=&since=&category=
  /metrics   Prometheus metrics
  /healthz   watcher state`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			paths, err := a.paths(args)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("PATHWATCH_TOKEN")
			}
			return a.serve(cmd, paths, token)
		},
	}
	addWatchFlags(cmd)
	cmd.Flags().Bool("persistent", true, "keep serving after the initial scan")
	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	cmd.Flags().Int("history", 0, "events kept for replay (default from server.history)")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token (default $PATHWATCH_TOKEN)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, paths []string, token string) error {
	ctx := cmd.Context()
	logger := a.loggerFor()
	w, err := a.newWatcher(nil)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", a.file.Server.Addr)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("listen on %s: %w", a.file.Server.Addr, err)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RoutesConfig{
		Source:    w,
		Logger:    logger,
		Registry:  a.registry,
		AuthToken: token,
	})
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "serving on http://%s\n", listener.Addr())
	logger.Info("server listening", map[string]string{"addr": listener.Addr().String()})

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", server.Shutdown)
	coordinator.Add("watcher", func(context.Context) error {
		return w.Close()
	})

	var runErr error
	if err := w.Add(paths...); err != nil {
		runErr = err
	} else {
		select {
		case <-ctx.Done():
		case <-w.Done():
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("serve: %w", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, coordinator.Run(shutdownCtx))
}

func schemaRegistry() *schema.Registry {
	registry := schema.NewRegistry()
	_ = registry.Register("config", config.Schema)
	_ = registry.Register("event", func() *jsonschema.Schema {
		generated := schema.Generate(&watcher.Record{})
		generated.Title = "pathwatch event"
		return generated
	})
	return registry
}

func (a *app) schemaCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "schema [name]",
		Short: "Print the JSON schema for the config file or for events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := schemaRegistry()
			if list {
				for _, name := range registry.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			name := "config"
			if len(args) == 1 {
				name = args[0]
			}
			resolved, err := registry.Resolve(name)
			if err != nil {
				return err
			}
			payload, err := json.MarshalIndent(resolved, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", payload)
			return err
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list schema names")
	return cmd
}

func (a *app) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write the default pathwatch.toml, keeping local edits",
		Long: `init writes the default configuration into dir (default ".").

A file that was edited since the last init is kept, and the new default is
written next to it with a .new suffix. --force replaces it and keeps the
edited copy with a .bck suffix.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			results, err := config.Install(pathwatch.EmbeddedConfigFS, dir, config.InstallOptions{
				Force:  force,
				Logger: a.loggerFor(),
			})
			for _, result := range results {
				line := fmt.Sprintf("%-9s %s", result.Decision, result.Path)
				if result.Written != "" && result.Written != result.Path {
					line += " -> " + result.Written
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace locally modified files")
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Current().String())
			return err
		},
	}
}
