package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// configKeys maps flags to the config keys they override. Only flags the
// user actually set are applied.
var configKeys = map[string]string{
	"log-level":                "log.level",
	"log-file":                 "log.file",
	"cwd":                      "watch.cwd",
	"depth":                    "watch.depth",
	"ignore":                   "watch.ignored",
	"ignore-initial":           "watch.ignore-initial",
	"follow-symlinks":          "watch.follow-symlinks",
	"persistent":               "watch.persistent",
	"polling":                  "watch.use-polling",
	"interval":                 "watch.interval",
	"binary-interval":          "watch.binary-interval",
	"atomic":                   "watch.atomic",
	"coalesce":                 "watch.coalesce",
	"await-write-finish":       "watch.await-write-finish",
	"stability-threshold":      "watch.stability-threshold",
	"poll-interval":            "watch.poll-interval",
	"max-watches":              "watch.max-watches",
	"disable-globbing":         "watch.disable-globbing",
	"ignore-permission-errors": "watch.ignore-permission-errors",
	"addr":                     "server.addr",
	"history":                  "server.history",
}

func addWatchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("cwd", "", "resolve relative paths against this directory and print paths relative to it")
	flags.Int("depth", -1, "levels to recurse below each path; -1 is unlimited")
	flags.StringSlice("ignore", nil, "glob patterns to ignore (repeatable)")
	flags.Bool("ignore-initial", false, "do not report entries found by the initial scan")
	flags.Bool("follow-symlinks", true, "report symlink targets instead of the links themselves")
	flags.Bool("polling", false, "poll with stat instead of using native notifications")
	flags.Duration("interval", 0, "polling interval")
	flags.Duration("binary-interval", 0, "polling interval for binary files")
	flags.Duration("atomic", 0, "window in which a removed and re-created file is a change; 0 disables")
	flags.Duration("coalesce", 0, "merge raw notifications for one path within this window; 0 disables")
	flags.Bool("await-write-finish", false, "hold add and change until the file size stops changing")
	flags.Duration("stability-threshold", 0, "how long a file must stay unchanged with --await-write-finish")
	flags.Duration("poll-interval", 0, "how often to check files with --await-write-finish")
	flags.Int("max-watches", 0, "limit native directory watches; 0 is no limit")
	flags.Bool("disable-globbing", false, "treat paths literally")
	flags.Bool("ignore-permission-errors", false, "skip unreadable paths without reporting an error")
}

func addFormatFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "format", "text", "output format: text, json or yaml")
}

func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	flags := cmd.Flags()
	for name, key := range configKeys {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		var value any
		var err error
		switch flag.Value.Type() {
		case "bool":
			value, err = flags.GetBool(name)
		case "int":
			value, err = flags.GetInt(name)
		case "duration":
			value, err = flags.GetDuration(name)
		case "stringSlice":
			value, err = flags.GetStringSlice(name)
		default:
			value = strings.TrimSpace(flag.Value.String())
		}
		// A relative --cwd is relative to the process, not the config file.
		if name == "cwd" && err == nil {
			if text, _ := value.(string); text != "" {
				value, err = filepath.Abs(text)
			}
		}
		if err != nil {
			continue
		}
		overrides[key] = value
	}
	return overrides
}
