package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"pathwatch/internal/watcher"
)

const timeLayout = "15:04:05.000"

type formatter interface {
	Event(event watcher.Event) error
	Watched(watched map[string][]string) error
	Close() error
}

func newFormatter(format string, out io.Writer) (formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return &textFormatter{out: out}, nil
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetEscapeHTML(false)
		return &jsonFormatter{encoder: encoder}, nil
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return &yamlFormatter{encoder: encoder}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: want text, json or yaml", format)
	}
}

type textFormatter struct {
	out io.Writer
}

func (f *textFormatter) Event(event watcher.Event) error {
	var line strings.Builder
	line.WriteString(event.Time.Format(timeLayout))
	fmt.Fprintf(&line, " %-9s", event.Op)
	if event.Path != "" {
		line.WriteString(" ")
		line.WriteString(event.Path)
	}
	switch {
	case event.Err != nil:
		line.WriteString(" ")
		line.WriteString(event.Err.Error())
	case event.Raw != nil:
		fmt.Fprintf(&line, " (%s %s)", event.Raw.Kind, event.Raw.Op)
	case event.Info != nil && !event.Info.IsDir():
		fmt.Fprintf(&line, " (%s)", humanize.Bytes(uint64(max(event.Info.Size(), 0))))
	}
	line.WriteString("\n")
	_, err := io.WriteString(f.out, line.String())
	return err
}

func (f *textFormatter) Watched(watched map[string][]string) error {
	for _, dir := range sortedKeys(watched) {
		if _, err := fmt.Fprintf(f.out, "%s\n", dir); err != nil {
			return err
		}
		for _, name := range watched[dir] {
			if _, err := fmt.Fprintf(f.out, "  %s\n", name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *textFormatter) Close() error { return nil }

// jsonFormatter writes one JSON document per line.
type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) Event(event watcher.Event) error {
	return f.encoder.Encode(event.Record())
}

func (f *jsonFormatter) Watched(watched map[string][]string) error {
	return f.encoder.Encode(watched)
}

func (f *jsonFormatter) Close() error { return nil }

// yamlFormatter writes a YAML stream, one document per event.
type yamlFormatter struct {
	encoder *yaml.Encoder
}

func (f *yamlFormatter) Event(event watcher.Event) error {
	return f.encoder.Encode(event.Record())
}

func (f *yamlFormatter) Watched(watched map[string][]string) error {
	return f.encoder.Encode(watched)
}

func (f *yamlFormatter) Close() error {
	return f.encoder.Close()
}

func sortedKeys(values map[string][]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
