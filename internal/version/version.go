// Package version reports build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Set at build time, for example
// -ldflags "-X pathwatch/internal/version.Version=1.2.0".
var (
	Version   = "dev"
	Built     = ""
	GitCommit = ""
)

type Info struct {
	Version   string `json:"version" yaml:"version"`
	Major     int    `json:"major" yaml:"major"`
	Minor     int    `json:"minor" yaml:"minor"`
	Patch     int    `json:"patch" yaml:"patch"`
	Built     string `json:"built,omitempty" yaml:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current parses Version as semver. A missing commit is filled from the
// VCS stamp the Go toolchain embeds.
func Current() Info {
	info := Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
	info.Major, info.Minor, info.Patch = parseSemver(Version)
	if build, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = build.GoVersion
		if info.GitCommit == "" {
			for _, setting := range build.Settings {
				if setting.Key == "vcs.revision" {
					info.GitCommit = setting.Value
				}
			}
		}
	}
	return info
}

func (info Info) String() string {
	text := "pathwatch " + info.Version
	if info.GitCommit != "" {
		commit := info.GitCommit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		text += fmt.Sprintf(" (%s)", commit)
	}
	if info.Built != "" {
		text += " built " + info.Built
	}
	return text
}

func parseSemver(value string) (int, int, int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "v")
	if cut := strings.IndexAny(value, "-+"); cut >= 0 {
		value = value[:cut]
	}
	parts := strings.SplitN(value, ".", 3)
	numbers := [3]int{}
	for i, part := range parts {
		parsed, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0
		}
		numbers[i] = parsed
	}
	return numbers[0], numbers[1], numbers[2]
}
