// Package buildinfo 版本信息: 优先取 -ldflags 注入值, 否则回退到 Go 内嵌的 VCS 信息。
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// 由 -ldflags "-X" 注入。
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

// Info 版本信息。
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Runtime   string `json:"runtime"`
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS() vcsInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return vcsInfo{}
	}
	var v vcsInfo
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.revision = strings.TrimSpace(setting.Value)
		case "vcs.time":
			v.time = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			v.modified = strings.TrimSpace(setting.Value) == "true"
		}
	}
	return v
}

func shortCommit(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

// Current 当前二进制的版本信息。
func Current() Info {
	return resolve(Version, Commit, BuildTime, readVCS())
}

func resolve(version, commit, built string, vcs vcsInfo) Info {
	dirty := ""
	if vcs.modified {
		dirty = "-dirty"
	}

	version = strings.TrimSpace(version)
	if version == "" || version == "dev" {
		version = "dev"
		if vcs.revision != "" {
			version = "dev+" + shortCommit(vcs.revision) + dirty
		}
	}

	commit = strings.TrimSpace(commit)
	if commit == "" || commit == "unknown" {
		commit = "unknown"
		if vcs.revision != "" {
			commit = shortCommit(vcs.revision) + dirty
		}
	}

	built = strings.TrimSpace(built)
	if built == "" || built == "unknown" {
		built = vcs.time
	}
	if built == "" {
		built = "unknown"
	} else if t, err := time.Parse(time.RFC3339, built); err == nil {
		built = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	return Info{
		Version:   version,
		Commit:    commit,
		BuildTime: built,
		Runtime:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
