// Package version derives the build version for logs and the health
// endpoint. An -ldflags override takes priority, then vcs.revision from
// debug.BuildInfo, then the "dev" fallback:
//
//	version.Full()  // "taskwave/4c10d9e2", or "taskwave/dev" under go test
package version

import "runtime/debug"

// AppName prefixes version strings in logs and user agents.
const AppName = "taskwave"

// gitCommitOverride is set with -ldflags for builds without a .git
// directory, such as container image builds.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when no build info exists.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "taskwave/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
