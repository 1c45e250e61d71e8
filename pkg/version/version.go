// Package version reports the build identity of tickwire binaries.
package version

import "runtime/debug"

// AppName names the product in logs, user agents and version responses.
const AppName = "tickwire"

// commit can be injected with
// -ldflags "-X github.com/tickwire/tickwire/pkg/version.commit=<sha>"
// for builds that have no .git directory, e.g. container builds from a
// source tarball.
var commit string

// GitCommit is the abbreviated revision the binary was built from, with a
// "-dirty" suffix for uncommitted changes, or "dev" when no revision is
// known (go test, builds outside a checkout).
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if dirty {
		return short(rev) + "-dirty"
	}
	return short(rev)
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full renders "tickwire/<commit>" for log lines and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}
