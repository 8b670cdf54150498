// Package envfilter strips secret-shaped environment variables from the
// environment handed to an agent subprocess, before any spawn.
package envfilter

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DefaultExcludes is applied ahead of any user-supplied exclude patterns.
var DefaultExcludes = []string{
	"*_API_KEY",
	"*_SECRET_KEY",
	"*_SECRET",
	"*_TOKEN",
	"*_PASSWORD",
}

// Report summarizes what a Filter call did, for startup diagnostics.
type Report struct {
	Blocked []string
	Allowed []string
}

// Filter applies exclude-glob and passthrough-glob matching to env, an
// input slice in `KEY=VALUE` form (as returned by os.Environ), and
// returns the surviving entries in the same form. A key is kept iff it
// matches no exclude pattern, or it matches no exclude pattern but for
// ones also matched by a passthrough pattern.
//
// Glob matching uses `*` (any run) and `?` (one character); matching is
// case-sensitive on every platform except Windows, where environment
// variable names are case-insensitive.
func Filter(env []string, excludePatterns, passthroughPatterns []string) []string {
	kept := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if keep(key, excludePatterns, passthroughPatterns) {
			kept = append(kept, kv)
		}
	}
	return kept
}

// Report classifies each variable in env as blocked or allowed under the
// given patterns, without actually filtering anything. Both lists are
// sorted, for stable diagnostic output.
func BuildReport(env []string, excludePatterns, passthroughPatterns []string) Report {
	var r Report
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if keep(key, excludePatterns, passthroughPatterns) {
			r.Allowed = append(r.Allowed, key)
		} else {
			r.Blocked = append(r.Blocked, key)
		}
	}
	sort.Strings(r.Allowed)
	sort.Strings(r.Blocked)
	return r
}

func keep(key string, excludePatterns, passthroughPatterns []string) bool {
	if !matchesAny(key, excludePatterns) {
		return true
	}
	return matchesAny(key, passthroughPatterns)
}

func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if globMatch(p, key) {
			return true
		}
	}
	return false
}

// globMatch matches name against a glob pattern supporting `*` and `?`,
// case-folded on Windows only, using filepath.Match's semantics over a
// non-path string (env var names never contain path separators, so
// Match's separator handling is a non-issue here).
func globMatch(pattern, name string) bool {
	if runtime.GOOS == "windows" {
		pattern = strings.ToUpper(pattern)
		name = strings.ToUpper(name)
	}
	ok, err := filepath.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}
