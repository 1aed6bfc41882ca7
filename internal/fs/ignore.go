package fs

import (
	"path/filepath"
	"strings"
)

// DefaultExcludes are the data directory entries never captured in a
// snapshot: caches and the native library link, which the installer
// recreates.
var DefaultExcludes = []string{"cache", "code_cache", "lib"}

// ExcludeMatcher decides which top-level entries of a data directory are
// left out of a snapshot. Patterns use filepath.Match syntax and are matched
// against the entry name.
type ExcludeMatcher struct {
	patterns []string
}

// NewExcludeMatcher creates a matcher from raw patterns. Blank lines and
// lines starting with '#' are skipped. A nil slice selects DefaultExcludes.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	if rawPatterns == nil {
		rawPatterns = DefaultExcludes
	}
	var patterns []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(raw, "/"))
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether the entry name is excluded.
func (m *ExcludeMatcher) Match(name string) bool {
	for _, p := range m.patterns {
		matched, err := filepath.Match(p, name)
		if err != nil {
			// Bad pattern; fall back to a literal comparison.
			matched = p == name
		}
		if matched {
			return true
		}
	}
	return false
}

// Patterns returns the cleaned patterns in use.
func (m *ExcludeMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Filter returns the names that are not excluded, keeping their order.
func (m *ExcludeMatcher) Filter(names []string) []string {
	var kept []string
	for _, n := range names {
		if n == "" || n == "." || n == ".." {
			continue
		}
		if !m.Match(n) {
			kept = append(kept, n)
		}
	}
	return kept
}
