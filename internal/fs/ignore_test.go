package fs

import (
	"reflect"
	"testing"
)

func TestNewExcludeMatcher(t *testing.T) {
	t.Run("nil selects the defaults", func(t *testing.T) {
		t.Parallel()
		m := NewExcludeMatcher(nil)
		if !reflect.DeepEqual(m.patterns, DefaultExcludes) {
			t.Errorf("patterns = %v, want %v", m.patterns, DefaultExcludes)
		}
	})

	t.Run("empty slice excludes nothing", func(t *testing.T) {
		t.Parallel()
		m := NewExcludeMatcher([]string{})
		if m.Match("cache") {
			t.Error("Match(cache) = true with no patterns")
		}
	})

	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewExcludeMatcher([]string{"", "  ", "# comment", "cache/"})
		if len(m.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(m.patterns))
		}
		if m.patterns[0] != "cache" {
			t.Errorf("expected trailing slash trimmed, got %q", m.patterns[0])
		}
	})
}

func TestExcludeMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		entry    string
		want     bool
	}{
		{name: "default cache", patterns: nil, entry: "cache", want: true},
		{name: "default code_cache", patterns: nil, entry: "code_cache", want: true},
		{name: "default lib", patterns: nil, entry: "lib", want: true},
		{name: "shared_prefs kept", patterns: nil, entry: "shared_prefs", want: false},
		{name: "prefix is not a match", patterns: nil, entry: "cache2", want: false},
		{name: "glob", patterns: []string{"*.tmp"}, entry: "x.tmp", want: true},
		{name: "bad pattern compares literally", patterns: []string{"[oops"}, entry: "[oops", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewExcludeMatcher(tt.patterns)
			if got := m.Match(tt.entry); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.entry, got, tt.want)
			}
		})
	}
}

func TestExcludeMatcher_Filter(t *testing.T) {
	m := NewExcludeMatcher(nil)
	got := m.Filter([]string{"databases", "cache", "", "lib", "files", "code_cache", "shared_prefs"})
	want := []string{"databases", "files", "shared_prefs"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}

	if got := m.Filter([]string{"cache", "lib"}); got != nil {
		t.Errorf("Filter() = %v, want nil", got)
	}
}
