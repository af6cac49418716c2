package fnmatch

import (
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		// Basic wildcards
		{"star matches a segment", "*", "anything", true},
		{"star matches empty", "*", "", true},
		{"star stops at separator", "*", "path/to/file", false},
		{"double star crosses separators", "**", "path/to/file", true},

		// Question mark
		{"question matches single char", "?", "a", true},
		{"question doesn't match empty", "?", "", false},
		{"question doesn't match separator", "?", "/", false},
		{"question matches any char", "???", "abc", true},

		// Path separator handling
		{"star within directory", "/src/*", "/src/file.txt", true},
		{"star not nested", "/src/*", "/src/subdir/file.txt", false},
		{"double star nested", "/src/**", "/src/subdir/deep/file.txt", true},
		{"double star leading", "**.tmp", "/var/cache/file.tmp", true},

		// Character classes
		{"char class single", "[abc]", "a", true},
		{"char class single", "[abc]", "d", false},
		{"char class range", "[a-z]", "m", true},
		{"char class range", "[a-z]", "A", false},
		{"negated char class", "[!abc]", "d", true},
		{"negated char class", "[!abc]", "a", false},
		{"empty class never matches", "[]", "a", false},

		// Case handling
		{"case sensitive by default", "/Data/*.TXT", "/data/a.txt", false},
		{"ignorecase prefix", "ignorecase:/Data/*.TXT", "/data/a.txt", true},

		// Edge cases
		{"empty pattern", "", "", true},
		{"empty pattern no match", "", "something", false},
		{"literal brackets", "[", "[", true},
		{"unclosed bracket", "[abc", "[abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.pattern, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestMatchSelfOrAncestor(t *testing.T) {
	p, err := Compile("/home/user/docs")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		input string
		want  bool
	}{
		{"/home/user/docs", true},
		{"/home/user/docs/a/b.txt", true},
		{"/home/user", false},
		{"/home/user/docs2", false},
	}
	for _, tt := range tests {
		if got := p.MatchSelfOrAncestor(tt.input); got != tt.want {
			t.Errorf("MatchSelfOrAncestor(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMatchDescendant(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"/home/*/docs", "/home", true},
		{"/home/*/docs", "/home/user", true},
		{"/home/*/docs", "/home/user/docs", false},
		{"/home/*/docs", "/var", false},
		{"/home/**/docs", "/home/a/b/c", true},
	}
	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.MatchDescendant(tt.input); got != tt.want {
			t.Errorf("MatchDescendant(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		pattern  string
		expected string
	}{
		{"*", "(?s:^[^/]*$)"},
		{"**", "(?s:^.*$)"},
		{"?", "(?s:^[^/]$)"},
		{"a.b", "(?s:^a\\.b$)"},
	}

	for _, tt := range tests {
		if got := Translate(tt.pattern); got != tt.expected {
			t.Errorf("Translate(%q) = %q, want %q", tt.pattern, got, tt.expected)
		}
	}
}

// Benchmark to ensure performance with cache
func BenchmarkMatch(b *testing.B) {
	pattern := "/src/**/*.go"
	name := "/src/pkg/entry/walk.go"

	for i := 0; i < b.N; i++ {
		_, _ = Match(pattern, name)
	}
}

func BenchmarkMatchNoCache(b *testing.B) {
	name := "/src/pkg/entry/walk.go"

	for i := 0; i < b.N; i++ {
		pattern := "/src/**/*.go"
		// Clear cache to simulate no caching
		patternCache.Delete(pattern)
		_, _ = Match(pattern, name)
	}
}
