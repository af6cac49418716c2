// Package fnmatch translates shell style selection globs into regular
// expressions.
//
// The character class translation is based on Python's fnmatch module from
// the CPython repository.
// Original source: https://github.com/python/cpython/blob/main/Lib/fnmatch.py
//
// Copyright (c) 2001-2024 Python Software Foundation.
// All Rights Reserved.
//
// This Go port is licensed under the MIT License, but includes code derived from
// Python's fnmatch module which is licensed under the Python Software Foundation License Version 2.
//
// Patterns are matched against slash separated paths:
//
//	*       matches any run of characters except '/'
//	**      matches any run of characters including '/'
//	?       matches any single character except '/'
//	[seq]   matches any character in seq
//	[!seq]  matches any character not in seq
//
// A pattern prefixed with "ignorecase:" matches case-insensitively.
package fnmatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const ignoreCasePrefix = "ignorecase:"

// patternCache caches compiled patterns for performance
var patternCache = sync.Map{}

// Pattern is a compiled glob.
type Pattern struct {
	source     string
	ignoreCase bool
	full       *regexp.Regexp
	segments   []*regexp.Regexp // nil entry for a segment containing **
}

// Match tests whether name matches the shell pattern.
func Match(pattern, name string) (bool, error) {
	p, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(name), nil
}

// Compile parses pattern, using a cache for performance.
func Compile(pattern string) (*Pattern, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*Pattern), nil
	}

	p := &Pattern{source: pattern}
	glob := pattern
	if strings.HasPrefix(strings.ToLower(glob), ignoreCasePrefix) {
		p.ignoreCase = true
		glob = glob[len(ignoreCasePrefix):]
	}

	full, err := p.regexp(Translate(glob))
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}
	p.full = full

	for _, seg := range strings.Split(glob, "/") {
		if strings.Contains(seg, "**") {
			p.segments = append(p.segments, nil)
			continue
		}
		re, err := p.regexp(Translate(seg))
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
		}
		p.segments = append(p.segments, re)
	}

	patternCache.Store(pattern, p)
	return p, nil
}

func (p *Pattern) regexp(expr string) (*regexp.Regexp, error) {
	if p.ignoreCase {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

func (p *Pattern) String() string {
	return p.source
}

// Match reports whether name matches the whole pattern.
func (p *Pattern) Match(name string) bool {
	return p.full.MatchString(name)
}

// MatchSelfOrAncestor reports whether name or one of its parent directories
// matches the pattern.
func (p *Pattern) MatchSelfOrAncestor(name string) bool {
	for {
		if p.full.MatchString(name) {
			return true
		}
		i := strings.LastIndexByte(name, '/')
		if i <= 0 {
			return false
		}
		name = name[:i]
	}
}

// MatchDescendant reports whether something below the directory name could
// match the pattern, that is, whether name leads towards a match.
func (p *Pattern) MatchDescendant(name string) bool {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		if i >= len(p.segments) {
			return false
		}
		re := p.segments[i]
		if re == nil {
			return true
		}
		if !re.MatchString(part) {
			return false
		}
	}
	return len(p.segments) > len(parts)
}

// Translate converts a shell pattern to a regular expression string.
func Translate(pattern string) string {
	var result strings.Builder
	result.WriteString("(?s:^") // (?s:...) makes . match newlines, ^ anchors to start

	i := 0
	n := len(pattern)

	for i < n {
		c := pattern[i]
		i++

		switch c {
		case '*':
			if i < n && pattern[i] == '*' {
				for i < n && pattern[i] == '*' {
					i++
				}
				result.WriteString(".*")
			} else {
				result.WriteString("[^/]*")
			}

		case '?':
			result.WriteString("[^/]")

		case '[':
			j := i
			// Check for negation
			if j < n && pattern[j] == '!' {
				j++
			}
			// Check for closing bracket as first character
			if j < n && pattern[j] == ']' {
				j++
			}
			// Find the closing bracket
			for j < n && pattern[j] != ']' {
				j++
			}

			if j >= n {
				// No closing bracket found, treat [ as literal
				result.WriteString("\\[")
			} else {
				stuff := pattern[i:j]
				i = j + 1

				switch {
				case len(stuff) == 0:
					// Go's regexp has no (?!), an impossible class stands in.
					result.WriteString("[^\\x00-\\x{10FFFF}]")
				case stuff == "!":
					result.WriteString("[^/]")
				default:
					result.WriteByte('[')
					if stuff[0] == '!' {
						result.WriteByte('^')
						stuff = stuff[1:]
					}
					result.WriteString(escapeForCharClass(stuff))
					result.WriteByte(']')
				}
			}

		default:
			result.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	result.WriteString("$)") // $ anchors to end
	return result.String()
}

// escapeForCharClass escapes special characters within a character class
func escapeForCharClass(s string) string {
	var result strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', ']', '[':
			result.WriteByte('\\')
			result.WriteByte(c)
		default:
			// Don't escape hyphens - they're needed for ranges
			result.WriteByte(c)
		}
	}
	return result.String()
}
