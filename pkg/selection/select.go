package selection

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/fnmatch"
)

// Decision is the verdict of a rule on one entry.
type Decision int

const (
	// NoOpinion lets the next rule decide.
	NoOpinion Decision = iota
	Included
	Excluded
)

func (d Decision) String() string {
	switch d {
	case Included:
		return "included"
	case Excluded:
		return "excluded"
	}
	return "no opinion"
}

type matcher func(abs string, e entry.Entry) Decision

// Select is a compiled rule set bound to a base directory.
type Select struct {
	base     string
	rules    []Rule
	matchers []matcher
}

// Compile builds the selection for base, resolved against the working
// directory when relative. payloads are consumed in order by the rules that
// take a file.
func Compile(base string, rules []Rule, payloads ...io.Reader) (*Select, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve selection base: %w", err)
	}
	s := &Select{
		base:  filepath.ToSlash(abs),
		rules: append([]Rule(nil), rules...),
	}
	next := 0
	for _, r := range rules {
		var payload io.Reader
		if TakesFile(r.Method) {
			if next >= len(payloads) {
				return nil, fmt.Errorf("no payload for %s", r)
			}
			payload = payloads[next]
			next++
		}
		m, err := s.compileRule(r, payload)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", r, err)
		}
		s.matchers = append(s.matchers, m)
	}
	if next != len(payloads) {
		return nil, fmt.Errorf("%d payloads left unused", len(payloads)-next)
	}
	return s, nil
}

// Rules returns the rules the selection was compiled from.
func (s *Select) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Decide applies the rules in order; the first rule with an opinion wins and
// entries no rule talks about are included. The base itself is always
// included. A relative abs is resolved against the working directory.
func (s *Select) Decide(abs string, e entry.Entry) Decision {
	if len(e.Index) == 0 {
		return Included
	}
	if !filepath.IsAbs(abs) {
		if resolved, err := filepath.Abs(abs); err == nil {
			abs = resolved
		}
	}
	abs = filepath.ToSlash(abs)
	for _, m := range s.matchers {
		if d := m(abs, e); d != NoOpinion {
			return d
		}
	}
	return Included
}

// Filter adapts the selection for entry.Walker.
func (s *Select) Filter() entry.Filter {
	if s == nil || len(s.matchers) == 0 {
		return nil
	}
	return func(abs string, e entry.Entry) bool {
		return s.Decide(abs, e) != Excluded
	}
}

func (s *Select) compileRule(r Rule, payload io.Reader) (matcher, error) {
	switch r.Method {
	case Include, Exclude:
		return s.globMatcher(r.Param, r.Method == Include)
	case IncludeRegexp, ExcludeRegexp:
		re, err := regexp.Compile(r.Param)
		if err != nil {
			return nil, err
		}
		verdict := verdictFor(r.Method == IncludeRegexp)
		return func(abs string, e entry.Entry) Decision {
			if re.MatchString(abs) {
				return verdict
			}
			return NoOpinion
		}, nil
	case IncludeFilelist, ExcludeFilelist:
		return s.filelistMatcher(payload, r.Method == IncludeFilelist, false)
	case IncludeGlobbingFilelist, ExcludeGlobbingFilelist:
		return s.filelistMatcher(payload, r.Method == IncludeGlobbingFilelist, true)
	case ExcludeGitignore:
		return s.gitignoreMatcher(payload)
	case ExcludeSymlinks:
		return typeMatcher(entry.Symlink), nil
	case ExcludeDeviceFiles:
		return typeMatcher(entry.Device), nil
	case ExcludeFifos:
		return typeMatcher(entry.Fifo), nil
	case ExcludeSockets:
		return typeMatcher(entry.Socket), nil
	case ExcludeSpecialFiles:
		return typeMatcher(entry.Device, entry.Fifo, entry.Socket, entry.Symlink), nil
	case ExcludeIfPresent:
		name := r.Param
		return func(abs string, e entry.Entry) Decision {
			if !e.IsDir() {
				return NoOpinion
			}
			if _, err := os.Lstat(filepath.Join(filepath.FromSlash(abs), name)); err == nil {
				return Excluded
			}
			return NoOpinion
		}, nil
	case MaxFileSize, MinFileSize:
		limit, err := strconv.ParseInt(r.Param, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size: %w", err)
		}
		isMax := r.Method == MaxFileSize
		return func(abs string, e entry.Entry) Decision {
			if !e.IsRegular() {
				return NoOpinion
			}
			if (isMax && e.Size > limit) || (!isMax && e.Size < limit) {
				return Excluded
			}
			return NoOpinion
		}, nil
	}
	return nil, fmt.Errorf("unknown selection method %q", r.Method)
}

func verdictFor(include bool) Decision {
	if include {
		return Included
	}
	return Excluded
}

// absPattern anchors a relative glob at the base directory.
func (s *Select) absPattern(glob string) string {
	prefix := ""
	if strings.HasPrefix(strings.ToLower(glob), "ignorecase:") {
		prefix, glob = glob[:len("ignorecase:")], glob[len("ignorecase:"):]
	}
	glob = filepath.ToSlash(glob)
	if !strings.HasPrefix(glob, "/") && !strings.HasPrefix(glob, "**") {
		glob = strings.TrimSuffix(s.base, "/") + "/" + glob
	}
	return prefix + strings.TrimSuffix(glob, "/")
}

func (s *Select) globMatcher(glob string, include bool) (matcher, error) {
	p, err := fnmatch.Compile(s.absPattern(glob))
	if err != nil {
		return nil, err
	}
	if !include {
		return func(abs string, e entry.Entry) Decision {
			if p.MatchSelfOrAncestor(abs) {
				return Excluded
			}
			return NoOpinion
		}, nil
	}
	return func(abs string, e entry.Entry) Decision {
		if p.MatchSelfOrAncestor(abs) {
			return Included
		}
		if e.IsDir() && p.MatchDescendant(abs) {
			return Included
		}
		return NoOpinion
	}, nil
}

// filelistMatcher reads one path (or glob) per line. Lines starting with
// "+ " or "- " override the list's default verdict; '#' starts a comment.
func (s *Select) filelistMatcher(r io.Reader, include, globbing bool) (matcher, error) {
	type line struct {
		pattern *fnmatch.Pattern
		verdict Decision
	}
	var lines []line

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		verdict := verdictFor(include)
		switch {
		case strings.HasPrefix(text, "+ "):
			verdict, text = Included, text[2:]
		case strings.HasPrefix(text, "- "):
			verdict, text = Excluded, text[2:]
		}
		if !globbing {
			text = escapeGlob(text)
		}
		p, err := fnmatch.Compile(s.absPattern(text))
		if err != nil {
			return nil, err
		}
		lines = append(lines, line{pattern: p, verdict: verdict})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read filelist: %w", err)
	}

	return func(abs string, e entry.Entry) Decision {
		for _, l := range lines {
			if l.pattern.MatchSelfOrAncestor(abs) {
				return l.verdict
			}
			if l.verdict == Included && e.IsDir() && l.pattern.MatchDescendant(abs) {
				return Included
			}
		}
		return NoOpinion
	}, nil
}

func (s *Select) gitignoreMatcher(r io.Reader) (matcher, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gitignore: %w", err)
	}
	lines := strings.Split(string(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))), "\n")
	ignore := gitignore.CompileIgnoreLines(lines...)
	return func(abs string, e entry.Entry) Decision {
		rel := e.Index.String()
		if e.IsDir() {
			rel += "/"
		}
		if ignore.MatchesPath(rel) {
			return Excluded
		}
		return NoOpinion
	}, nil
}

func typeMatcher(types ...entry.Type) matcher {
	return func(abs string, e entry.Entry) Decision {
		for _, t := range types {
			if e.Type == t {
				return Excluded
			}
		}
		return NoOpinion
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(c)
			b.WriteByte(']')
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
