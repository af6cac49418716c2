// Package selection compiles ordered include/exclude rules into a filter
// used while walking a location.
package selection

import (
	"bytes"
	"fmt"
	"io"
)

// Selection methods, named after their command line options.
const (
	Include                 = "--include"
	Exclude                 = "--exclude"
	IncludeRegexp           = "--include-regexp"
	ExcludeRegexp           = "--exclude-regexp"
	IncludeFilelist         = "--include-filelist"
	ExcludeFilelist         = "--exclude-filelist"
	IncludeGlobbingFilelist = "--include-globbing-filelist"
	ExcludeGlobbingFilelist = "--exclude-globbing-filelist"
	ExcludeGitignore        = "--exclude-gitignore-filelist"
	ExcludeSymlinks         = "--exclude-symbolic-links"
	ExcludeDeviceFiles      = "--exclude-device-files"
	ExcludeFifos            = "--exclude-fifos"
	ExcludeSockets          = "--exclude-sockets"
	ExcludeSpecialFiles     = "--exclude-special-files"
	ExcludeIfPresent        = "--exclude-if-present"
	MaxFileSize             = "--max-file-size"
	MinFileSize             = "--min-file-size"
)

// Rule is one selection option with its parameter. For methods reading a
// file, Param is the file name and the content travels as a payload.
type Rule struct {
	Method string `json:"method"`
	Param  string `json:"param,omitempty"`
}

func (r Rule) String() string {
	if r.Param == "" {
		return r.Method
	}
	return r.Method + " " + r.Param
}

// RuleSet is an ordered rule list plus the payloads of its file based rules,
// in the same order as those rules.
type RuleSet struct {
	Rules    []Rule   `json:"rules"`
	Payloads [][]byte `json:"payloads,omitempty"`
}

// TakesFile reports whether method consumes a payload.
func TakesFile(method string) bool {
	switch method {
	case IncludeFilelist, ExcludeFilelist,
		IncludeGlobbingFilelist, ExcludeGlobbingFilelist,
		ExcludeGitignore:
		return true
	}
	return false
}

func knownMethod(method string) bool {
	switch method {
	case Include, Exclude, IncludeRegexp, ExcludeRegexp,
		ExcludeSymlinks, ExcludeDeviceFiles, ExcludeFifos, ExcludeSockets,
		ExcludeSpecialFiles, ExcludeIfPresent, MaxFileSize, MinFileSize:
		return true
	}
	return TakesFile(method)
}

// Validate checks that every rule is known and that there is exactly one
// payload per file based rule.
func (rs RuleSet) Validate() error {
	want := 0
	for _, r := range rs.Rules {
		if !knownMethod(r.Method) {
			return fmt.Errorf("unknown selection method %q", r.Method)
		}
		if TakesFile(r.Method) {
			want++
		}
	}
	if want != len(rs.Payloads) {
		return fmt.Errorf("selection rules reference %d files but %d payloads were given", want, len(rs.Payloads))
	}
	return nil
}

// Payloads wraps the raw payloads as streams. The streams are seekable, so
// ReadPayloads can read them again.
func Payloads(rs RuleSet) []io.Reader {
	out := make([]io.Reader, len(rs.Payloads))
	for i, p := range rs.Payloads {
		out[i] = bytes.NewReader(p)
	}
	return out
}

// ReadPayloads drains payload streams back into bytes, rewinding seekable
// ones first so a stream can be sent more than once.
func ReadPayloads[R io.Reader](streams []R) ([][]byte, error) {
	out := make([][]byte, len(streams))
	for i, s := range streams {
		if seeker, ok := any(s).(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind payload %d: %w", i, err)
			}
		}
		b, err := io.ReadAll(s)
		if err != nil {
			return nil, fmt.Errorf("read payload %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// InjectPlatformDefaults prepends an exclusion of symbolic links when the
// peer cannot traverse them safely. It reports whether a rule was added.
func InjectPlatformDefaults(rules []Rule, peerOS string) ([]Rule, bool) {
	if !symlinkUnsafe(peerOS) {
		return rules, false
	}
	for _, r := range rules {
		if r.Method == ExcludeSymlinks {
			return rules, false
		}
	}
	out := make([]Rule, 0, len(rules)+1)
	out = append(out, Rule{Method: ExcludeSymlinks})
	return append(out, rules...), true
}

func symlinkUnsafe(os string) bool {
	return os == "windows"
}
