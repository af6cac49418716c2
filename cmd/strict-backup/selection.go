package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

// Selection options keep their command line order, so every option appends
// to one shared list as it is parsed.
var (
	valueRules = []struct{ method, usage string }{
		{selection.Include, "Include paths matching the glob"},
		{selection.Exclude, "Exclude paths matching the glob"},
		{selection.IncludeRegexp, "Include paths matching the regular expression"},
		{selection.ExcludeRegexp, "Exclude paths matching the regular expression"},
		{selection.IncludeFilelist, "Include the paths listed in the file"},
		{selection.ExcludeFilelist, "Exclude the paths listed in the file"},
		{selection.IncludeGlobbingFilelist, "Include the globs listed in the file"},
		{selection.ExcludeGlobbingFilelist, "Exclude the globs listed in the file"},
		{selection.ExcludeGitignore, "Exclude what the gitignore style file ignores"},
		{selection.ExcludeIfPresent, "Exclude directories containing a file of this name"},
		{selection.MaxFileSize, "Exclude regular files larger than this many bytes"},
		{selection.MinFileSize, "Exclude regular files smaller than this many bytes"},
	}
	switchRules = []struct{ method, usage string }{
		{selection.ExcludeSymlinks, "Exclude symbolic links"},
		{selection.ExcludeDeviceFiles, "Exclude device files"},
		{selection.ExcludeFifos, "Exclude named pipes"},
		{selection.ExcludeSockets, "Exclude sockets"},
		{selection.ExcludeSpecialFiles, "Exclude device files, pipes, sockets and symbolic links"},
	}
)

type ruleFlag struct {
	method string
	toggle bool
	rules  *[]selection.Rule
}

func (f *ruleFlag) String() string { return "" }

func (f *ruleFlag) Type() string {
	if f.toggle {
		return "bool"
	}
	return "string"
}

func (f *ruleFlag) Set(v string) error {
	if f.toggle {
		if v == "false" {
			return nil
		}
		v = ""
	}
	*f.rules = append(*f.rules, selection.Rule{Method: f.method, Param: v})
	return nil
}

// addSelectionFlags registers the selection options on fs, collecting them
// into rules in the order given.
func addSelectionFlags(fs *pflag.FlagSet, rules *[]selection.Rule) {
	for _, r := range valueRules {
		fs.Var(&ruleFlag{method: r.method, rules: rules}, strings.TrimPrefix(r.method, "--"), r.usage)
	}
	for _, r := range switchRules {
		name := strings.TrimPrefix(r.method, "--")
		fs.Var(&ruleFlag{method: r.method, toggle: true, rules: rules}, name, r.usage)
		fs.Lookup(name).NoOptDefVal = "true"
	}
}

// ruleSet reads the files of file based rules into payloads.
func ruleSet(rules []selection.Rule) (selection.RuleSet, error) {
	rs := selection.RuleSet{Rules: rules}
	for _, r := range rules {
		if !selection.TakesFile(r.Method) {
			continue
		}
		data, err := os.ReadFile(r.Param)
		if err != nil {
			return rs, fmt.Errorf("%s: %w", r, err)
		}
		rs.Payloads = append(rs.Payloads, data)
	}
	return rs, rs.Validate()
}
