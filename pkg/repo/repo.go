// Package repo reads the repository side of a compare: a mirror directory
// on local disk or a prefix in S3. Entries come out in walk order, carrying
// what the requested tier needs.
package repo

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/strict-backup/internal/checksum"
	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
)

// IsExcluded reports whether a slash separated relative path matches any of
// the doublestar patterns.
func IsExcluded(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// ValidatePatterns rejects malformed exclude patterns up front, so a bad
// pattern is not reported once per path.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

// Dir walks a mirror directory. Regular files carry their digest at the
// hash tier and their content at the full tier.
func Dir(root string, tier compare.Tier, excludes []string) (entry.Iter[compare.RepoEntry], error) {
	if err := ValidatePatterns(excludes); err != nil {
		return nil, err
	}
	base := entry.NewPath(root)
	filter := func(abs string, e entry.Entry) bool {
		excluded, _ := IsExcluded(e.Index.String(), excludes)
		return !excluded
	}
	w, err := entry.NewWalker(base, filter)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", root, err)
	}

	return entry.Map(entry.Iter[entry.Entry](w), func(e entry.Entry) (compare.RepoEntry, error) {
		r := compare.RepoEntry{Entry: e}
		if !e.IsRegular() {
			return r, nil
		}
		abs := base.Child(e.Index)
		switch tier {
		case compare.Hash:
			sum, err := checksum.File(abs)
			if err != nil {
				return r, fmt.Errorf("hash %s: %w", e.Index, err)
			}
			r.Hash = sum
		case compare.Full:
			data, err := os.ReadFile(abs)
			if err != nil {
				return r, fmt.Errorf("read %s: %w", e.Index, err)
			}
			r.Data = data
		}
		return r, nil
	}), nil
}

func sortEntries(entries []compare.RepoEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Entry.Index.Less(entries[j].Entry.Index)
	})
}

