package repo

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/yuya-takeyama/strict-backup/pkg/compare"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/s3client"
)

// Object metadata keys a backup stores on each S3 object. Missing keys fall
// back to the listing: regular file, LastModified, mode 0644 (0755 for
// directories).
const (
	MetaType  = "type"
	MetaMode  = "mode"  // octal permission bits
	MetaMTime = "mtime" // unix nanoseconds
	MetaUID   = "uid"
	MetaGID   = "gid"
	MetaLink  = "link"
	MetaHash  = "sha256" // base64, used when S3 has no full-object checksum
)

// ObjectStore is the part of *s3client.Client the S3 repository reads with.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]s3client.ItemMetadata, error)
	HeadObject(ctx context.Context, bucket, key string) (*s3client.ObjectInfo, error)
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

type s3Repo struct {
	store   ObjectStore
	bucket  string
	prefix  string
	tier    compare.Tier
	entries []compare.RepoEntry
	keys    map[string]string // index -> object key; synthesized directories have none
	pos     int
}

// S3 reads a repository kept under bucket/prefix. The listing happens up
// front, since S3 lists in key order and walk order differs from it; object
// metadata, digests and content are fetched as entries are consumed.
// Directories are taken from "dir/" marker objects or synthesized from the
// keys below them.
func S3(ctx context.Context, store ObjectStore, bucket, prefix string, tier compare.Tier, excludes []string) (entry.Iter[compare.RepoEntry], error) {
	if err := ValidatePatterns(excludes); err != nil {
		return nil, err
	}

	objects, err := store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	r := &s3Repo{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		tier:   tier,
		keys:   map[string]string{},
	}
	seen := map[string]bool{".": true}
	r.entries = append(r.entries, compare.RepoEntry{Entry: dirEntry(entry.Index{})})

	for _, obj := range objects {
		rel := strings.TrimSuffix(obj.Path, "/")
		if rel == "" {
			continue
		}
		excluded, err := IsExcluded(rel, excludes)
		if err != nil {
			return nil, fmt.Errorf("failed to check exclude pattern for %s: %w", rel, err)
		}
		if excluded || excludedAncestor(rel, excludes) {
			continue
		}

		idx := entry.ParseIndex(rel)
		for i := 1; i < len(idx); i++ {
			parent := idx[:i]
			if !seen[parent.String()] {
				seen[parent.String()] = true
				r.entries = append(r.entries, compare.RepoEntry{Entry: dirEntry(append(entry.Index{}, parent...))})
			}
		}

		key := obj.Path
		if prefix != "" {
			key = prefix + "/" + obj.Path
		}
		if seen[idx.String()] {
			// A marker for an already synthesized directory.
			r.keys[idx.String()] = key
			continue
		}
		seen[idx.String()] = true
		r.keys[idx.String()] = key

		e := entry.Entry{Index: idx, Type: entry.Regular, Size: obj.Size, ModTime: obj.ModTime.UnixNano(), Mode: 0o644, UID: -1, GID: -1}
		if strings.HasSuffix(obj.Path, "/") {
			e = dirEntry(idx)
		}
		r.entries = append(r.entries, compare.RepoEntry{Entry: e})
	}

	sortEntries(r.entries)
	return r, nil
}

func dirEntry(idx entry.Index) entry.Entry {
	return entry.Entry{Index: idx, Type: entry.Dir, Mode: 0o755, UID: -1, GID: -1}
}

// excludedAncestor matches directory patterns like "cache" against
// "cache/x", the way an excluded directory prunes a walk.
func excludedAncestor(rel string, patterns []string) bool {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if excluded, _ := IsExcluded(dir, patterns); excluded {
			return true
		}
	}
	return false
}

// Next implements entry.Iter.
func (r *s3Repo) Next(ctx context.Context) (compare.RepoEntry, error) {
	if err := ctx.Err(); err != nil {
		return compare.RepoEntry{}, err
	}
	if r.pos >= len(r.entries) {
		return compare.RepoEntry{}, io.EOF
	}
	re := r.entries[r.pos]
	r.pos++

	key, ok := r.keys[re.Entry.Index.String()]
	if !ok {
		return re, nil
	}

	info, err := r.store.HeadObject(ctx, r.bucket, key)
	if err != nil {
		return re, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	re.Entry = applyMetadata(re.Entry, info.Metadata)
	if !re.Entry.IsRegular() {
		return re, nil
	}

	switch r.tier {
	case compare.Hash:
		re.Hash = info.Checksum
		if re.Hash == "" {
			re.Hash = info.Metadata[MetaHash]
		}
	case compare.Full:
		if re.Entry.Size > 0 {
			data, err := r.store.Download(ctx, r.bucket, key)
			if err != nil {
				return re, fmt.Errorf("failed to download %s: %w", key, err)
			}
			re.Data = data
		}
	}
	return re, nil
}

func applyMetadata(e entry.Entry, md map[string]string) entry.Entry {
	if t, ok := md[MetaType]; ok && e.Type != entry.Dir {
		e.Type = entry.Type(t)
	}
	if v, err := strconv.ParseUint(md[MetaMode], 8, 32); err == nil {
		e.Mode = uint32(v)
	}
	if v, err := strconv.ParseInt(md[MetaMTime], 10, 64); err == nil {
		e.ModTime = v
	}
	if v, err := strconv.Atoi(md[MetaUID]); err == nil {
		e.UID = v
	}
	if v, err := strconv.Atoi(md[MetaGID]); err == nil {
		e.GID = v
	}
	switch e.Type {
	case entry.Symlink:
		e.LinkTarget = md[MetaLink]
		e.Size = 0
	case entry.Dir:
		e.ModTime = 0
	}
	return e
}
