package compare

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/internal/checksum"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

const mtime = int64(1_700_000_000_123_456_789)

func reg(path, content string) entry.Entry {
	return entry.Entry{Index: entry.ParseIndex(path), Type: entry.Regular, Size: int64(len(content)), ModTime: mtime, Mode: 0o644}
}

func root() entry.Entry {
	return entry.Entry{Index: entry.Index{}, Type: entry.Dir, Mode: 0o755}
}

func repoOf(content map[string]string, entries ...entry.Entry) []RepoEntry {
	out := make([]RepoEntry, len(entries))
	for i, e := range entries {
		out[i] = RepoEntry{Entry: e}
		if c, ok := content[e.Index.String()]; ok {
			out[i].Hash = checksum.Bytes([]byte(c))
			out[i].Data = []byte(c)
		}
	}
	return out
}

func opener(content map[string]string) Opener {
	return func(idx entry.Index) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(content[idx.String()]))), nil
	}
}

func outcomes(t *testing.T, tier Tier, repo []RepoEntry, live []entry.Entry, content map[string]string) []Outcome {
	t.Helper()
	it := Compare(tier, entry.FromSlice(repo), entry.FromSlice(live), opener(content))
	got, err := entry.Collect[Outcome](context.Background(), it)
	require.NoError(t, err)
	return got
}

func TestTierImprecision(t *testing.T) {
	// Same size and mtime, different content.
	repoContent := map[string]string{"f": "hello"}
	liveContent := map[string]string{"f": "jello"}
	repo := repoOf(repoContent, root(), reg("f", "hello"))
	live := []entry.Entry{root(), reg("f", "jello")}

	tests := []struct {
		tier Tier
		want Result
	}{
		{Meta, Same},
		{Hash, Different},
		{Full, Different},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			got := outcomes(t, tt.tier, repo, live, liveContent)
			require.Len(t, got, 2)
			assert.Equal(t, Same, got[0].Result)
			assert.Equal(t, tt.want, got[1].Result)
			assert.Equal(t, tt.tier, got[1].Tier)
		})
	}
}

func TestPositionalMerge(t *testing.T) {
	content := map[string]string{"a": "1", "c": "3"}
	repo := repoOf(content, root(), reg("a", "1"), reg("b", "2"))
	live := []entry.Entry{root(), reg("a", "1"), reg("c", "3")}

	got := outcomes(t, Full, repo, live, content)
	want := []struct {
		path string
		res  Result
	}{
		{".", Same},
		{"a", Same},
		{"b", MissingOnSource},
		{"c", MissingInRepo},
	}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w.path, got[i].Index.String())
		assert.Equal(t, w.res, got[i].Result, w.path)
	}
}

func TestMetaReasons(t *testing.T) {
	base := reg("f", "abc")

	tests := []struct {
		name   string
		modify func(e *entry.Entry)
		want   string
	}{
		{"identical", func(e *entry.Entry) {}, ""},
		{"size", func(e *entry.Entry) { e.Size++ }, "size differs"},
		{"mtime", func(e *entry.Entry) { e.ModTime++ }, "modification time differs"},
		{"mtime kept at whole seconds", func(e *entry.Entry) { e.ModTime -= e.ModTime % int64(time.Second) }, ""},
		{"mtime a second off", func(e *entry.Entry) { e.ModTime -= e.ModTime%int64(time.Second) + int64(time.Second) }, "modification time differs"},
		{"mode", func(e *entry.Entry) { e.Mode = 0o600 }, "permissions differ"},
		{"type", func(e *entry.Entry) { e.Type = entry.Dir }, "type reg != dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.modify(&other)
			assert.Equal(t, tt.want, MetaReason(base, other))
		})
	}
}

func TestOrderViolation(t *testing.T) {
	repo := repoOf(nil, root(), reg("b", ""), reg("a", ""))
	live := []entry.Entry{root(), reg("a", ""), reg("b", "")}

	got := outcomes(t, Meta, repo, live, nil)
	last := got[len(got)-1]
	assert.Equal(t, OrderViolation, last.Result)
	assert.Equal(t, "a", last.Index.String())

	it := Compare(Meta, entry.FromSlice(repo), entry.FromSlice(live), opener(nil))
	_, err := Run(context.Background(), Meta, it)
	assert.ErrorIs(t, err, protocol.ErrOrderViolation)
}

func TestRunReport(t *testing.T) {
	content := map[string]string{"a": "1"}
	repo := repoOf(content, root(), reg("a", "1"), reg("gone", ""))
	live := []entry.Entry{root(), reg("a", "1"), reg("new", "")}

	it := Compare(Hash, entry.FromSlice(repo), entry.FromSlice(live), opener(content))
	report, err := Run(context.Background(), Hash, it)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Compared)
	assert.Equal(t, 2, report.Same)
	assert.Equal(t, 1, report.MissingOnSource)
	assert.Equal(t, 1, report.MissingInRepo)
	assert.False(t, report.Clean())
	assert.Len(t, report.Differences, 2)
}

func TestSameContent(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 100_000)
	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"empty", nil, nil, true},
		{"equal", long, long, true},
		{"prefix", long[:50_000], long, false},
		{"differs at end", long, append(append([]byte{}, long[:99_999]...), 'y'), false},
	}
	for _, tt := range tests {
		got, err := sameContent(bytes.NewReader(tt.a), bytes.NewReader(tt.b))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestParseTier(t *testing.T) {
	for _, s := range []string{"meta", "hash", "full"} {
		tier, err := ParseTier(s)
		require.NoError(t, err)
		assert.Equal(t, Tier(s), tier)
	}
	_, err := ParseTier("fast")
	assert.Error(t, err)
}
