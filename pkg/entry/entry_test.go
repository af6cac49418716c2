package entry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestIndexCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Index
		want int
	}{
		{"equal", Index{"a", "b"}, Index{"a", "b"}, 0},
		{"root first", Index{}, Index{"a"}, -1},
		{"prefix first", Index{"a"}, Index{"a", "b"}, -1},
		{"segment order", Index{"a", "z"}, Index{"a-b"}, -1},
		{"lexicographic", Index{"b"}, Index{"a", "z"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSameModTime(t *testing.T) {
	const sec = int64(1_700_000_000_000_000_000)
	tests := []struct {
		name string
		a, b int64
		want bool
	}{
		{"equal", sec + 5, sec + 5, true},
		{"both fine", sec + 5, sec + 6, false},
		{"whole second matches within", sec, sec + 999_999_999, true},
		{"whole second on the other side", sec + 1, sec, true},
		{"next second", sec + int64(1e9), sec + 5, false},
		{"before epoch", -int64(1e9), -int64(1e9) + 5, true},
		{"before epoch other second", -int64(1e9), -5, true},
		{"before epoch earlier second", -2 * int64(1e9), -5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameModTime(tt.a, tt.b); got != tt.want {
				t.Errorf("SameModTime(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "."},
		{".", "."},
		{"a/b", "a/b"},
		{"/a/b/", "a/b"},
	}

	for _, tt := range tests {
		if got := ParseIndex(tt.in).String(); got != tt.want {
			t.Errorf("ParseIndex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShiftIndex(t *testing.T) {
	tests := []struct {
		name        string
		root        string
		levels      int
		wantShifted int
		wantIndex   string
	}{
		{"two levels", "/srv/backup/a/b", 2, 2, "a/b"},
		{"no levels", "/srv/backup", 0, 0, "."},
		{"runs out", "/a", 2, 1, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPath(tt.root)
			before := p.Abs()
			got := p.ShiftIndex(tt.levels)
			if got != tt.wantShifted {
				t.Errorf("ShiftIndex() = %d, want %d", got, tt.wantShifted)
			}
			if p.Index.String() != tt.wantIndex {
				t.Errorf("Index = %q, want %q", p.Index.String(), tt.wantIndex)
			}
			if p.Abs() != before {
				t.Errorf("Abs() changed from %q to %q", before, p.Abs())
			}
		})
	}
}

func TestWalkerOrder(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "a/z", "a-b"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, file := range []string{"a/y.txt", "a/z/1.txt", "a-b/x.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(root, file), []byte(file), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := NewWalker(NewPath(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := Collect[Entry](context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{".", "a", "a/y.txt", "a/z", "a/z/1.txt", "a-b", "a-b/x.txt", "c.txt"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Index.String() != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Index.String(), want[i])
		}
		if i > 0 && !entries[i-1].Index.Less(e.Index) {
			t.Errorf("entries %d and %d are out of order", i-1, i)
		}
	}
	if entries[2].Size != int64(len("a/y.txt")) {
		t.Errorf("size of a/y.txt = %d", entries[2].Size)
	}
}

func TestWalkerFilterPrunes(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "skip", "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	filter := func(abs string, e Entry) bool {
		return e.Index.String() != "skip"
	}
	w, err := NewWalker(NewPath(root), filter)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := Collect[Entry](context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want root and keep.txt", len(entries))
	}
}

func TestNewWalkerRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWalker(NewPath(file), nil); err == nil {
		t.Error("NewWalker() on a file should fail")
	}
}
