package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="},
		{"hello", "hello", "LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Reader() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Reader() = %v, want %v", got, tt.want)
			}
			if b := Bytes([]byte(tt.input)); b != got {
				t.Errorf("Bytes() = %v, want %v", b, got)
			}
		})
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != Bytes([]byte("hello")) {
		t.Errorf("File() = %v", got)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("File() on a missing file should fail")
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write([]byte("hel"))
	w.Write([]byte("lo"))

	if buf.String() != "hello" {
		t.Errorf("wrapped writer got %q", buf.String())
	}
	if w.Written() != 5 {
		t.Errorf("Written() = %d, want 5", w.Written())
	}
	if w.Sum() != Bytes([]byte("hello")) {
		t.Errorf("Sum() = %v", w.Sum())
	}
}

func TestEqual(t *testing.T) {
	if Equal("", "") {
		t.Error("empty digests must not match")
	}
	if !Equal("abc", "abc") {
		t.Error("identical digests must match")
	}
}
