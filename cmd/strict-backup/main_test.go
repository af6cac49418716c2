package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/internal/config"
	"github.com/yuya-takeyama/strict-backup/pkg/location"
	"github.com/yuya-takeyama/strict-backup/pkg/selection"
)

func TestMain(m *testing.M) {
	config.DefaultPath = filepath.Join(os.TempDir(), "strict-backup-test-missing-config.yaml")
	os.Exit(m.Run())
}

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--quiet", "--verbosity=0"}, args...))
	return cmd.ExecuteContext(context.Background())
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSelectionFlagsKeepOrder(t *testing.T) {
	var rules []selection.Rule
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSelectionFlags(fs, &rules)

	require.NoError(t, fs.Parse([]string{
		"--exclude", "**/*.tmp",
		"--exclude-symbolic-links",
		"--include", "/data/keep",
		"--exclude-fifos=false",
		"--exclude", "**",
	}))
	assert.Equal(t, []selection.Rule{
		{Method: selection.Exclude, Param: "**/*.tmp"},
		{Method: selection.ExcludeSymlinks},
		{Method: selection.Include, Param: "/data/keep"},
		{Method: selection.Exclude, Param: "**"},
	}, rules)
}

func TestRuleSetReadsFiles(t *testing.T) {
	list := filepath.Join(t.TempDir(), "list")
	require.NoError(t, os.WriteFile(list, []byte("a\nb\n"), 0o644))

	rs, err := ruleSet([]selection.Rule{
		{Method: selection.Exclude, Param: "x"},
		{Method: selection.IncludeFilelist, Param: list},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a\nb\n")}, rs.Payloads)

	_, err = ruleSet([]selection.Rule{{Method: selection.ExcludeFilelist, Param: filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, err)
}

func TestBackupRestoreCompare(t *testing.T) {
	for _, api := range []string{"201", "200"} {
		t.Run("api "+api, func(t *testing.T) {
			src := t.TempDir()
			writeFiles(t, src, map[string]string{
				"docs/readme.txt": "hello",
				"docs/skip.tmp":   "scratch",
				"top.txt":         "top",
			})
			backup := filepath.Join(t.TempDir(), "backup")
			plan := filepath.Join(t.TempDir(), "plan.json")

			require.NoError(t, execute("backup", "--api-version", api, "--exclude", "**.tmp", "--plan-json-file", plan, src, backup))
			assert.Equal(t, "hello", readFile(t, filepath.Join(backup, "docs", "readme.txt")))
			assert.NoFileExists(t, filepath.Join(backup, "docs", "skip.tmp"))
			assert.Contains(t, readFile(t, plan), "readme.txt")

			// A populated backup is only written to with --force.
			err := execute("backup", "--api-version", api, src, backup)
			var ce *codeError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, location.CodeNotEmpty, ce.code&location.CodeNotEmpty)

			require.NoError(t, execute("compare", "--api-version", api, "--method", "hash", "--exclude", "**.tmp", src, backup))

			writeFiles(t, src, map[string]string{"top.txt": "changed"})
			assert.Error(t, execute("compare", "--api-version", api, "--method", "full", "--exclude", "**.tmp", src, backup))

			target := filepath.Join(t.TempDir(), "restored", "docs")
			require.NoError(t, execute("restore", "--api-version", api, "--create-full-path", "--sub-path", "docs", backup, target))
			assert.Equal(t, "hello", readFile(t, filepath.Join(target, "readme.txt")))
			assert.NoFileExists(t, filepath.Join(target, "top.txt"))
		})
	}
}

func TestTestCommand(t *testing.T) {
	assert.NoError(t, execute("test", t.TempDir()))
	assert.Error(t, execute("test", filepath.Join(t.TempDir(), "missing")))
}

func TestRejectsBadAPIVersion(t *testing.T) {
	assert.Error(t, execute("test", "--api-version", "150", t.TempDir()))
	assert.Error(t, execute("test", "--api-version", "999", t.TempDir()))
}
